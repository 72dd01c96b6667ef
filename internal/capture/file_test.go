package capture

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func writeTestPcap(t *testing.T, count int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create pcap file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(1600, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("failed to write pcap header: %v", err)
	}

	base := time.Now()
	for i := 0; i < count; i++ {
		buf := gopacket.NewSerializeBuffer()
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")}
		udp := &layers.UDP{SrcPort: 1000, DstPort: 2000}
		udp.SetNetworkLayerForChecksum(ip)
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp); err != nil {
			t.Fatalf("failed to serialize packet: %v", err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data), Length: len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("failed to write packet: %v", err)
		}
	}
	return path
}

func TestFileSourceReplaysAllFrames(t *testing.T) {
	path := writeTestPcap(t, 25)
	src, err := NewFileSource(path, 8)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	defer src.Close()

	count := 0
	for frame := range src.Frames() {
		if len(frame.Data) == 0 {
			t.Error("frame with empty data")
		}
		if frame.LinkType != layers.LinkTypeEthernet {
			t.Errorf("link type = %v, want ethernet", frame.LinkType)
		}
		count++
	}
	if count != 25 {
		t.Errorf("replayed %d frames, want 25", count)
	}
	if got := src.Stats().Received; got != 25 {
		t.Errorf("received counter = %d, want 25", got)
	}
}

func TestFileSourceRewind(t *testing.T) {
	path := writeTestPcap(t, 5)
	src, err := NewFileSource(path, 8)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	for range src.Frames() {
	}

	src2, err := src.Rewind()
	if err != nil {
		t.Fatalf("Rewind failed: %v", err)
	}
	defer src2.Close()

	count := 0
	for range src2.Frames() {
		count++
	}
	if count != 5 {
		t.Errorf("rewound replay yielded %d frames, want 5", count)
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	if _, err := NewFileSource(filepath.Join(t.TempDir(), "nope.pcap"), 8); err == nil {
		t.Fatal("expected error for missing pcap file")
	}
}
