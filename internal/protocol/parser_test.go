package protocol

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"nipi/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("failed to serialize layers: %v", err)
	}
	return buf.Bytes()
}

func tcpFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, flags model.TCPFlags, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(srcIP), DstIP: net.ParseIP(dstIP),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort),
		SYN: flags.SYN, ACK: flags.ACK, FIN: flags.FIN, RST: flags.RST,
		Window: 65535,
	}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

func frame(data []byte) model.RawFrame {
	return model.RawFrame{Data: data, Timestamp: time.Now(), LinkType: layers.LinkTypeEthernet}
}

func TestParseTCPRoundTrip(t *testing.T) {
	payload := []byte("GET / HTTP/1.1\r\n\r\n")
	data := tcpFrame(t, "192.0.2.10", "198.51.100.20", 40000, 80, model.TCPFlags{SYN: true}, payload)

	rec, rej := NewParser().Parse(frame(data))
	if rej != nil {
		t.Fatalf("unexpected reject: %v (%v)", rej.Reason, rej.Err)
	}
	if rec.SrcIP.String() != "192.0.2.10" || rec.DstIP.String() != "198.51.100.20" {
		t.Errorf("addresses = %v -> %v", rec.SrcIP, rec.DstIP)
	}
	if rec.SrcPort != 40000 || rec.DstPort != 80 {
		t.Errorf("ports = %d -> %d", rec.SrcPort, rec.DstPort)
	}
	if rec.Proto != model.ProtoTCP {
		t.Errorf("proto = %v, want tcp", rec.Proto)
	}
	if !rec.Flags.SYN || rec.Flags.ACK || rec.Flags.FIN || rec.Flags.RST {
		t.Errorf("flags = %+v, want SYN only", rec.Flags)
	}
	if rec.PayloadLen != len(payload) {
		t.Errorf("payload len = %d, want %d", rec.PayloadLen, len(payload))
	}
	if rec.Length != len(data) {
		t.Errorf("frame length = %d, want %d", rec.Length, len(data))
	}
	if rec.TTL != 64 {
		t.Errorf("ttl = %d, want 64", rec.TTL)
	}
}

func TestParseUDPOverIPv6(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv6,
	}
	ip := &layers.IPv6{
		Version: 6, HopLimit: 55, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	data := serialize(t, eth, ip, udp, gopacket.Payload([]byte{0xde, 0xad}))

	rec, rej := NewParser().Parse(frame(data))
	if rej != nil {
		t.Fatalf("unexpected reject: %v", rej.Reason)
	}
	if rec.Proto != model.ProtoUDP || rec.SrcPort != 5353 || rec.DstPort != 53 {
		t.Errorf("got %v %d->%d, want udp 5353->53", rec.Proto, rec.SrcPort, rec.DstPort)
	}
	if rec.SrcIP.String() != "2001:db8::1" {
		t.Errorf("src = %v", rec.SrcIP)
	}
	if rec.TTL != 55 {
		t.Errorf("hop limit = %d, want 55", rec.TTL)
	}
}

func TestParseICMP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	data := serialize(t, eth, ip, icmp, gopacket.Payload([]byte("ping")))

	rec, rej := NewParser().Parse(frame(data))
	if rej != nil {
		t.Fatalf("unexpected reject: %v", rej.Reason)
	}
	if rec.Proto != model.ProtoICMP {
		t.Errorf("proto = %v, want icmp", rec.Proto)
	}
	if rec.SrcPort != 0 || rec.DstPort != 0 {
		t.Errorf("icmp ports = %d/%d, want 0/0", rec.SrcPort, rec.DstPort)
	}
}

func TestParseUnknownTransportIsOther(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolGRE,
		SrcIP: net.ParseIP("10.0.0.1"), DstIP: net.ParseIP("10.0.0.2")}
	data := serialize(t, eth, ip, gopacket.Payload([]byte{1, 2, 3, 4}))

	rec, rej := NewParser().Parse(frame(data))
	if rej != nil {
		t.Fatalf("unexpected reject: %v", rej.Reason)
	}
	if rec.Proto != model.ProtoOther {
		t.Errorf("proto = %v, want other", rec.Proto)
	}
	if !rec.Partial {
		t.Error("record for unknown transport should be marked partial")
	}
	if rec.PayloadLen != 0 {
		t.Errorf("parsed payload = %d, want 0", rec.PayloadLen)
	}
}

func TestParseNonIPRejected(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: make([]byte, 6), SourceProtAddress: make([]byte, 4),
		DstHwAddress: make([]byte, 6), DstProtAddress: make([]byte, 4),
	}
	data := serialize(t, eth, arp)

	_, rej := NewParser().Parse(frame(data))
	if rej == nil || rej.Reason != ReasonNonIP {
		t.Fatalf("expected non-ip reject, got %v", rej)
	}
}

func TestParseUnsupportedLinkType(t *testing.T) {
	_, rej := NewParser().Parse(model.RawFrame{
		Data: []byte{1, 2, 3, 4}, Timestamp: time.Now(), LinkType: layers.LinkTypePPP,
	})
	if rej == nil || rej.Reason != ReasonUnsupportedLink {
		t.Fatalf("expected unsupported-link reject, got %v", rej)
	}
}

// Truncating a valid frame at any byte boundary must never produce an
// out-of-bounds read; the parser either rejects the prefix or returns a
// record for whichever layers fit.
func TestParseTruncationNeverPanics(t *testing.T) {
	full := tcpFrame(t, "192.0.2.10", "198.51.100.20", 40000, 80, model.TCPFlags{ACK: true}, []byte("data"))
	p := NewParser()

	for cut := 0; cut < len(full); cut++ {
		rec, rej := p.Parse(frame(full[:cut]))
		if rec == nil && rej == nil {
			t.Fatalf("cut=%d: neither record nor reject", cut)
		}
		if rec != nil && rej != nil {
			t.Fatalf("cut=%d: both record and reject", cut)
		}
	}

	// Frames shorter than the Ethernet header are always rejected.
	for cut := 0; cut < 14; cut++ {
		if _, rej := p.Parse(frame(full[:cut])); rej == nil {
			t.Errorf("cut=%d: expected reject for sub-header frame", cut)
		}
	}
}

func TestParseRandomBytesNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	p := NewParser()
	for i := 0; i < 2000; i++ {
		data := make([]byte, rng.Intn(256))
		rng.Read(data)
		p.Parse(frame(data))
	}
}

func TestFlowHashDirectionSymmetry(t *testing.T) {
	fwd := tcpFrame(t, "192.0.2.10", "198.51.100.20", 40000, 80, model.TCPFlags{}, nil)
	rev := tcpFrame(t, "198.51.100.20", "192.0.2.10", 80, 40000, model.TCPFlags{}, nil)
	if FlowHash(fwd) != FlowHash(rev) {
		t.Error("FlowHash differs between directions of the same flow")
	}

	other := tcpFrame(t, "192.0.2.10", "198.51.100.21", 40000, 80, model.TCPFlags{}, nil)
	if FlowHash(fwd) == FlowHash(other) {
		t.Error("FlowHash should differ for distinct flows (unlucky collision?)")
	}
}

func TestFlowHashShortFrames(t *testing.T) {
	for n := 0; n < 64; n++ {
		FlowHash(make([]byte, n)) // must not panic
	}
}
