// pcapgen writes synthetic capture files for feeding nipi-replay: a
// baseline of well-formed TCP sessions, plus optional port scan and SYN
// flood bursts to light up the detection rules.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	ts            = time.Now().Add(-time.Minute)
)

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("flows", 200, "Number of baseline TCP sessions")
	withScan := flag.Bool("scan", false, "Include a port scan burst")
	withFlood := flag.Bool("flood", false, "Include a SYN flood burst")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	log.Printf("Generating %d TCP sessions into %s...", *flowCount, *outputFile)
	for i := 0; i < *flowCount; i++ {
		writeSession(w,
			net.IP{10, 0, byte(rand.Intn(32)), byte(rand.Intn(254) + 1)},
			net.IP{10, 1, 0, byte(rand.Intn(254) + 1)},
			uint16(rand.Intn(64511)+1024), uint16([]int{80, 443, 53, 8080}[rand.Intn(4)]),
			rand.Intn(20)+2)
	}

	if *withScan {
		log.Println("Adding port scan burst...")
		src := net.IP{192, 168, 66, 6}
		dst := net.IP{10, 1, 0, 10}
		for port := 1; port <= 256; port++ {
			writeTCP(w, src, dst, 54321, uint16(port), true, false, false, 0)
		}
	}

	if *withFlood {
		log.Println("Adding SYN flood burst...")
		dst := net.IP{10, 1, 0, 20}
		for i := 0; i < 2048; i++ {
			src := net.IP{172, 16, byte(rand.Intn(256)), byte(rand.Intn(254) + 1)}
			writeTCP(w, src, dst, uint16(rand.Intn(64511)+1024), 443, true, false, false, 0)
		}
	}

	log.Println("Done.")
}

// writeSession emits a full TCP lifecycle: handshake, data, FIN exchange.
func writeSession(w *pcapgo.Writer, cli, srv net.IP, cliPort, srvPort uint16, dataPkts int) {
	writeTCP(w, cli, srv, cliPort, srvPort, true, false, false, 0)
	writeTCP(w, srv, cli, srvPort, cliPort, true, true, false, 0)
	writeTCP(w, cli, srv, cliPort, srvPort, false, true, false, 0)
	for i := 0; i < dataPkts; i++ {
		if i%3 == 2 {
			writeTCP(w, srv, cli, srvPort, cliPort, false, true, false, rand.Intn(1200)+64)
		} else {
			writeTCP(w, cli, srv, cliPort, srvPort, false, true, false, rand.Intn(600)+64)
		}
	}
	writeTCP(w, cli, srv, cliPort, srvPort, false, true, true, 0)
	writeTCP(w, srv, cli, srvPort, cliPort, false, true, true, 0)
}

func writeTCP(w *pcapgo.Writer, src, dst net.IP, srcPort, dstPort uint16, syn, ack, fin bool, payload int) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP: src, DstIP: dst,
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort),
		SYN: syn, ACK: ack, FIN: fin, Window: 65535,
	}
	tcp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, eth, ip, tcp,
		gopacket.Payload(make([]byte, payload))); err != nil {
		log.Fatalf("Failed to serialize packet: %v", err)
	}

	ts = ts.Add(time.Duration(rand.Intn(900)+100) * time.Microsecond)
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := w.WritePacket(ci, buf.Bytes()); err != nil {
		log.Fatalf("Failed to write packet: %v", err)
	}
}
