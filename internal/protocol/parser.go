package protocol

import (
	"net/netip"

	"nipi/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// RejectReason classifies why a frame could not be decoded. The packet stream
// is untrusted, so every malformed-input path is an ordinary rejected result.
type RejectReason uint8

const (
	ReasonTruncated RejectReason = iota
	ReasonUnsupportedLink
	ReasonNonIP
)

func (r RejectReason) String() string {
	switch r {
	case ReasonTruncated:
		return "truncated"
	case ReasonUnsupportedLink:
		return "unsupported-link-type"
	case ReasonNonIP:
		return "non-ip"
	default:
		return "unknown"
	}
}

// Reject describes a discarded frame.
type Reject struct {
	Reason RejectReason
	Err    error
}

// Parser decodes raw Ethernet frames into PacketRecords. Decoding is strictly
// bounds-checked; a crafted length field can only yield a rejection, never an
// out-of-bounds read. A Parser reuses its layer buffers and is therefore not
// safe for concurrent use; each pipeline worker owns one.
type Parser struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	payload gopacket.Payload

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewParser creates a parser for Ethernet-framed capture sources.
func NewParser() *Parser {
	p := &Parser{decoded: make([]gopacket.LayerType, 0, 8)}
	p.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&p.eth, &p.dot1q, &p.ip4, &p.ip6, &p.tcp, &p.udp, &p.icmp4, &p.icmp6, &p.payload,
	)
	p.parser.IgnoreUnsupported = true
	return p
}

// Parse decodes one frame. It returns either a PacketRecord or a Reject with
// a structured reason; never both.
func (p *Parser) Parse(frame model.RawFrame) (*model.PacketRecord, *Reject) {
	if frame.LinkType != layers.LinkTypeEthernet {
		return nil, &Reject{Reason: ReasonUnsupportedLink}
	}

	err := p.parser.DecodeLayers(frame.Data, &p.decoded)

	rec := &model.PacketRecord{
		Timestamp: frame.Timestamp,
		Length:    len(frame.Data),
		Proto:     model.ProtoOther,
	}

	var sawIP, sawTransport bool
	for _, lt := range p.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			sawIP = true
			rec.SrcIP = mustAddr(p.ip4.SrcIP)
			rec.DstIP = mustAddr(p.ip4.DstIP)
			rec.Proto = ipProto(p.ip4.Protocol)
			rec.TTL = p.ip4.TTL
		case layers.LayerTypeIPv6:
			sawIP = true
			rec.SrcIP = mustAddr(p.ip6.SrcIP)
			rec.DstIP = mustAddr(p.ip6.DstIP)
			rec.Proto = ipProto(p.ip6.NextHeader)
			rec.TTL = p.ip6.HopLimit
		case layers.LayerTypeTCP:
			sawTransport = true
			rec.SrcPort = uint16(p.tcp.SrcPort)
			rec.DstPort = uint16(p.tcp.DstPort)
			rec.Proto = model.ProtoTCP
			rec.Flags = model.TCPFlags{SYN: p.tcp.SYN, ACK: p.tcp.ACK, FIN: p.tcp.FIN, RST: p.tcp.RST}
			rec.PayloadLen = len(p.tcp.Payload)
		case layers.LayerTypeUDP:
			sawTransport = true
			rec.SrcPort = uint16(p.udp.SrcPort)
			rec.DstPort = uint16(p.udp.DstPort)
			rec.Proto = model.ProtoUDP
			rec.PayloadLen = len(p.udp.Payload)
		case layers.LayerTypeICMPv4, layers.LayerTypeICMPv6:
			sawTransport = true
			rec.Proto = model.ProtoICMP
		}
	}

	if err != nil {
		// A decode error before any IP layer means the frame is unusable;
		// after an IP layer it means a malformed transport header, which the
		// IP-level record still describes.
		if !sawIP {
			return nil, &Reject{Reason: ReasonTruncated, Err: err}
		}
		rec.Partial = true
		return rec, nil
	}
	if !sawIP {
		return nil, &Reject{Reason: ReasonNonIP}
	}
	if !sawTransport {
		// Unknown upper-layer protocol: keep the IP view, zero parsed payload.
		rec.Proto = model.ProtoOther
		rec.Partial = true
	}
	return rec, nil
}

func ipProto(p layers.IPProtocol) model.Proto {
	switch p {
	case layers.IPProtocolTCP:
		return model.ProtoTCP
	case layers.IPProtocolUDP:
		return model.ProtoUDP
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
		return model.ProtoICMP
	default:
		return model.ProtoOther
	}
}

func mustAddr(b []byte) netip.Addr {
	addr, _ := netip.AddrFromSlice(b)
	return addr.Unmap()
}
