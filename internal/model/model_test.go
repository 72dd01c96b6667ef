package model

import (
	"net/netip"
	"testing"
	"time"
)

func record(src string, sport uint16, dst string, dport uint16, proto Proto) *PacketRecord {
	return &PacketRecord{
		Timestamp: time.Now(),
		SrcIP:     netip.MustParseAddr(src),
		DstIP:     netip.MustParseAddr(dst),
		SrcPort:   sport,
		DstPort:   dport,
		Proto:     proto,
		Length:    60,
	}
}

func TestFlowKeyDirectionSymmetry(t *testing.T) {
	cases := []struct {
		src   string
		sport uint16
		dst   string
		dport uint16
	}{
		{"192.168.0.1", 12345, "8.8.8.8", 53},
		{"8.8.8.8", 53, "192.168.0.1", 12345},
		{"10.0.0.1", 80, "10.0.0.1", 8080},
		{"2001:db8::1", 443, "2001:db8::2", 55555},
		{"10.0.0.2", 1000, "10.0.0.2", 1000},
	}

	for _, c := range cases {
		fwd := NewFlowKey(record(c.src, c.sport, c.dst, c.dport, ProtoTCP))
		rev := NewFlowKey(record(c.dst, c.dport, c.src, c.sport, ProtoTCP))
		if fwd != rev {
			t.Errorf("FlowKey not direction-symmetric: %v != %v", fwd, rev)
		}
	}
}

func TestFlowKeyCanonicalOrder(t *testing.T) {
	key := NewFlowKey(record("8.8.8.8", 53, "192.168.0.1", 12345, ProtoUDP))
	if key.AddrA != netip.MustParseAddr("8.8.8.8") || key.PortA != 53 {
		t.Errorf("lower endpoint should be A, got %v", key)
	}
	if !key.Forward(netip.MustParseAddr("8.8.8.8"), 53) {
		t.Error("Forward should be true for the A endpoint")
	}
	if key.Forward(netip.MustParseAddr("192.168.0.1"), 12345) {
		t.Error("Forward should be false for the B endpoint")
	}
}

func TestFlowRecordTCPLifecycle(t *testing.T) {
	base := time.Now()
	mk := func(flags TCPFlags, fromClient bool, offset time.Duration) *PacketRecord {
		rec := record("10.0.0.1", 40000, "10.0.0.2", 80, ProtoTCP)
		if !fromClient {
			rec = record("10.0.0.2", 80, "10.0.0.1", 40000, ProtoTCP)
		}
		rec.Flags = flags
		rec.Timestamp = base.Add(offset)
		return rec
	}

	first := mk(TCPFlags{SYN: true}, true, 0)
	flow := &FlowRecord{Key: NewFlowKey(first), State: FlowOpen, FirstSeen: first.Timestamp, LastSeen: first.Timestamp}

	if tr := flow.Observe(first); tr != TransitionNone {
		t.Fatalf("SYN alone should not transition, got %v", tr)
	}
	if tr := flow.Observe(mk(TCPFlags{SYN: true, ACK: true}, false, time.Millisecond)); tr != TransitionNone {
		t.Fatalf("SYN/ACK should not transition, got %v", tr)
	}
	if tr := flow.Observe(mk(TCPFlags{ACK: true}, true, 2*time.Millisecond)); tr != TransitionEstablished {
		t.Fatalf("handshake ACK should establish, got %v", tr)
	}
	if flow.State != FlowEstablished {
		t.Fatalf("state = %v, want established", flow.State)
	}
	if tr := flow.Observe(mk(TCPFlags{FIN: true, ACK: true}, true, 3*time.Millisecond)); tr != TransitionClosing {
		t.Fatalf("first FIN should move to closing, got %v", tr)
	}
	if tr := flow.Observe(mk(TCPFlags{FIN: true, ACK: true}, false, 4*time.Millisecond)); tr != TransitionClosed {
		t.Fatalf("second FIN should close, got %v", tr)
	}
	if flow.State != FlowClosed {
		t.Fatalf("state = %v, want closed", flow.State)
	}
}

func TestFlowRecordReset(t *testing.T) {
	rec := record("10.0.0.1", 40000, "10.0.0.2", 80, ProtoTCP)
	rec.Flags = TCPFlags{SYN: true}
	flow := &FlowRecord{Key: NewFlowKey(rec), State: FlowOpen, FirstSeen: rec.Timestamp, LastSeen: rec.Timestamp}
	flow.Observe(rec)

	rst := record("10.0.0.2", 80, "10.0.0.1", 40000, ProtoTCP)
	rst.Flags = TCPFlags{RST: true}
	if tr := flow.Observe(rst); tr != TransitionReset {
		t.Fatalf("RST should reset, got %v", tr)
	}
}

func TestFlowRecordDirectionalCounters(t *testing.T) {
	fwd := record("10.0.0.1", 40000, "10.0.0.2", 80, ProtoUDP)
	flow := &FlowRecord{Key: NewFlowKey(fwd), State: FlowOpen, FirstSeen: fwd.Timestamp, LastSeen: fwd.Timestamp}
	flow.Observe(fwd)
	rev := record("10.0.0.2", 80, "10.0.0.1", 40000, ProtoUDP)
	rev.Length = 1400
	flow.Observe(rev)

	if flow.Packets() != 2 {
		t.Errorf("total packets = %d, want 2", flow.Packets())
	}
	if flow.Bytes() != 1460 {
		t.Errorf("total bytes = %d, want 1460", flow.Bytes())
	}
	if flow.PacketsAB != 1 || flow.PacketsBA != 1 {
		t.Errorf("directional packet counts = %d/%d, want 1/1", flow.PacketsAB, flow.PacketsBA)
	}
}

func TestFlowRecordLastSeenMonotonic(t *testing.T) {
	base := time.Now()
	rec := record("10.0.0.1", 1, "10.0.0.2", 2, ProtoUDP)
	rec.Timestamp = base
	flow := &FlowRecord{Key: NewFlowKey(rec), State: FlowOpen, FirstSeen: base, LastSeen: base}
	flow.Observe(rec)

	old := record("10.0.0.1", 1, "10.0.0.2", 2, ProtoUDP)
	old.Timestamp = base.Add(-time.Second)
	flow.Observe(old)
	if flow.LastSeen.Before(base) {
		t.Errorf("LastSeen went backwards: %v < %v", flow.LastSeen, base)
	}
}
