package tracker

import (
	"net/netip"
	"testing"
	"time"

	"nipi/internal/model"
)

func packet(ts time.Time, src string, sport uint16, dst string, dport uint16, proto model.Proto, flags model.TCPFlags) *model.PacketRecord {
	return &model.PacketRecord{
		Timestamp: ts,
		SrcIP:     netip.MustParseAddr(src),
		DstIP:     netip.MustParseAddr(dst),
		SrcPort:   sport,
		DstPort:   dport,
		Proto:     proto,
		Flags:     flags,
		Length:    100,
	}
}

func TestUpdateCreatesAndMergesFlows(t *testing.T) {
	tr := New(1, 5*time.Minute)
	base := time.Now()

	up1, sum := tr.Update(0, packet(base, "10.0.0.1", 1234, "10.0.0.2", 80, model.ProtoUDP, model.TCPFlags{}))
	if !up1.NewFlow {
		t.Error("first packet should create a flow")
	}
	if sum != nil {
		t.Error("first packet should not close a flow")
	}

	// Reverse direction merges into the same flow.
	up2, _ := tr.Update(0, packet(base.Add(time.Millisecond), "10.0.0.2", 80, "10.0.0.1", 1234, model.ProtoUDP, model.TCPFlags{}))
	if up2.NewFlow {
		t.Error("reverse-direction packet created a second flow")
	}
	if up1.Key != up2.Key {
		t.Errorf("keys differ across directions: %v vs %v", up1.Key, up2.Key)
	}
	if got := tr.Stats().ActiveFlows; got != 1 {
		t.Errorf("active flows = %d, want 1", got)
	}
}

func TestTCPCloseEmitsSummaryAndRemovesFlow(t *testing.T) {
	tr := New(1, 5*time.Minute)
	base := time.Now()
	step := func(i int) time.Time { return base.Add(time.Duration(i) * time.Millisecond) }

	seq := []struct {
		fromClient bool
		flags      model.TCPFlags
	}{
		{true, model.TCPFlags{SYN: true}},
		{false, model.TCPFlags{SYN: true, ACK: true}},
		{true, model.TCPFlags{ACK: true}},
		{true, model.TCPFlags{ACK: true}}, // data
		{true, model.TCPFlags{FIN: true, ACK: true}},
		{false, model.TCPFlags{FIN: true, ACK: true}},
	}

	var summary *model.FlowSummary
	for i, s := range seq {
		var rec *model.PacketRecord
		if s.fromClient {
			rec = packet(step(i), "10.0.0.1", 40000, "10.0.0.2", 80, model.ProtoTCP, s.flags)
		} else {
			rec = packet(step(i), "10.0.0.2", 80, "10.0.0.1", 40000, model.ProtoTCP, s.flags)
		}
		_, summary = tr.Update(0, rec)
	}

	if summary == nil {
		t.Fatal("expected a summary on final FIN")
	}
	if summary.Status != "closed" {
		t.Errorf("status = %q, want closed", summary.Status)
	}
	if summary.Packets() != 6 {
		t.Errorf("packets = %d, want 6", summary.Packets())
	}
	if summary.Bytes() != 600 {
		t.Errorf("bytes = %d, want 600", summary.Bytes())
	}
	if got := tr.Stats().ActiveFlows; got != 0 {
		t.Errorf("active flows after close = %d, want 0", got)
	}
	if _, ok := tr.Lookup(0, summary.Key); ok {
		t.Error("closed flow still addressable in the table")
	}
}

func TestRSTMarksReset(t *testing.T) {
	tr := New(1, 5*time.Minute)
	base := time.Now()
	tr.Update(0, packet(base, "10.0.0.1", 40000, "10.0.0.2", 80, model.ProtoTCP, model.TCPFlags{SYN: true}))
	_, summary := tr.Update(0, packet(base.Add(time.Millisecond), "10.0.0.2", 80, "10.0.0.1", 40000, model.ProtoTCP, model.TCPFlags{RST: true}))
	if summary == nil || summary.Status != "reset" {
		t.Fatalf("expected reset summary, got %+v", summary)
	}
}

func TestSweepIdleEvictsOnlyStaleFlows(t *testing.T) {
	tr := New(2, time.Minute)
	base := time.Now()

	tr.Update(0, packet(base.Add(-2*time.Minute), "10.0.0.1", 1, "10.0.0.2", 2, model.ProtoUDP, model.TCPFlags{}))
	tr.Update(1, packet(base, "10.0.0.3", 3, "10.0.0.4", 4, model.ProtoUDP, model.TCPFlags{}))

	evicted := tr.SweepIdle(base)
	if len(evicted) != 1 {
		t.Fatalf("evicted %d flows, want 1", len(evicted))
	}
	if evicted[0].Status != "timeout" {
		t.Errorf("status = %q, want timeout", evicted[0].Status)
	}
	if _, ok := tr.Lookup(0, evicted[0].Key); ok {
		t.Error("evicted flow still addressable")
	}
	if got := tr.Stats().ActiveFlows; got != 1 {
		t.Errorf("active flows = %d, want 1", got)
	}
	if got := tr.Stats().Evicted; got != 1 {
		t.Errorf("evicted counter = %d, want 1", got)
	}
}

func TestFlushAllDrainsTable(t *testing.T) {
	tr := New(2, time.Minute)
	base := time.Now()
	tr.Update(0, packet(base, "10.0.0.1", 1, "10.0.0.2", 2, model.ProtoUDP, model.TCPFlags{}))
	tr.Update(1, packet(base, "10.0.0.3", 3, "10.0.0.4", 4, model.ProtoUDP, model.TCPFlags{}))

	flushed := tr.FlushAll()
	if len(flushed) != 2 {
		t.Fatalf("flushed %d flows, want 2", len(flushed))
	}
	for _, s := range flushed {
		if s.Status != "flushed" {
			t.Errorf("status = %q, want flushed", s.Status)
		}
	}
	if got := tr.Stats().ActiveFlows; got != 0 {
		t.Errorf("active flows after flush = %d, want 0", got)
	}
}
