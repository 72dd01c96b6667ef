package model

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket/layers"
)

// Proto identifies the transport protocol of a packet or flow.
type Proto uint8

const (
	ProtoICMP  Proto = 1
	ProtoTCP   Proto = 6
	ProtoUDP   Proto = 17
	ProtoOther Proto = 255
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	case ProtoICMP:
		return "icmp"
	default:
		return "other"
	}
}

// RawFrame is a captured link-layer frame. The capture source owns the data
// until it is handed to the parser; the parser copies what it needs and the
// frame is not retained afterward.
type RawFrame struct {
	Data      []byte
	Timestamp time.Time
	LinkType  layers.LinkType
}

// TCPFlags holds the subset of TCP header flags the tracker cares about.
type TCPFlags struct {
	SYN bool `json:"syn"`
	ACK bool `json:"ack"`
	FIN bool `json:"fin"`
	RST bool `json:"rst"`
}

// PacketRecord is the normalized, decoded view of a single frame.
// Created once per frame, consumed by the flow tracker, then discarded.
type PacketRecord struct {
	Timestamp  time.Time  `json:"timestamp"`
	SrcIP      netip.Addr `json:"src_ip"`
	DstIP      netip.Addr `json:"dst_ip"`
	SrcPort    uint16     `json:"src_port"`
	DstPort    uint16     `json:"dst_port"`
	Proto      Proto      `json:"protocol"`
	Flags      TCPFlags   `json:"flags"`
	Length     int        `json:"length"`
	PayloadLen int        `json:"payload_len"`
	TTL        uint8      `json:"ttl"`
	// Partial marks records decoded from frames whose upper layers could not
	// be fully parsed (unknown transport, truncated options, ...).
	Partial bool `json:"partial"`
}

// FlowKey is the canonicalized, direction-symmetric 5-tuple identifying a
// bidirectional conversation. The lower (IP, port) endpoint is always stored
// as A, so both directions of a conversation map to the same key.
type FlowKey struct {
	AddrA netip.Addr `json:"addr_a"`
	AddrB netip.Addr `json:"addr_b"`
	PortA uint16     `json:"port_a"`
	PortB uint16     `json:"port_b"`
	Proto Proto      `json:"protocol"`
}

// NewFlowKey canonicalizes a packet's 5-tuple into a FlowKey.
func NewFlowKey(rec *PacketRecord) FlowKey {
	if less(rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort) {
		return FlowKey{AddrA: rec.SrcIP, PortA: rec.SrcPort, AddrB: rec.DstIP, PortB: rec.DstPort, Proto: rec.Proto}
	}
	return FlowKey{AddrA: rec.DstIP, PortA: rec.DstPort, AddrB: rec.SrcIP, PortB: rec.SrcPort, Proto: rec.Proto}
}

func less(aIP netip.Addr, aPort uint16, bIP netip.Addr, bPort uint16) bool {
	switch aIP.Compare(bIP) {
	case -1:
		return true
	case 1:
		return false
	}
	return aPort <= bPort
}

// Forward reports whether a packet from the given endpoint travels in the
// key's A->B direction.
func (k FlowKey) Forward(srcIP netip.Addr, srcPort uint16) bool {
	return srcIP == k.AddrA && srcPort == k.PortA
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d<->%s:%d/%s", k.AddrA, k.PortA, k.AddrB, k.PortB, k.Proto)
}

// FlowState is the lifecycle state of a tracked flow.
type FlowState uint8

const (
	FlowOpen FlowState = iota
	FlowEstablished
	FlowClosing
	FlowClosed
)

func (s FlowState) String() string {
	switch s {
	case FlowOpen:
		return "open"
	case FlowEstablished:
		return "established"
	case FlowClosing:
		return "closing"
	case FlowClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// GapRingSize is the number of recent inter-arrival gaps kept per flow.
const GapRingSize = 16

// FlowRecord is the mutable per-flow aggregate owned by the tracker. One live
// instance exists per active FlowKey.
type FlowRecord struct {
	Key       FlowKey
	State     FlowState
	FirstSeen time.Time
	LastSeen  time.Time

	// Per-direction counters; AB is the canonical A->B direction.
	PacketsAB uint64
	BytesAB   uint64
	PacketsBA uint64
	BytesBA   uint64

	// TCP bookkeeping.
	SynCount   uint64
	synSeen    bool
	synAckSeen bool
	finAB      bool
	finBA      bool

	// Ring of recent inter-arrival gaps for timing-based checks.
	Gaps    [GapRingSize]time.Duration
	gapIdx  int
	gapFull bool
}

// Observe folds one packet into the flow record and advances the state
// machine. It returns the transition the packet caused, if any.
func (f *FlowRecord) Observe(rec *PacketRecord) FlowTransition {
	gap := rec.Timestamp.Sub(f.LastSeen)
	if rec.Timestamp.After(f.LastSeen) {
		f.LastSeen = rec.Timestamp
	}
	if f.PacketsAB+f.PacketsBA > 0 && gap >= 0 {
		f.Gaps[f.gapIdx] = gap
		f.gapIdx = (f.gapIdx + 1) % GapRingSize
		if f.gapIdx == 0 {
			f.gapFull = true
		}
	}

	forward := f.Key.Forward(rec.SrcIP, rec.SrcPort)
	if forward {
		f.PacketsAB++
		f.BytesAB += uint64(rec.Length)
	} else {
		f.PacketsBA++
		f.BytesBA += uint64(rec.Length)
	}

	if f.Key.Proto != ProtoTCP {
		if f.State == FlowOpen {
			f.State = FlowEstablished
			return TransitionEstablished
		}
		return TransitionNone
	}
	return f.advanceTCP(rec, forward)
}

func (f *FlowRecord) advanceTCP(rec *PacketRecord, forward bool) FlowTransition {
	fl := rec.Flags
	if fl.SYN {
		f.SynCount++
		if fl.ACK {
			f.synAckSeen = true
		} else {
			f.synSeen = true
		}
	}
	if fl.RST {
		f.State = FlowClosed
		return TransitionReset
	}
	if fl.FIN {
		if forward {
			f.finAB = true
		} else {
			f.finBA = true
		}
		if f.finAB && f.finBA {
			f.State = FlowClosed
			return TransitionClosed
		}
		if f.State != FlowClosing {
			f.State = FlowClosing
			return TransitionClosing
		}
		return TransitionNone
	}
	if f.State == FlowOpen && fl.ACK && !fl.SYN && f.synSeen && f.synAckSeen {
		f.State = FlowEstablished
		return TransitionEstablished
	}
	return TransitionNone
}

// MeanGap returns the mean of the recorded inter-arrival gaps.
func (f *FlowRecord) MeanGap() time.Duration {
	n := f.gapIdx
	if f.gapFull {
		n = GapRingSize
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += f.Gaps[i]
	}
	return sum / time.Duration(n)
}

// Packets returns the total packet count across both directions.
func (f *FlowRecord) Packets() uint64 { return f.PacketsAB + f.PacketsBA }

// Bytes returns the total byte count across both directions.
func (f *FlowRecord) Bytes() uint64 { return f.BytesAB + f.BytesBA }

// FlowTransition describes the state change caused by a single packet.
type FlowTransition uint8

const (
	TransitionNone FlowTransition = iota
	TransitionEstablished
	TransitionClosing
	TransitionClosed
	TransitionReset
)

// FlowUpdate is the per-packet view handed to the detection engine after the
// tracker has folded the packet into its flow.
type FlowUpdate struct {
	Record     *PacketRecord
	Key        FlowKey
	State      FlowState
	NewFlow    bool
	Transition FlowTransition
}

// FlowSummary is the immutable record emitted when a flow closes.
type FlowSummary struct {
	Key         FlowKey   `json:"key"`
	State       FlowState `json:"-"`
	Status      string    `json:"status"` // closed, reset, timeout, flushed
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	PacketsAB   uint64    `json:"packets_ab"`
	BytesAB     uint64    `json:"bytes_ab"`
	PacketsBA   uint64    `json:"packets_ba"`
	BytesBA     uint64    `json:"bytes_ba"`
	MeanGapNano int64     `json:"mean_gap_ns"`
}

// Packets returns the total packet count across both directions.
func (s *FlowSummary) Packets() uint64 { return s.PacketsAB + s.PacketsBA }

// Bytes returns the total byte count across both directions.
func (s *FlowSummary) Bytes() uint64 { return s.BytesAB + s.BytesBA }

// EventTime implements Event.
func (s *FlowSummary) EventTime() time.Time { return s.LastSeen }

// TopEntry is one ranked flow inside a snapshot.
type TopEntry struct {
	Key   FlowKey `json:"key"`
	Count uint64  `json:"count"`
}

// MetricSnapshot is the immutable aggregate frozen at each window boundary.
// Windows are contiguous and non-overlapping; every packet is attributed to
// exactly one window by its capture timestamp.
type MetricSnapshot struct {
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Packets     uint64            `json:"packets"`
	Bytes       uint64            `json:"bytes"`
	ByProtocol  map[string]uint64 `json:"by_protocol"`
	TopByBytes  []TopEntry        `json:"top_by_bytes"`
	TopByPkts   []TopEntry        `json:"top_by_packets"`
}

// Throughput returns the snapshot's mean byte rate in bytes per second.
func (m *MetricSnapshot) Throughput() float64 {
	d := m.WindowEnd.Sub(m.WindowStart).Seconds()
	if d <= 0 {
		return 0
	}
	return float64(m.Bytes) / d
}

// EventTime implements Event.
func (m *MetricSnapshot) EventTime() time.Time { return m.WindowEnd }

// Severity grades security events.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// EventKind enumerates the closed set of detection results.
type EventKind string

const (
	EventPortScan    EventKind = "port_scan"
	EventSynFlood    EventKind = "syn_flood"
	EventAnomaly     EventKind = "anomalous_volume"
	EventBlacklisted EventKind = "blacklisted_endpoint"
)

// Evidence carries the numbers that made a rule fire.
type Evidence struct {
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

// SecurityEvent is emitted by the detection engine. Immutable once emitted.
type SecurityEvent struct {
	Kind      EventKind  `json:"kind"`
	Severity  Severity   `json:"-"`
	Level     string     `json:"severity"`
	SourceIP  netip.Addr `json:"source_ip"`
	TargetIP  netip.Addr `json:"target_ip,omitempty"`
	Key       *FlowKey   `json:"key,omitempty"`
	Message   string     `json:"message"`
	Evidence  Evidence   `json:"evidence"`
	Timestamp time.Time  `json:"timestamp"`
}

// EventTime implements Event.
func (e *SecurityEvent) EventTime() time.Time { return e.Timestamp }

// Event is the union of everything the pipeline delivers through the sink:
// flow summaries, metric snapshots and security events.
type Event interface {
	EventTime() time.Time
}
