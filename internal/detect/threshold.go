package detect

import (
	"fmt"
	"sync"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"

	"nipi/internal/model"
)

// portScanRule fires when one source touches more than threshold distinct
// destination ports inside a single detection window. Per-source state is
// capped at maxSources; new sources beyond the cap are counted, not tracked.
type portScanRule struct {
	threshold  int
	maxSources int
	sources    cmap.ConcurrentMap[string, *scanState]
	evictions  *atomic.Uint64
}

type scanState struct {
	mu    sync.Mutex
	ports map[uint16]struct{}
	fired bool
}

func newPortScanRule(threshold, maxSources int, evictions *atomic.Uint64) *portScanRule {
	return &portScanRule{
		threshold:  threshold,
		maxSources: maxSources,
		sources:    cmap.New[*scanState](),
		evictions:  evictions,
	}
}

func (r *portScanRule) Name() string { return "port-scan" }

func (r *portScanRule) EvaluateFlow(update *model.FlowUpdate) *model.SecurityEvent {
	if !update.NewFlow {
		return nil
	}
	rec := update.Record
	if rec.Proto != model.ProtoTCP && rec.Proto != model.ProtoUDP {
		return nil
	}

	src := rec.SrcIP.String()
	state, ok := r.sources.Get(src)
	if !ok {
		if r.sources.Count() >= r.maxSources {
			r.evictions.Add(1)
			return nil
		}
		state = r.sources.Upsert(src, &scanState{ports: make(map[uint16]struct{})},
			func(exist bool, inMap, fresh *scanState) *scanState {
				if exist {
					return inMap
				}
				return fresh
			})
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.fired {
		return nil
	}
	state.ports[rec.DstPort] = struct{}{}
	n := len(state.ports)
	if n <= r.threshold {
		return nil
	}
	state.fired = true
	key := update.Key
	return newEvent(model.EventPortScan, model.SeverityHigh,
		rec.SrcIP, rec.DstIP, &key,
		fmt.Sprintf("source %s touched %d distinct ports in one window", src, n),
		float64(n), float64(r.threshold), rec.Timestamp)
}

func (r *portScanRule) EvaluateSnapshot(*model.MetricSnapshot) *model.SecurityEvent { return nil }

// Rollover discards all per-source port sets and re-arms suppression.
func (r *portScanRule) Rollover() { r.sources.Clear() }

// synFloodRule fires when the number of half-open handshakes against one
// destination exceeds the flood threshold inside a detection window. A SYN
// without ACK opens a half-open slot; a completed handshake closes one.
type synFloodRule struct {
	threshold  int
	maxTargets int
	targets    cmap.ConcurrentMap[string, *floodState]
	evictions  *atomic.Uint64
}

type floodState struct {
	mu          sync.Mutex
	syns        int
	established int
	fired       bool
}

func newSynFloodRule(threshold, maxTargets int, evictions *atomic.Uint64) *synFloodRule {
	return &synFloodRule{
		threshold:  threshold,
		maxTargets: maxTargets,
		targets:    cmap.New[*floodState](),
		evictions:  evictions,
	}
}

func (r *synFloodRule) Name() string { return "syn-flood" }

func (r *synFloodRule) EvaluateFlow(update *model.FlowUpdate) *model.SecurityEvent {
	rec := update.Record
	if rec.Proto != model.ProtoTCP {
		return nil
	}
	bareSYN := rec.Flags.SYN && !rec.Flags.ACK
	completed := update.Transition == model.TransitionEstablished
	if !bareSYN && !completed {
		return nil
	}

	// The flood target is the packet's destination: a bare SYN travels
	// toward the target, and so does the initiator's final ACK that
	// completes the handshake.
	dst := rec.DstIP
	tgt := dst.String()

	state, ok := r.targets.Get(tgt)
	if !ok {
		if r.targets.Count() >= r.maxTargets {
			r.evictions.Add(1)
			return nil
		}
		state = r.targets.Upsert(tgt, &floodState{},
			func(exist bool, inMap, fresh *floodState) *floodState {
				if exist {
					return inMap
				}
				return fresh
			})
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	if bareSYN {
		state.syns++
	}
	if completed {
		state.established++
	}
	if state.fired {
		return nil
	}
	pending := state.syns - state.established
	if pending <= r.threshold {
		return nil
	}
	state.fired = true
	key := update.Key
	return newEvent(model.EventSynFlood, model.SeverityCritical,
		rec.SrcIP, dst, &key,
		fmt.Sprintf("%d half-open connections against %s in one window", pending, tgt),
		float64(pending), float64(r.threshold), rec.Timestamp)
}

func (r *synFloodRule) EvaluateSnapshot(*model.MetricSnapshot) *model.SecurityEvent { return nil }

func (r *synFloodRule) Rollover() { r.targets.Clear() }
