// Package tracker maintains the table of live flows. Packets are folded into
// per-flow records keyed by the canonical 5-tuple; flows leave the table when
// TCP teardown is observed or when the idle sweep evicts them.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"nipi/internal/model"
)

// shard is one partition of the flow table. The pipeline partitions packets
// by flow hash so each shard has a single writing worker; the mutex exists
// for the idle sweeper's short-lived exclusive access.
type shard struct {
	mu    sync.Mutex
	flows map[model.FlowKey]*model.FlowRecord
}

// Tracker is the sharded flow table.
type Tracker struct {
	shards      []*shard
	idleTimeout time.Duration

	active  atomic.Int64
	evicted atomic.Uint64
	closed  atomic.Uint64
}

// Stats are the tracker's health counters.
type Stats struct {
	ActiveFlows int64  `json:"active_flows"`
	Evicted     uint64 `json:"evicted"`
	Closed      uint64 `json:"closed"`
}

// New creates a tracker with one shard per pipeline worker.
func New(numShards int, idleTimeout time.Duration) *Tracker {
	t := &Tracker{
		shards:      make([]*shard, numShards),
		idleTimeout: idleTimeout,
	}
	for i := range t.shards {
		t.shards[i] = &shard{flows: make(map[model.FlowKey]*model.FlowRecord)}
	}
	return t
}

// NumShards returns the shard count.
func (t *Tracker) NumShards() int { return len(t.shards) }

// Update folds one packet into its flow on the given shard. It returns the
// flow update for the detection engine and, when the packet closed the flow,
// its final summary. The closed flow is removed from the table before Update
// returns, so no two live records ever share a key.
func (t *Tracker) Update(shardIdx int, rec *model.PacketRecord) (*model.FlowUpdate, *model.FlowSummary) {
	key := model.NewFlowKey(rec)
	sh := t.shards[shardIdx]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	flow, ok := sh.flows[key]
	if !ok {
		flow = &model.FlowRecord{
			Key:       key,
			State:     model.FlowOpen,
			FirstSeen: rec.Timestamp,
			LastSeen:  rec.Timestamp,
		}
		sh.flows[key] = flow
		t.active.Add(1)
	}

	transition := flow.Observe(rec)

	update := &model.FlowUpdate{
		Record:     rec,
		Key:        key,
		State:      flow.State,
		NewFlow:    !ok,
		Transition: transition,
	}

	if flow.State == model.FlowClosed {
		status := "closed"
		if transition == model.TransitionReset {
			status = "reset"
		}
		summary := summarize(flow, status)
		delete(sh.flows, key)
		t.active.Add(-1)
		t.closed.Add(1)
		return update, summary
	}
	return update, nil
}

// SweepIdle evicts flows with no packets for longer than the idle timeout and
// returns their summaries. It runs on its own timer, independent of packet
// arrival, so memory stays bounded under half-open scans and similar traffic
// that never closes.
func (t *Tracker) SweepIdle(now time.Time) []*model.FlowSummary {
	var evicted []*model.FlowSummary
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, flow := range sh.flows {
			if now.Sub(flow.LastSeen) > t.idleTimeout {
				evicted = append(evicted, summarize(flow, "timeout"))
				delete(sh.flows, key)
			}
		}
		sh.mu.Unlock()
	}
	if n := len(evicted); n > 0 {
		t.active.Add(int64(-n))
		t.evicted.Add(uint64(n))
	}
	return evicted
}

// FlushAll drains every remaining flow at shutdown, marking summaries as
// flushed rather than closed.
func (t *Tracker) FlushAll() []*model.FlowSummary {
	var flushed []*model.FlowSummary
	for _, sh := range t.shards {
		sh.mu.Lock()
		for key, flow := range sh.flows {
			flushed = append(flushed, summarize(flow, "flushed"))
			delete(sh.flows, key)
		}
		sh.mu.Unlock()
	}
	t.active.Store(0)
	return flushed
}

// Lookup returns a copy of a live flow record, if present.
func (t *Tracker) Lookup(shardIdx int, key model.FlowKey) (model.FlowRecord, bool) {
	sh := t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if flow, ok := sh.flows[key]; ok {
		return *flow, true
	}
	return model.FlowRecord{}, false
}

// Stats returns the tracker's counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		ActiveFlows: t.active.Load(),
		Evicted:     t.evicted.Load(),
		Closed:      t.closed.Load(),
	}
}

func summarize(flow *model.FlowRecord, status string) *model.FlowSummary {
	return &model.FlowSummary{
		Key:         flow.Key,
		State:       flow.State,
		Status:      status,
		FirstSeen:   flow.FirstSeen,
		LastSeen:    flow.LastSeen,
		PacketsAB:   flow.PacketsAB,
		BytesAB:     flow.BytesAB,
		PacketsBA:   flow.PacketsBA,
		BytesBA:     flow.BytesBA,
		MeanGapNano: int64(flow.MeanGap()),
	}
}
