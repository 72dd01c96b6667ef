// Package metrics maintains windowed, system-wide traffic statistics with
// bounded memory. Packets are attributed to windows by capture timestamp,
// never by processing time; windows are contiguous and non-overlapping.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"nipi/internal/model"
)

// maxOpenWindows bounds how many windows may be open at once (out-of-order
// tolerance for live capture, burst tolerance for replay). Exceeding it
// force-closes the oldest window.
const maxOpenWindows = 64

type window struct {
	start, end time.Time
	packets    uint64
	bytes      uint64
	byProto    map[string]uint64
	topBytes   *TopK
	topPkts    *TopK
}

// Aggregator folds flow updates into the currently open windows and freezes
// an immutable MetricSnapshot at each window boundary.
type Aggregator struct {
	mu        sync.Mutex
	windowDur time.Duration
	topK      int
	windows   []*window // ascending by start
	closedEnd time.Time // end of the most recently closed window

	late      atomic.Uint64
	snapshots atomic.Uint64
}

// Stats are the aggregator's health counters.
type Stats struct {
	LateArrivals uint64 `json:"late_arrivals"`
	Snapshots    uint64 `json:"snapshots"`
	OpenWindows  int    `json:"open_windows"`
}

// New creates an aggregator with the given window length and top-K size.
func New(windowDur time.Duration, topK int) *Aggregator {
	return &Aggregator{windowDur: windowDur, topK: topK}
}

// Record attributes one packet to exactly one window. Packets older than the
// most recently closed window fold into the oldest still-open window if one
// exists and are otherwise dropped with a counted late-arrival. Record
// returns any windows it had to force-close to stay within bounds.
func (a *Aggregator) Record(rec *model.PacketRecord, key model.FlowKey) []*model.MetricSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.findWindow(rec.Timestamp)
	if w == nil {
		a.late.Add(1)
		return nil
	}
	w.packets++
	w.bytes += uint64(rec.Length)
	w.byProto[rec.Proto.String()]++
	w.topBytes.Add(key, uint64(rec.Length))
	w.topPkts.Add(key, 1)

	var closed []*model.MetricSnapshot
	for len(a.windows) > maxOpenWindows {
		closed = append(closed, a.closeOldest())
	}
	return closed
}

func (a *Aggregator) findWindow(ts time.Time) *window {
	for _, w := range a.windows {
		if !ts.Before(w.start) && ts.Before(w.end) {
			return w
		}
	}
	if ts.Before(a.closedEnd) {
		// Older than the just-closed window: oldest still-open window, if any.
		if len(a.windows) > 0 {
			return a.windows[0]
		}
		return nil
	}
	return a.openWindow(ts)
}

func (a *Aggregator) openWindow(ts time.Time) *window {
	start := ts.Truncate(a.windowDur)
	w := &window{
		start:    start,
		end:      start.Add(a.windowDur),
		byProto:  make(map[string]uint64, 4),
		topBytes: NewTopK(a.topK),
		topPkts:  NewTopK(a.topK),
	}
	// Keep the slice ordered by start.
	pos := len(a.windows)
	for i, other := range a.windows {
		if start.Before(other.start) {
			pos = i
			break
		}
	}
	a.windows = append(a.windows, nil)
	copy(a.windows[pos+1:], a.windows[pos:])
	a.windows[pos] = w
	return w
}

// closeOldest freezes and removes the oldest open window. Caller holds mu.
func (a *Aggregator) closeOldest() *model.MetricSnapshot {
	w := a.windows[0]
	a.windows = a.windows[1:]
	if w.end.After(a.closedEnd) {
		a.closedEnd = w.end
	}
	a.snapshots.Add(1)
	return freeze(w)
}

// CloseDue freezes every window whose end has passed. The pipeline calls it
// from the window ticker.
func (a *Aggregator) CloseDue(now time.Time) []*model.MetricSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var snaps []*model.MetricSnapshot
	for len(a.windows) > 0 && !a.windows[0].end.After(now) {
		snaps = append(snaps, a.closeOldest())
	}
	return snaps
}

// FlushAll freezes every remaining window, oldest first. Called at shutdown
// so the final partial window is still delivered.
func (a *Aggregator) FlushAll() []*model.MetricSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	var snaps []*model.MetricSnapshot
	for len(a.windows) > 0 {
		snaps = append(snaps, a.closeOldest())
	}
	return snaps
}

// Stats returns the aggregator's counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	open := len(a.windows)
	a.mu.Unlock()
	return Stats{
		LateArrivals: a.late.Load(),
		Snapshots:    a.snapshots.Load(),
		OpenWindows:  open,
	}
}

func freeze(w *window) *model.MetricSnapshot {
	byProto := make(map[string]uint64, len(w.byProto))
	for k, v := range w.byProto {
		byProto[k] = v
	}
	return &model.MetricSnapshot{
		WindowStart: w.start,
		WindowEnd:   w.end,
		Packets:     w.packets,
		Bytes:       w.bytes,
		ByProtocol:  byProto,
		TopByBytes:  w.topBytes.Entries(),
		TopByPkts:   w.topPkts.Entries(),
	}
}
