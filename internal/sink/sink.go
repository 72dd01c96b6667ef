// Package sink buffers pipeline output between the hot path and the
// exporters. The buffer is a fixed ring: when full, publishing overwrites
// the oldest entry and bumps a drop counter, so capture never blocks on a
// slow writer.
package sink

import (
	"sync"
	"sync/atomic"

	"nipi/internal/model"
)

// Sink is a bounded MPSC ring of pipeline events.
type Sink struct {
	mu     sync.Mutex
	buf    []model.Event
	head   int // index of the oldest entry
	size   int
	closed bool

	notify  chan struct{}
	dropped atomic.Uint64
}

// Stats are the sink's health counters.
type Stats struct {
	Depth   int    `json:"depth"`
	Dropped uint64 `json:"dropped"`
}

// New returns a sink holding at most capacity events.
func New(capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1
	}
	return &Sink{
		buf:    make([]model.Event, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Publish appends ev, evicting the oldest entry when the ring is full.
// Publishing to a closed sink is a silent drop.
func (s *Sink) Publish(ev model.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		return
	}
	if s.size == len(s.buf) {
		// Overwrite the oldest entry in place.
		s.buf[s.head] = ev
		s.head = (s.head + 1) % len(s.buf)
		s.dropped.Add(1)
	} else {
		s.buf[(s.head+s.size)%len(s.buf)] = ev
		s.size++
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next pops the oldest buffered event. ok is false when the ring is empty.
func (s *Sink) Next() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return nil, false
	}
	ev := s.buf[s.head]
	s.buf[s.head] = nil
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return ev, true
}

// Notify returns a channel that receives after at least one Publish. It is
// a level trigger: one receive can cover many publishes, so consumers drain
// with Next until it reports empty.
func (s *Sink) Notify() <-chan struct{} { return s.notify }

// Recent returns up to k of the newest buffered events, oldest first,
// without consuming them.
func (s *Sink) Recent(k int) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k > s.size {
		k = s.size
	}
	if k <= 0 {
		return nil
	}
	out := make([]model.Event, 0, k)
	start := s.head + s.size - k
	for i := 0; i < k; i++ {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}

// Close marks the sink closed and wakes any consumer so it can observe the
// drained state. Buffered events stay readable through Next.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Stats returns the sink's counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	depth := s.size
	s.mu.Unlock()
	return Stats{Depth: depth, Dropped: s.dropped.Load()}
}
