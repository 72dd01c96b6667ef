// Package capture abstracts the packet capture mechanism behind a Source:
// a lazy, ordered sequence of raw link-layer frames with capture timestamps.
package capture

import (
	"sync/atomic"

	"nipi/internal/model"
)

// Stats are the source's health counters. Drops are reported, never silently
// absorbed.
type Stats struct {
	Received    uint64 `json:"received"`
	KernelDrops uint64 `json:"kernel_drops"`
	BufferDrops uint64 `json:"buffer_drops"`
}

// Source produces raw frames on a bounded channel. The channel closes when
// the source is exhausted (replay end, Close, or an unrecoverable capture
// error after retries), which is the pipeline's terminal signal.
type Source interface {
	// Frames returns the frame channel. Only the pipeline's dispatcher
	// should receive from it.
	Frames() <-chan model.RawFrame

	// Stats returns a best-effort view of the source's counters.
	Stats() Stats

	// Close stops capture and releases the underlying handle. Idempotent.
	Close()
}

// counters is the shared atomic counter block for source implementations.
type counters struct {
	received    atomic.Uint64
	kernelDrops atomic.Uint64
	bufferDrops atomic.Uint64
}

func (c *counters) stats() Stats {
	return Stats{
		Received:    c.received.Load(),
		KernelDrops: c.kernelDrops.Load(),
		BufferDrops: c.bufferDrops.Load(),
	}
}
