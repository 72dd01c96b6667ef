// Package pipeline wires the capture-to-detection stages together: a
// dispatcher partitions raw frames across a worker pool by flow hash, each
// worker parses, tracks and aggregates its share, and everything the stages
// emit funnels into the event sink.
package pipeline

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nipi/internal/capture"
	"nipi/internal/config"
	"nipi/internal/detect"
	"nipi/internal/metrics"
	"nipi/internal/model"
	"nipi/internal/protocol"
	"nipi/internal/sink"
	"nipi/internal/tracker"
)

// Options tune pipeline behavior beyond the config file.
type Options struct {
	// Replay disables the wall-clock sweep and window tickers. Offline
	// sources carry their own timestamps; windows close on EOF instead.
	Replay bool
}

// Pipeline runs the full processing chain over one capture source.
type Pipeline struct {
	cfg    *config.Config
	src    capture.Source
	flows  *tracker.Tracker
	agg    *metrics.Aggregator
	engine *detect.Engine
	out    *sink.Sink
	replay bool

	queues   []chan model.RawFrame
	workers  sync.WaitGroup
	tickers  sync.WaitGroup
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	dispatched atomic.Uint64
	rejects    [3]atomic.Uint64 // indexed by protocol.RejectReason
}

// Status is a point-in-time view of every stage's counters.
type Status struct {
	Source       capture.Stats     `json:"source"`
	Tracker      tracker.Stats     `json:"tracker"`
	Metrics      metrics.Stats     `json:"metrics"`
	Detect       detect.Stats      `json:"detect"`
	Sink         sink.Stats        `json:"sink"`
	Dispatched   uint64            `json:"dispatched"`
	ParseRejects map[string]uint64 `json:"parse_rejects"`
}

// New assembles a pipeline over src, delivering output through out.
func New(cfg *config.Config, src capture.Source, out *sink.Sink, opts Options) (*Pipeline, error) {
	engine, err := detect.NewEngine(cfg.Detect)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		src:      src,
		flows:    tracker.New(cfg.Pipeline.NumWorkers, cfg.IdleTimeout()),
		agg:      metrics.New(cfg.Window(), cfg.Metrics.TopKSize),
		engine:   engine,
		out:      out,
		replay:   opts.Replay,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Start launches the worker pool, the dispatcher and, for live capture, the
// sweep and window tickers. It returns immediately.
func (p *Pipeline) Start() {
	n := p.cfg.Pipeline.NumWorkers
	p.queues = make([]chan model.RawFrame, n)
	for i := 0; i < n; i++ {
		p.queues[i] = make(chan model.RawFrame, p.cfg.Pipeline.WorkerQueueSize)
		p.workers.Add(1)
		go p.worker(i)
	}

	if !p.replay {
		p.tickers.Add(2)
		go p.sweepLoop()
		go p.windowLoop()
	}

	go p.run()
	log.Printf("pipeline started, workers=%d replay=%v", n, p.replay)
}

// run is the dispatcher. It owns shutdown ordering: when the frame channel
// closes it drains the workers, stops the tickers, flushes residual state
// and closes the sink.
func (p *Pipeline) run() {
	n := uint32(len(p.queues))
	for frame := range p.src.Frames() {
		idx := protocol.FlowHash(frame.Data) % n
		p.queues[idx] <- frame
		p.dispatched.Add(1)
	}

	for _, q := range p.queues {
		close(q)
	}
	p.workers.Wait()
	close(p.done)
	p.tickers.Wait()
	p.flush()
	p.out.Close()
	close(p.finished)
	log.Printf("pipeline drained, frames=%d", p.dispatched.Load())
}

// worker owns one tracker shard and carries its own parser; no two workers
// ever touch the same flow.
func (p *Pipeline) worker(idx int) {
	defer p.workers.Done()
	parser := protocol.NewParser()

	for frame := range p.queues[idx] {
		rec, rej := parser.Parse(frame)
		if rej != nil {
			p.rejects[rej.Reason].Add(1)
			continue
		}

		update, summary := p.flows.Update(idx, rec)
		p.publishSnapshots(p.agg.Record(rec, update.Key))
		for _, ev := range p.engine.EvaluateFlow(update) {
			p.out.Publish(ev)
		}
		if summary != nil {
			p.out.Publish(summary)
		}
	}
}

func (p *Pipeline) sweepLoop() {
	defer p.tickers.Done()
	tick := time.NewTicker(p.cfg.SweepInterval())
	defer tick.Stop()
	for {
		select {
		case now := <-tick.C:
			for _, s := range p.flows.SweepIdle(now) {
				p.out.Publish(s)
			}
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) windowLoop() {
	defer p.tickers.Done()
	tick := time.NewTicker(p.cfg.Window())
	defer tick.Stop()
	for {
		select {
		case now := <-tick.C:
			p.publishSnapshots(p.agg.CloseDue(now))
			p.engine.Rollover()
		case <-p.done:
			return
		}
	}
}

func (p *Pipeline) publishSnapshots(snaps []*model.MetricSnapshot) {
	for _, snap := range snaps {
		p.out.Publish(snap)
		for _, ev := range p.engine.EvaluateSnapshot(snap) {
			p.out.Publish(ev)
		}
	}
}

// flush drains residual state after the last frame: open flows become
// "flushed" summaries and open windows freeze into final snapshots.
func (p *Pipeline) flush() {
	for _, s := range p.flows.FlushAll() {
		p.out.Publish(s)
	}
	p.publishSnapshots(p.agg.FlushAll())
}

// Stop closes the source and blocks until the pipeline has drained. Safe to
// call more than once and safe to call after a replay finished on its own.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(p.src.Close)
	<-p.finished
}

// Wait blocks until the pipeline drains of its own accord, which for replay
// sources happens at end of file.
func (p *Pipeline) Wait() { <-p.finished }

// Status snapshots every stage's counters.
func (p *Pipeline) Status() Status {
	rejects := make(map[string]uint64, len(p.rejects))
	for i := range p.rejects {
		rejects[protocol.RejectReason(i).String()] = p.rejects[i].Load()
	}
	return Status{
		Source:       p.src.Stats(),
		Tracker:      p.flows.Stats(),
		Metrics:      p.agg.Stats(),
		Detect:       p.engine.Stats(),
		Sink:         p.out.Stats(),
		Dispatched:   p.dispatched.Load(),
		ParseRejects: rejects,
	}
}
