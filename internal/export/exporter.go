// Package export drains the event sink and fans each event out to the
// configured destinations: storage writers, the NATS publisher, in-process
// observers (the API cache) and, for severe security events, consolidated
// email alerts.
package export

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"nipi/internal/model"
	"nipi/internal/sink"
)

// EventPublisher streams events to an external broker.
type EventPublisher interface {
	Publish(ev model.Event) error
	Close()
}

// Options carry the optional destinations. Nil fields are skipped.
type Options struct {
	Writers   []model.Writer
	Publisher EventPublisher
	Observers []func(model.Event)

	// Notifier receives consolidated alert mails for security events at or
	// above MinSeverity, flushed every AlertInterval.
	Notifier      model.Notifier
	MinSeverity   model.Severity
	AlertInterval time.Duration
}

// Exporter consumes the sink until it closes and drains.
type Exporter struct {
	src  *sink.Sink
	opts Options

	mu      sync.Mutex
	pending []*model.SecurityEvent

	wg sync.WaitGroup
}

// New creates an exporter over src.
func New(src *sink.Sink, opts Options) *Exporter {
	if opts.AlertInterval <= 0 {
		opts.AlertInterval = 30 * time.Second
	}
	return &Exporter{src: src, opts: opts}
}

// Start launches the drain loop. It exits on its own once the sink is
// closed and empty; Stop waits for that.
func (e *Exporter) Start() {
	e.wg.Add(1)
	go e.run()
	log.Printf("exporter started, writers=%d", len(e.opts.Writers))
}

// Stop blocks until the sink has fully drained, then flushes pending alerts
// and closes the destinations.
func (e *Exporter) Stop() {
	e.wg.Wait()
	e.flushAlerts()

	for _, w := range e.opts.Writers {
		if err := w.Close(); err != nil {
			log.Printf("ERROR: failed to close writer: %v", err)
		}
	}
	if e.opts.Publisher != nil {
		e.opts.Publisher.Close()
	}
	log.Println("exporter stopped")
}

func (e *Exporter) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.AlertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.src.Notify():
			for {
				ev, ok := e.src.Next()
				if !ok {
					break
				}
				e.dispatch(ev)
			}
			if e.src.Closed() {
				return
			}
		case <-ticker.C:
			e.flushAlerts()
		}
	}
}

func (e *Exporter) dispatch(ev model.Event) {
	for _, w := range e.opts.Writers {
		var err error
		switch v := ev.(type) {
		case *model.FlowSummary:
			err = w.WriteSummary(v)
		case *model.MetricSnapshot:
			err = w.WriteSnapshot(v)
		case *model.SecurityEvent:
			err = w.WriteEvent(v)
		}
		if err != nil {
			log.Printf("ERROR: writer failed: %v", err)
		}
	}

	if e.opts.Publisher != nil {
		if err := e.opts.Publisher.Publish(ev); err != nil {
			log.Printf("ERROR: publish failed: %v", err)
		}
	}

	for _, obs := range e.opts.Observers {
		obs(ev)
	}

	if sev, ok := ev.(*model.SecurityEvent); ok && e.opts.Notifier != nil && sev.Severity >= e.opts.MinSeverity {
		e.mu.Lock()
		e.pending = append(e.pending, sev)
		e.mu.Unlock()
	}
}

// flushAlerts mails everything batched since the last flush as one message.
func (e *Exporter) flushAlerts() {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 || e.opts.Notifier == nil {
		return
	}

	var parts []string
	for _, ev := range batch {
		parts = append(parts, fmt.Sprintf(
			"<h3>%s (%s)</h3><p>%s</p><p>observed %.1f against threshold %.1f at %s</p>",
			ev.Kind, ev.Level, ev.Message,
			ev.Evidence.Observed, ev.Evidence.Threshold,
			ev.Timestamp.Format(time.RFC3339)))
	}
	body := "<h1>NIPI Alert Summary</h1>" +
		"<p>The following alerts were triggered during the last check:</p><hr>" +
		strings.Join(parts, "<hr>")
	subject := fmt.Sprintf("NIPI Alert Summary (%d Triggered)", len(batch))

	if err := e.opts.Notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: failed to send consolidated alert notification: %v", err)
	} else {
		log.Printf("INFO: consolidated alert notification sent, alerts=%d", len(batch))
	}
}
