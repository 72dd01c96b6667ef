// Package probe streams pipeline output over NATS so detached consumers
// (dashboards, archivers) can follow a live engine. Payloads are JSON; each
// output kind gets its own subject under a common prefix.
package probe

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"nipi/internal/config"
	"nipi/internal/model"
)

// Subject suffixes, one per output stream.
const (
	SubjectFlow     = "flow"
	SubjectSnapshot = "snapshot"
	SubjectSecurity = "security"
)

// Publisher pushes pipeline output onto NATS subjects.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg config.NATSConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Publisher{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Publish routes one pipeline event to its subject.
func (p *Publisher) Publish(ev model.Event) error {
	var suffix string
	switch ev.(type) {
	case *model.FlowSummary:
		suffix = SubjectFlow
	case *model.MetricSnapshot:
		suffix = SubjectSnapshot
	case *model.SecurityEvent:
		suffix = SubjectSecurity
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", suffix, err)
	}
	return p.nc.Publish(p.prefix+"."+suffix, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
