package probe

import (
	"fmt"
	"log"

	"github.com/nats-io/nats.go"

	"nipi/internal/config"
)

// Handlers receive the raw JSON payloads; the subscriber does not decode
// them so consumers can pick the fields they care about.
type Handlers struct {
	OnFlow     func(data []byte)
	OnSnapshot func(data []byte)
	OnSecurity func(data []byte)
}

// Subscriber follows an engine's NATS subjects.
type Subscriber struct {
	nc     *nats.Conn
	prefix string
	subs   []*nats.Subscription
}

// NewSubscriber connects to the configured NATS server.
func NewSubscriber(cfg config.NATSConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &Subscriber{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Start subscribes each non-nil handler to its subject.
func (s *Subscriber) Start(h Handlers) error {
	type binding struct {
		suffix  string
		handler func(data []byte)
	}
	for _, b := range []binding{
		{SubjectFlow, h.OnFlow},
		{SubjectSnapshot, h.OnSnapshot},
		{SubjectSecurity, h.OnSecurity},
	} {
		if b.handler == nil {
			continue
		}
		handler := b.handler
		sub, err := s.nc.Subscribe(s.prefix+"."+b.suffix, func(msg *nats.Msg) {
			handler(msg.Data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.prefix+"."+b.suffix, err)
		}
		s.subs = append(s.subs, sub)
	}
	log.Printf("Subscribed to %d subjects under %q", len(s.subs), s.prefix)
	return nil
}

// Close unsubscribes and closes the connection.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Drain()
	}
}
