// Package api exposes the engine's state over HTTP: JSON endpoints for
// status, latest metrics and recent events, and a websocket that pushes
// security events as they happen.
package api

import (
	"encoding/json"
	"sync"

	"nipi/internal/model"
)

const (
	maxRecentEvents = 256
	maxRecentFlows  = 128
)

// Cache keeps the most recent pipeline output for the read endpoints. It is
// fed through Observe, which the exporter calls for every event.
type Cache struct {
	mu     sync.RWMutex
	latest *model.MetricSnapshot
	events []*model.SecurityEvent
	flows  []*model.FlowSummary

	subMu sync.Mutex
	subs  map[chan []byte]struct{}
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{subs: make(map[chan []byte]struct{})}
}

// Observe folds one pipeline event into the cache. Security events are also
// broadcast to websocket subscribers.
func (c *Cache) Observe(ev model.Event) {
	switch v := ev.(type) {
	case *model.MetricSnapshot:
		c.mu.Lock()
		c.latest = v
		c.mu.Unlock()
	case *model.SecurityEvent:
		c.mu.Lock()
		c.events = append(c.events, v)
		if len(c.events) > maxRecentEvents {
			c.events = c.events[len(c.events)-maxRecentEvents:]
		}
		c.mu.Unlock()
		c.broadcast(v)
	case *model.FlowSummary:
		c.mu.Lock()
		c.flows = append(c.flows, v)
		if len(c.flows) > maxRecentFlows {
			c.flows = c.flows[len(c.flows)-maxRecentFlows:]
		}
		c.mu.Unlock()
	}
}

// Latest returns the most recently closed metric window, or nil.
func (c *Cache) Latest() *model.MetricSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// RecentEvents returns up to n of the newest security events, newest last.
func (c *Cache) RecentEvents(n int) []*model.SecurityEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > len(c.events) {
		n = len(c.events)
	}
	out := make([]*model.SecurityEvent, n)
	copy(out, c.events[len(c.events)-n:])
	return out
}

// RecentFlows returns up to n of the newest closed-flow summaries.
func (c *Cache) RecentFlows(n int) []*model.FlowSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 || n > len(c.flows) {
		n = len(c.flows)
	}
	out := make([]*model.FlowSummary, n)
	copy(out, c.flows[len(c.flows)-n:])
	return out
}

// Subscribe registers a websocket feed. The returned channel receives JSON
// encoded security events; slow subscribers lose events rather than block
// the cache.
func (c *Cache) Subscribe() chan []byte {
	ch := make(chan []byte, 32)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a feed registered with Subscribe.
func (c *Cache) Unsubscribe(ch chan []byte) {
	c.subMu.Lock()
	delete(c.subs, ch)
	c.subMu.Unlock()
}

func (c *Cache) broadcast(ev *model.SecurityEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- data:
		default:
		}
	}
}
