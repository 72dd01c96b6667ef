// Package detect evaluates a closed set of security rules against flow
// updates and metric snapshots. Rules are independent of one another; each
// holds its own bounded historical state and fires at most once per
// (offending key, detection window).
package detect

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"nipi/internal/config"
	"nipi/internal/model"
)

// Engine dispatches updates to its rule set.
type Engine struct {
	rules []model.Rule
	allow map[netip.Addr]struct{}

	emitted   atomic.Uint64
	evictions atomic.Uint64
}

// Stats are the engine's health counters.
type Stats struct {
	EventsEmitted     uint64 `json:"events_emitted"`
	CapacityEvictions uint64 `json:"capacity_evictions"`
}

// NewEngine builds the rule set from config. Address lists were validated at
// config load; a parse failure here is a programming error and is reported.
func NewEngine(cfg config.DetectConfig) (*Engine, error) {
	e := &Engine{allow: make(map[netip.Addr]struct{}, len(cfg.Allowlist))}

	for _, s := range cfg.Allowlist {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", s, err)
		}
		e.allow[addr] = struct{}{}
	}

	deny := make(map[netip.Addr]struct{}, len(cfg.Denylist))
	for _, s := range cfg.Denylist {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("denylist entry %q: %w", s, err)
		}
		deny[addr] = struct{}{}
	}

	e.rules = []model.Rule{
		newPortScanRule(cfg.ScanPortThreshold, cfg.MaxTrackedSources, &e.evictions),
		newSynFloodRule(cfg.FloodPacketThreshold, cfg.MaxTrackedSources, &e.evictions),
		newMembershipRule(deny),
		newZScoreRule(cfg.AnomalyZScore, cfg.BaselineWindows),
	}
	return e, nil
}

// EvaluateFlow runs every rule against one flow update. Updates whose source
// address is allowlisted are exempt.
func (e *Engine) EvaluateFlow(update *model.FlowUpdate) []*model.SecurityEvent {
	if update == nil || update.Record == nil {
		return nil
	}
	if _, ok := e.allow[update.Record.SrcIP]; ok {
		return nil
	}
	var events []*model.SecurityEvent
	for _, rule := range e.rules {
		if ev := rule.EvaluateFlow(update); ev != nil {
			events = append(events, ev)
		}
	}
	e.emitted.Add(uint64(len(events)))
	return events
}

// EvaluateSnapshot runs every rule against a frozen metric snapshot.
func (e *Engine) EvaluateSnapshot(snap *model.MetricSnapshot) []*model.SecurityEvent {
	var events []*model.SecurityEvent
	for _, rule := range e.rules {
		if ev := rule.EvaluateSnapshot(snap); ev != nil {
			events = append(events, ev)
		}
	}
	e.emitted.Add(uint64(len(events)))
	return events
}

// Rollover re-arms suppressed rules and clears per-window state. The
// pipeline calls it at each window boundary.
func (e *Engine) Rollover() {
	for _, rule := range e.rules {
		rule.Rollover()
	}
}

// Stats returns the engine's counters.
func (e *Engine) Stats() Stats {
	return Stats{
		EventsEmitted:     e.emitted.Load(),
		CapacityEvictions: e.evictions.Load(),
	}
}

func newEvent(kind model.EventKind, sev model.Severity, src, dst netip.Addr, key *model.FlowKey, msg string, observed, threshold float64, at time.Time) *model.SecurityEvent {
	return &model.SecurityEvent{
		Kind:      kind,
		Severity:  sev,
		Level:     sev.String(),
		SourceIP:  src,
		TargetIP:  dst,
		Key:       key,
		Message:   msg,
		Evidence:  model.Evidence{Observed: observed, Threshold: threshold},
		Timestamp: at,
	}
}
