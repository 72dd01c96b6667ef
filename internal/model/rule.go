package model

// Rule is the capability interface for a single detection rule. Rules are a
// closed set of variants (threshold, membership, statistical); each may hold
// its own bounded historical state but is stateless with respect to other
// rules.
type Rule interface {
	// Name returns the rule's stable identifier.
	Name() string

	// EvaluateFlow inspects one flow update and returns an event if the rule
	// fires. A rule fires at most once per (offending key, detection window).
	EvaluateFlow(update *FlowUpdate) *SecurityEvent

	// EvaluateSnapshot inspects a frozen metric snapshot.
	EvaluateSnapshot(snap *MetricSnapshot) *SecurityEvent

	// Rollover clears per-window state and re-arms suppressed rules. Called
	// once at each window boundary.
	Rollover()
}
