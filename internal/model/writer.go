package model

// Writer persists the pipeline's output stream: closed-flow summaries,
// metric snapshots and security events. Implementations are expected to be
// safe for use from a single exporter goroutine.
type Writer interface {
	WriteSummary(summary *FlowSummary) error
	WriteSnapshot(snap *MetricSnapshot) error
	WriteEvent(event *SecurityEvent) error
	Close() error
}
