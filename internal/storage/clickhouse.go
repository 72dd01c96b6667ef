// Package storage provides the persistent writers behind the exporter:
// ClickHouse for queryable history and gob files for cheap local archives.
package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"nipi/internal/config"
	"nipi/internal/model"
)

const createFlowTable = `
CREATE TABLE IF NOT EXISTS flow_summaries (
    FirstSeen   DateTime64(3),
    LastSeen    DateTime64(3),
    Status      String,
    AddrA       String,
    PortA       UInt16,
    AddrB       String,
    PortB       UInt16,
    Protocol    String,
    PacketsAB   UInt64,
    BytesAB     UInt64,
    PacketsBA   UInt64,
    BytesBA     UInt64,
    MeanGapNano Int64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(LastSeen)
ORDER BY (LastSeen, AddrA);
`

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS metric_snapshots (
    WindowStart DateTime64(3),
    WindowEnd   DateTime64(3),
    Packets     UInt64,
    Bytes       UInt64,
    Throughput  Float64,
    ByProtocol  Map(String, UInt64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(WindowStart)
ORDER BY WindowStart;
`

const createEventTable = `
CREATE TABLE IF NOT EXISTS security_events (
    Timestamp DateTime64(3),
    Kind      String,
    Severity  String,
    SourceIP  String,
    TargetIP  String,
    Message   String,
    Observed  Float64,
    Threshold Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Timestamp, Kind);
`

// ClickHouseWriter persists pipeline output into three MergeTree tables.
type ClickHouseWriter struct {
	conn driver.Conn
}

// NewClickHouseWriter connects, pings and ensures the tables exist.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	for _, stmt := range []string{createFlowTable, createSnapshotTable, createEventTable} {
		if err := conn.Exec(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("failed to create table: %w", err)
		}
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")
	return &ClickHouseWriter{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// WriteSummary inserts one closed-flow summary.
func (w *ClickHouseWriter) WriteSummary(s *model.FlowSummary) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO flow_summaries")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	err = batch.Append(
		s.FirstSeen,
		s.LastSeen,
		s.Status,
		s.Key.AddrA.String(),
		s.Key.PortA,
		s.Key.AddrB.String(),
		s.Key.PortB,
		s.Key.Proto.String(),
		s.PacketsAB,
		s.BytesAB,
		s.PacketsBA,
		s.BytesBA,
		s.MeanGapNano,
	)
	if err != nil {
		return fmt.Errorf("failed to append summary to batch: %w", err)
	}
	return batch.Send()
}

// WriteSnapshot inserts one frozen metric window.
func (w *ClickHouseWriter) WriteSnapshot(snap *model.MetricSnapshot) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO metric_snapshots")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	err = batch.Append(
		snap.WindowStart,
		snap.WindowEnd,
		snap.Packets,
		snap.Bytes,
		snap.Throughput(),
		snap.ByProtocol,
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot to batch: %w", err)
	}
	return batch.Send()
}

// WriteEvent inserts one security event.
func (w *ClickHouseWriter) WriteEvent(ev *model.SecurityEvent) error {
	batch, err := w.conn.PrepareBatch(context.Background(), "INSERT INTO security_events")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	target := ""
	if ev.TargetIP.IsValid() {
		target = ev.TargetIP.String()
	}
	source := ""
	if ev.SourceIP.IsValid() {
		source = ev.SourceIP.String()
	}
	err = batch.Append(
		ev.Timestamp,
		string(ev.Kind),
		ev.Level,
		source,
		target,
		ev.Message,
		ev.Evidence.Observed,
		ev.Evidence.Threshold,
	)
	if err != nil {
		return fmt.Errorf("failed to append event to batch: %w", err)
	}
	return batch.Send()
}

// Close releases the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
