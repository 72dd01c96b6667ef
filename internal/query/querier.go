// Package query reads history back out of ClickHouse for the API server:
// past security events, heavy talkers and traffic time series beyond what
// the in-memory cache retains.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"nipi/internal/config"
)

// EventRow is one persisted security event.
type EventRow struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Severity  string    `json:"severity"`
	SourceIP  string    `json:"source_ip"`
	TargetIP  string    `json:"target_ip"`
	Message   string    `json:"message"`
	Observed  float64   `json:"observed"`
	Threshold float64   `json:"threshold"`
}

// TalkerRow aggregates one endpoint pair's totals over a time range. The
// endpoints are the flow key's canonical A/B pair, not packet direction.
type TalkerRow struct {
	AddrA   string `json:"addr_a"`
	AddrB   string `json:"addr_b"`
	Flows   uint64 `json:"flows"`
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

// SeriesPoint is one window of the traffic time series.
type SeriesPoint struct {
	WindowStart time.Time `json:"window_start"`
	Packets     uint64    `json:"packets"`
	Bytes       uint64    `json:"bytes"`
}

// Querier defines the history queries the API exposes.
type Querier interface {
	EventHistory(ctx context.Context, since time.Time, limit int) ([]EventRow, error)
	TopTalkers(ctx context.Context, since time.Time, limit int) ([]TalkerRow, error)
	TrafficSeries(ctx context.Context, from, to time.Time) ([]SeriesPoint, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

// EventHistory returns persisted security events newer than since, newest
// first.
func (q *clickhouseQuerier) EventHistory(ctx context.Context, since time.Time, limit int) ([]EventRow, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT Timestamp, Kind, Severity, SourceIP, TargetIP, Message, Observed, Threshold
		FROM security_events
		WHERE Timestamp >= ?
		ORDER BY Timestamp DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var row EventRow
		if err := rows.Scan(&row.Timestamp, &row.Kind, &row.Severity,
			&row.SourceIP, &row.TargetIP, &row.Message, &row.Observed, &row.Threshold); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// TopTalkers aggregates flow summaries since the given time and returns the
// heaviest endpoint pairs by byte count.
func (q *clickhouseQuerier) TopTalkers(ctx context.Context, since time.Time, limit int) ([]TalkerRow, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT
			AddrA,
			AddrB,
			COUNT(*) AS Flows,
			SUM(PacketsAB + PacketsBA) AS Packets,
			SUM(BytesAB + BytesBA) AS Bytes
		FROM flow_summaries
		WHERE LastSeen >= ?
		GROUP BY AddrA, AddrB
		ORDER BY Bytes DESC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []TalkerRow
	for rows.Next() {
		var row TalkerRow
		if err := rows.Scan(&row.AddrA, &row.AddrB, &row.Flows, &row.Packets, &row.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan talker row: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// TrafficSeries returns per-window packet and byte totals between from and to.
func (q *clickhouseQuerier) TrafficSeries(ctx context.Context, from, to time.Time) ([]SeriesPoint, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT WindowStart, Packets, Bytes
		FROM metric_snapshots
		WHERE WindowStart >= ? AND WindowStart < ?
		ORDER BY WindowStart
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.WindowStart, &p.Packets, &p.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
