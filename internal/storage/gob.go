package storage

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nipi/internal/model"
)

// archiveSummary holds the run's totals, written next to the stream files.
type archiveSummary struct {
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Flows      uint64 `json:"flows"`
	Snapshots  uint64 `json:"snapshots"`
	Events     uint64 `json:"events"`
}

// GobWriter archives the pipeline's output streams to disk in gob format,
// one directory per run: flows.dat, snapshots.dat, events.dat and a
// summary.json with totals.
type GobWriter struct {
	dir       string
	startedAt time.Time

	flowFile *os.File
	snapFile *os.File
	evFile   *os.File
	flowEnc  *gob.Encoder
	snapEnc  *gob.Encoder
	evEnc    *gob.Encoder

	flows     uint64
	snapshots uint64
	events    uint64
}

// NewGobWriter creates a timestamped run directory under rootPath and opens
// the three stream files.
func NewGobWriter(rootPath string) (*GobWriter, error) {
	now := time.Now().UTC()
	dir := filepath.Join(rootPath, now.Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	w := &GobWriter{dir: dir, startedAt: now}
	var err error
	if w.flowFile, err = os.Create(filepath.Join(dir, "flows.dat")); err != nil {
		return nil, fmt.Errorf("failed to create flows.dat: %w", err)
	}
	if w.snapFile, err = os.Create(filepath.Join(dir, "snapshots.dat")); err != nil {
		w.flowFile.Close()
		return nil, fmt.Errorf("failed to create snapshots.dat: %w", err)
	}
	if w.evFile, err = os.Create(filepath.Join(dir, "events.dat")); err != nil {
		w.flowFile.Close()
		w.snapFile.Close()
		return nil, fmt.Errorf("failed to create events.dat: %w", err)
	}
	w.flowEnc = gob.NewEncoder(w.flowFile)
	w.snapEnc = gob.NewEncoder(w.snapFile)
	w.evEnc = gob.NewEncoder(w.evFile)
	return w, nil
}

// Dir returns the run directory, mainly for tests and log lines.
func (w *GobWriter) Dir() string { return w.dir }

// WriteSummary appends one closed-flow summary to flows.dat.
func (w *GobWriter) WriteSummary(s *model.FlowSummary) error {
	if err := w.flowEnc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode flow summary: %w", err)
	}
	w.flows++
	return nil
}

// WriteSnapshot appends one metric snapshot to snapshots.dat.
func (w *GobWriter) WriteSnapshot(snap *model.MetricSnapshot) error {
	if err := w.snapEnc.Encode(snap); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	w.snapshots++
	return nil
}

// WriteEvent appends one security event to events.dat.
func (w *GobWriter) WriteEvent(ev *model.SecurityEvent) error {
	if err := w.evEnc.Encode(ev); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	w.events++
	return nil
}

// Close flushes the stream files and writes summary.json.
func (w *GobWriter) Close() error {
	var firstErr error
	for _, f := range []*os.File{w.flowFile, w.snapFile, w.evFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	summary := archiveSummary{
		StartedAt:  w.startedAt.Format(time.RFC3339),
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		Flows:      w.flows,
		Snapshots:  w.snapshots,
		Events:     w.events,
	}
	f, err := os.Create(filepath.Join(w.dir, "summary.json"))
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to create summary file: %w", err)
		}
		return firstErr
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return firstErr
}
