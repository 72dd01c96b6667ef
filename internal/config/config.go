package config

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CaptureConfig selects and tunes the packet source.
type CaptureConfig struct {
	Interface         string `yaml:"interface"` // interface name, or "auto"
	BPFFilter         string `yaml:"bpf_filter"`
	SnapshotLen       int    `yaml:"snapshot_len"`
	Promiscuous       bool   `yaml:"promiscuous"`
	FrameBuffer       int    `yaml:"frame_buffer"`
	MaxReopenAttempts int    `yaml:"max_reopen_attempts"`
	ReopenBackoff     string `yaml:"reopen_backoff"`
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	NumWorkers      int `yaml:"num_workers"`
	WorkerQueueSize int `yaml:"worker_queue_size"`
}

// TrackerConfig tunes the flow table.
type TrackerConfig struct {
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds"`
	SweepInterval      string `yaml:"sweep_interval"`
}

// MetricsConfig tunes windowed aggregation.
type MetricsConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	TopKSize      int `yaml:"topk_size"`
}

// DetectConfig holds rule thresholds and address lists.
type DetectConfig struct {
	ScanPortThreshold    int      `yaml:"scan_port_threshold"`
	FloodPacketThreshold int      `yaml:"flood_packet_threshold"`
	AnomalyZScore        float64  `yaml:"anomaly_zscore"`
	BaselineWindows      int      `yaml:"baseline_windows"`
	MaxTrackedSources    int      `yaml:"max_tracked_sources"`
	Denylist             []string `yaml:"denylist"`
	Allowlist            []string `yaml:"allowlist"`
}

// SinkConfig sizes the event sink ring.
type SinkConfig struct {
	Capacity int `yaml:"capacity"`
}

// ClickHouseConfig holds connection settings for the ClickHouse writer.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// GobConfig holds settings for the gob file writer.
type GobConfig struct {
	RootPath string `yaml:"root_path"`
}

// WriterDef defines a single output writer instance.
type WriterDef struct {
	Type       string           `yaml:"type"` // gob | clickhouse
	Enabled    bool             `yaml:"enabled"`
	Gob        GobConfig        `yaml:"gob"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// NATSConfig configures the event stream publisher.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// SMTPConfig holds the email notifier settings.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	To          string `yaml:"to"`
	MinSeverity string `yaml:"min_severity"`
}

// APIConfig configures the status HTTP server.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Detect   DetectConfig   `yaml:"detect"`
	Sink     SinkConfig     `yaml:"sink"`
	Writers  []WriterDef    `yaml:"writers"`
	NATS     NATSConfig     `yaml:"nats"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	API      APIConfig      `yaml:"api"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			Interface:         "auto",
			SnapshotLen:       1600,
			Promiscuous:       true,
			FrameBuffer:       8192,
			MaxReopenAttempts: 5,
			ReopenBackoff:     "2s",
		},
		Pipeline: PipelineConfig{NumWorkers: 4, WorkerQueueSize: 1024},
		Tracker:  TrackerConfig{IdleTimeoutSeconds: 300, SweepInterval: "30s"},
		Metrics:  MetricsConfig{WindowSeconds: 10, TopKSize: 10},
		Detect: DetectConfig{
			ScanPortThreshold:    100,
			FloodPacketThreshold: 1000,
			AnomalyZScore:        3.0,
			BaselineWindows:      12,
			MaxTrackedSources:    65536,
		},
		Sink: SinkConfig{Capacity: 1024},
		API:  APIConfig{Enabled: true, ListenAddr: ":8080"},
	}
}

// LoadConfig reads the configuration from a YAML file, applies defaults for
// absent sections and validates the result.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects out-of-range option values. Invalid values are never
// silently clamped.
func (c *Config) Validate() error {
	if c.Capture.SnapshotLen <= 0 {
		return fmt.Errorf("capture.snapshot_len must be positive, got %d", c.Capture.SnapshotLen)
	}
	if c.Capture.FrameBuffer <= 0 {
		return fmt.Errorf("capture.frame_buffer must be positive, got %d", c.Capture.FrameBuffer)
	}
	if c.Capture.MaxReopenAttempts < 0 {
		return fmt.Errorf("capture.max_reopen_attempts must not be negative, got %d", c.Capture.MaxReopenAttempts)
	}
	if _, err := time.ParseDuration(c.Capture.ReopenBackoff); err != nil {
		return fmt.Errorf("capture.reopen_backoff: %w", err)
	}
	if c.Pipeline.NumWorkers <= 0 {
		return fmt.Errorf("pipeline.num_workers must be positive, got %d", c.Pipeline.NumWorkers)
	}
	if c.Pipeline.WorkerQueueSize <= 0 {
		return fmt.Errorf("pipeline.worker_queue_size must be positive, got %d", c.Pipeline.WorkerQueueSize)
	}
	if c.Tracker.IdleTimeoutSeconds <= 0 {
		return fmt.Errorf("tracker.idle_timeout_seconds must be positive, got %d", c.Tracker.IdleTimeoutSeconds)
	}
	if _, err := time.ParseDuration(c.Tracker.SweepInterval); err != nil {
		return fmt.Errorf("tracker.sweep_interval: %w", err)
	}
	if c.Metrics.WindowSeconds <= 0 {
		return fmt.Errorf("metrics.window_seconds must be positive, got %d", c.Metrics.WindowSeconds)
	}
	if c.Metrics.TopKSize <= 0 {
		return fmt.Errorf("metrics.topk_size must be positive, got %d", c.Metrics.TopKSize)
	}
	if c.Detect.ScanPortThreshold <= 0 {
		return fmt.Errorf("detect.scan_port_threshold must be positive, got %d", c.Detect.ScanPortThreshold)
	}
	if c.Detect.FloodPacketThreshold <= 0 {
		return fmt.Errorf("detect.flood_packet_threshold must be positive, got %d", c.Detect.FloodPacketThreshold)
	}
	if c.Detect.AnomalyZScore <= 0 {
		return fmt.Errorf("detect.anomaly_zscore must be positive, got %f", c.Detect.AnomalyZScore)
	}
	if c.Detect.BaselineWindows < 2 {
		return fmt.Errorf("detect.baseline_windows must be at least 2, got %d", c.Detect.BaselineWindows)
	}
	if c.Detect.MaxTrackedSources <= 0 {
		return fmt.Errorf("detect.max_tracked_sources must be positive, got %d", c.Detect.MaxTrackedSources)
	}
	for _, addr := range c.Detect.Denylist {
		if _, err := netip.ParseAddr(addr); err != nil {
			return fmt.Errorf("detect.denylist entry %q: %w", addr, err)
		}
	}
	for _, addr := range c.Detect.Allowlist {
		if _, err := netip.ParseAddr(addr); err != nil {
			return fmt.Errorf("detect.allowlist entry %q: %w", addr, err)
		}
	}
	if c.Sink.Capacity <= 0 {
		return fmt.Errorf("sink.capacity must be positive, got %d", c.Sink.Capacity)
	}
	for i, def := range c.Writers {
		if def.Type != "gob" && def.Type != "clickhouse" {
			return fmt.Errorf("writers[%d]: unknown type %q", i, def.Type)
		}
	}
	return nil
}

// IdleTimeout returns tracker.idle_timeout_seconds as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Tracker.IdleTimeoutSeconds) * time.Second
}

// Window returns metrics.window_seconds as a duration.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Metrics.WindowSeconds) * time.Second
}

// SweepInterval returns the parsed tracker sweep interval.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Tracker.SweepInterval)
	return d
}

// ReopenBackoff returns the parsed capture reopen backoff.
func (c *Config) ReopenBackoff() time.Duration {
	d, _ := time.ParseDuration(c.Capture.ReopenBackoff)
	return d
}
