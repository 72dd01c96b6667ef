package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
capture:
  interface: eth0
  snapshot_len: 1600
  frame_buffer: 4096
tracker:
  idle_timeout_seconds: 120
metrics:
  window_seconds: 5
  topk_size: 20
detect:
  scan_port_threshold: 50
  denylist: ["203.0.113.7"]
sink:
  capacity: 256
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Capture.Interface != "eth0" {
		t.Errorf("interface = %q, want eth0", cfg.Capture.Interface)
	}
	if cfg.Tracker.IdleTimeoutSeconds != 120 {
		t.Errorf("idle_timeout_seconds = %d, want 120", cfg.Tracker.IdleTimeoutSeconds)
	}
	if cfg.Metrics.TopKSize != 20 {
		t.Errorf("topk_size = %d, want 20", cfg.Metrics.TopKSize)
	}
	// Defaults fill the sections the file does not mention.
	if cfg.Pipeline.NumWorkers != 4 {
		t.Errorf("num_workers default = %d, want 4", cfg.Pipeline.NumWorkers)
	}
	if cfg.Detect.FloodPacketThreshold != 1000 {
		t.Errorf("flood_packet_threshold default = %d, want 1000", cfg.Detect.FloodPacketThreshold)
	}
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero window", func(c *Config) { c.Metrics.WindowSeconds = 0 }, "window_seconds"},
		{"negative timeout", func(c *Config) { c.Tracker.IdleTimeoutSeconds = -1 }, "idle_timeout_seconds"},
		{"zero topk", func(c *Config) { c.Metrics.TopKSize = 0 }, "topk_size"},
		{"zero scan threshold", func(c *Config) { c.Detect.ScanPortThreshold = 0 }, "scan_port_threshold"},
		{"bad zscore", func(c *Config) { c.Detect.AnomalyZScore = -2 }, "anomaly_zscore"},
		{"zero sink", func(c *Config) { c.Sink.Capacity = 0 }, "sink.capacity"},
		{"bad denylist entry", func(c *Config) { c.Detect.Denylist = []string{"not-an-ip"} }, "denylist"},
		{"bad writer type", func(c *Config) { c.Writers = []WriterDef{{Type: "csv"}} }, "unknown type"},
		{"bad backoff", func(c *Config) { c.Capture.ReopenBackoff = "soon" }, "reopen_backoff"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "metrics:\n  window_seconds: -3\n")); err == nil {
		t.Fatal("expected error for invalid window_seconds")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
