package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8082 {
		t.Fatalf("expected default port 8082, got %d", cfg.Server.Port)
	}
	if cfg.App.Prefix != "/hsa-app" || !cfg.App.Debug {
		t.Fatalf("unexpected app defaults: %+v", cfg.App)
	}
	if cfg.Harness.PortLow != 8800 || cfg.Harness.PortHigh != 8900 {
		t.Fatalf("unexpected harness port range: %+v", cfg.Harness)
	}
	if cfg.Harness.ProbeInterval() != 100*time.Millisecond {
		t.Fatalf("expected 100ms probe interval, got %v", cfg.Harness.ProbeInterval())
	}
	phases := cfg.Harness.StopPhases()
	if len(phases) != 2 || phases[0] != 100*time.Millisecond || phases[1] != time.Second {
		t.Fatalf("unexpected stop phases %v", phases)
	}
	if len(cfg.Harness.Backends) != 3 {
		t.Fatalf("expected three default backends, got %v", cfg.Harness.Backends)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  host: 0.0.0.0
  port: 9090
  backend: h2c
  shutdown_timeout_seconds: 3
app:
  prefix: /annotate
  template_dir: views
  static_dir: static
  debug: false
  max_upload_bytes: 1024
storage:
  driver: gcs
  gcs_bucket: hsa-images
  prefix: uploads
db:
  dsn: postgres://localhost/hsa
  table: writes
pubsub:
  project_id: proj
  topic_name: attribute-writes
logging:
  development: false
  file: /tmp/hsa.log
harness:
  port_low: 9800
  port_high: 9810
  probe_attempts: 5
  probe_interval_ms: 20
  stop_rounds: 3
  stop_phases_ms: [10, 50]
  backends: [nethttp]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Backend != "h2c" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if got := cfg.ShutdownTimeout(); got != 3*time.Second {
		t.Fatalf("expected shutdown timeout 3s, got %v", got)
	}
	if cfg.App.Debug || cfg.App.Prefix != "/annotate" || cfg.App.MaxUploadBytes != 1024 {
		t.Fatalf("expected app overrides, got %+v", cfg.App)
	}
	if cfg.Storage.Driver != StorageDriverGCS || cfg.Storage.GCSBucket != "hsa-images" {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.DB.Table != "writes" || cfg.PubSub.TopicName != "attribute-writes" {
		t.Fatalf("expected db/pubsub overrides")
	}
	if cfg.Harness.ProbeAttempts != 5 || len(cfg.Harness.Backends) != 1 {
		t.Fatalf("expected harness overrides, got %+v", cfg.Harness)
	}
	if phases := cfg.Harness.StopPhases(); phases[1] != 50*time.Millisecond {
		t.Fatalf("unexpected stop phases %v", phases)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8082, ShutdownTimeoutSeconds: 5},
		App:     AppConfig{Prefix: "/hsa-app", MaxUploadBytes: 1},
		Storage: StorageConfig{Driver: StorageDriverMemory},
		Harness: HarnessConfig{
			PortLow: 8800, PortHigh: 8900,
			ProbeAttempts: 1, ProbeIntervalMs: 1,
			StopRounds: 1, StopPhasesMs: []int{1},
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name string
		cfg  func(c Config) Config
		want string
	}{
		{"invalid port", func(c Config) Config { c.Server.Port = 0; return c }, "server.port"},
		{"invalid shutdown", func(c Config) Config { c.Server.ShutdownTimeoutSeconds = 0; return c }, "server.shutdown_timeout_seconds"},
		{"relative prefix", func(c Config) Config { c.App.Prefix = "hsa"; return c }, "app.prefix"},
		{"upload cap", func(c Config) Config { c.App.MaxUploadBytes = 0; return c }, "app.max_upload_bytes"},
		{"negative upload rate", func(c Config) Config { c.App.UploadRPS = -1; return c }, "app.upload_rps"},
		{"local without dir", func(c Config) Config { c.Storage.Driver = StorageDriverLocal; return c }, "storage.image_dir"},
		{"gcs without bucket", func(c Config) Config { c.Storage.Driver = StorageDriverGCS; return c }, "storage.gcs_bucket"},
		{"unknown driver", func(c Config) Config { c.Storage.Driver = "s3"; return c }, "storage.driver"},
		{"topic without project", func(c Config) Config { c.PubSub.TopicName = "t"; return c }, "pubsub.project_id"},
		{"empty port range", func(c Config) Config { c.Harness.PortHigh = c.Harness.PortLow; return c }, "harness.port_low"},
		{"no probes", func(c Config) Config { c.Harness.ProbeAttempts = 0; return c }, "harness.probe_attempts"},
		{"no phases", func(c Config) Config { c.Harness.StopPhasesMs = nil; return c }, "harness.stop_rounds"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg(base).Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
