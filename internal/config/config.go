// Package config loads and validates hsa-app configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
	Harness HarnessConfig `mapstructure:"harness"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	Backend                string `mapstructure:"backend"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// AppConfig configures the annotator application surface.
type AppConfig struct {
	Prefix         string `mapstructure:"prefix"`
	TemplateDir    string `mapstructure:"template_dir"`
	StaticDir      string `mapstructure:"static_dir"`
	Debug          bool   `mapstructure:"debug"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	// UploadRPS limits POSTs per client IP; 0 disables the limiter.
	UploadRPS   float64 `mapstructure:"upload_rps"`
	UploadBurst int     `mapstructure:"upload_burst"`
}

// StorageConfig selects where image resources live.
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	ImageDir  string `mapstructure:"image_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the attribute write ledger.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for write notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and file output.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// HarnessConfig governs the server-conformance harness.
type HarnessConfig struct {
	PortLow         int      `mapstructure:"port_low"`
	PortHigh        int      `mapstructure:"port_high"`
	ProbeAttempts   int      `mapstructure:"probe_attempts"`
	ProbeIntervalMs int      `mapstructure:"probe_interval_ms"`
	StopRounds      int      `mapstructure:"stop_rounds"`
	StopPhasesMs    []int    `mapstructure:"stop_phases_ms"`
	Backends        []string `mapstructure:"backends"`
}

// Storage drivers accepted by storage.driver.
const (
	StorageDriverLocal  = "local"
	StorageDriverMemory = "memory"
	StorageDriverGCS    = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.backend", "nethttp")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("app.prefix", "/hsa-app")
	v.SetDefault("app.template_dir", "")
	v.SetDefault("app.static_dir", "")
	v.SetDefault("app.debug", true)
	v.SetDefault("app.max_upload_bytes", 64<<20)
	v.SetDefault("app.upload_rps", 0)
	v.SetDefault("app.upload_burst", 10)
	v.SetDefault("storage.driver", StorageDriverLocal)
	v.SetDefault("storage.image_dir", "images")
	v.SetDefault("db.table", "attribute_writes")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("harness.port_low", 8800)
	v.SetDefault("harness.port_high", 8900)
	v.SetDefault("harness.probe_attempts", 100)
	v.SetDefault("harness.probe_interval_ms", 100)
	v.SetDefault("harness.stop_rounds", 10)
	v.SetDefault("harness.stop_phases_ms", []int{100, 1000})
	v.SetDefault("harness.backends", []string{"nethttp", "pooled", "h2c"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("server.shutdown_timeout_seconds must be > 0")
	}
	if c.App.Prefix != "" && !strings.HasPrefix(c.App.Prefix, "/") {
		return fmt.Errorf("app.prefix must start with /")
	}
	if c.App.MaxUploadBytes <= 0 {
		return fmt.Errorf("app.max_upload_bytes must be > 0")
	}
	if c.App.UploadRPS < 0 || c.App.UploadBurst < 0 {
		return fmt.Errorf("app.upload_rps and app.upload_burst must be >= 0")
	}
	switch c.Storage.Driver {
	case StorageDriverLocal:
		if strings.TrimSpace(c.Storage.ImageDir) == "" {
			return fmt.Errorf("storage.image_dir must be set for the local driver")
		}
	case StorageDriverMemory:
	case StorageDriverGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of local, memory, gcs", c.Storage.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Harness.PortLow <= 0 || c.Harness.PortHigh <= c.Harness.PortLow || c.Harness.PortHigh > 65536 {
		return fmt.Errorf("harness.port_low/port_high must describe a non-empty range")
	}
	if c.Harness.ProbeAttempts <= 0 || c.Harness.ProbeIntervalMs <= 0 {
		return fmt.Errorf("harness.probe_attempts and harness.probe_interval_ms must be > 0")
	}
	if c.Harness.StopRounds <= 0 || len(c.Harness.StopPhasesMs) == 0 {
		return fmt.Errorf("harness.stop_rounds and harness.stop_phases_ms must be set")
	}
	return nil
}

// ShutdownTimeout converts the configured shutdown budget into a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// ProbeInterval converts the harness probe spacing into a duration.
func (c HarnessConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalMs) * time.Millisecond
}

// StopPhases converts the escalation phase bases into durations.
func (c HarnessConfig) StopPhases() []time.Duration {
	out := make([]time.Duration, len(c.StopPhasesMs))
	for i, ms := range c.StopPhasesMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
