// Package config loads navigator service configuration from TOML files
// with environment variable overrides and optional hot reload of tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root service configuration.
type Config struct {
	Queue     QueueConfig     `toml:"queue"`
	Gateways  GatewaysConfig  `toml:"gateways"`
	SMS       SMSConfig       `toml:"sms"`
	API       APIConfig       `toml:"api"`
	Store     StoreConfig     `toml:"store"`
	Bus       BusConfig       `toml:"bus"`
	Search    SearchConfig    `toml:"search"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// QueueConfig holds submission queue tunables.
type QueueConfig struct {
	// PollInterval is how often the worker polls for due submissions.
	PollInterval Duration `toml:"poll_interval"`

	// Concurrency is the number of concurrent transmit workers.
	Concurrency int `toml:"concurrency"`

	// MaxAttempts before a submission is dead-lettered.
	MaxAttempts int `toml:"max_attempts"`

	// BackoffBase is the first retry delay.
	BackoffBase Duration `toml:"backoff_base"`

	// BackoffCap bounds the retry delay.
	BackoffCap Duration `toml:"backoff_cap"`

	// BackoffMultiplier scales the delay per attempt.
	BackoffMultiplier float64 `toml:"backoff_multiplier"`

	// VisibilityTimeout is how long a claim may be held before the
	// reaper returns the submission to pending.
	VisibilityTimeout Duration `toml:"visibility_timeout"`

	// AckPollInterval is how often acknowledgments are fetched.
	AckPollInterval Duration `toml:"ack_poll_interval"`
}

// GatewayConfig holds per-gateway settings.
type GatewayConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`

	// RateCapacity transmissions per RateWindow.
	RateCapacity int      `toml:"rate_capacity"`
	RateWindow   Duration `toml:"rate_window"`

	// BreakerThreshold is the consecutive failure count that opens the circuit.
	BreakerThreshold int `toml:"breaker_threshold"`

	// BreakerCooldown is how long the circuit stays open before a probe.
	BreakerCooldown Duration `toml:"breaker_cooldown"`

	// HealthInterval is the gateway ping period.
	HealthInterval Duration `toml:"health_interval"`
}

// GatewaysConfig holds settings for both government gateways.
type GatewaysConfig struct {
	MeF   GatewayConfig `toml:"mef"`
	IFile GatewayConfig `toml:"ifile"`
}

// SMSConfig holds Twilio settings. The auth token comes from credentials.
type SMSConfig struct {
	Enabled    bool   `toml:"enabled"`
	AccountSID string `toml:"account_sid"`
	FromNumber string `toml:"from_number"`

	// PublicURL is the exact webhook URL registered with Twilio; it is
	// part of the signed payload, so it must match what Twilio posts to.
	PublicURL string `toml:"public_url"`
}

// APIConfig holds the admin API settings.
type APIConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	// Path to the SQLite database file. Empty means in-memory.
	Path string `toml:"path"`
}

// BusConfig selects the event bus backend.
type BusConfig struct {
	// Backend is "memory" or "nats".
	Backend string `toml:"backend"`
	NATSURL string `toml:"nats_url"`
}

// SearchConfig holds the bleve index settings.
type SearchConfig struct {
	// IndexPath is the directory for the bleve index. Empty disables search.
	IndexPath string `toml:"index_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// TelemetryConfig selects the event exporter backend.
type TelemetryConfig struct {
	// Protocol is "http", "file" or "noop".
	Protocol string `toml:"protocol"`

	// Endpoint is the collector URL for http, the file path for file.
	Endpoint string `toml:"endpoint"`
}

// Duration wraps time.Duration for TOML decoding of strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		Queue: QueueConfig{
			PollInterval:      Duration{5 * time.Second},
			Concurrency:       4,
			MaxAttempts:       5,
			BackoffBase:       Duration{30 * time.Second},
			BackoffCap:        Duration{time.Hour},
			BackoffMultiplier: 2.0,
			VisibilityTimeout: Duration{10 * time.Minute},
			AckPollInterval:   Duration{time.Minute},
		},
		Gateways: GatewaysConfig{
			MeF: GatewayConfig{
				Timeout:          Duration{30 * time.Second},
				RateCapacity:     60,
				RateWindow:       Duration{time.Minute},
				BreakerThreshold: 5,
				BreakerCooldown:  Duration{time.Minute},
				HealthInterval:   Duration{30 * time.Second},
			},
			IFile: GatewayConfig{
				Timeout:          Duration{30 * time.Second},
				RateCapacity:     30,
				RateWindow:       Duration{time.Minute},
				BreakerThreshold: 5,
				BreakerCooldown:  Duration{time.Minute},
				HealthInterval:   Duration{30 * time.Second},
			},
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Bus: BusConfig{
			Backend: "memory",
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// StandardPaths returns the standard config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"navigator.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "navigator", "navigator.toml"))
	}
	paths = append(paths, "/etc/navigator/navigator.toml")

	return paths
}

// Load loads configuration from the first available standard location,
// falling back to defaults when no file is found. Environment overrides
// are applied last.
func Load() (Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			return cfg, path, err
		}
	}
	cfg := Default()
	applyEnvOverrides(&cfg)
	return cfg, "", nil
}

// LoadFile loads configuration from a specific file on top of defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides applies NAVIGATOR_* environment variables on top of
// file values. Only operationally useful knobs are overridable.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NAVIGATOR_LISTEN_ADDR"); v != "" {
		cfg.API.ListenAddr = v
	}
	if v := os.Getenv("NAVIGATOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("NAVIGATOR_NATS_URL"); v != "" {
		cfg.Bus.Backend = "nats"
		cfg.Bus.NATSURL = v
	}
	if v := os.Getenv("NAVIGATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NAVIGATOR_MEF_URL"); v != "" {
		cfg.Gateways.MeF.BaseURL = v
	}
	if v := os.Getenv("NAVIGATOR_IFILE_URL"); v != "" {
		cfg.Gateways.IFile.BaseURL = v
	}
	if v := os.Getenv("NAVIGATOR_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.Concurrency = n
		}
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("queue.concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffMultiplier < 1 {
		return fmt.Errorf("queue.backoff_multiplier must be >= 1, got %v", c.Queue.BackoffMultiplier)
	}
	if c.Queue.BackoffBase.Duration <= 0 {
		return fmt.Errorf("queue.backoff_base must be positive")
	}
	if c.Queue.BackoffCap.Duration < c.Queue.BackoffBase.Duration {
		return fmt.Errorf("queue.backoff_cap must be >= queue.backoff_base")
	}
	switch c.Bus.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("bus.backend must be memory or nats, got %q", c.Bus.Backend)
	}
	return nil
}
