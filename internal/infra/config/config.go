package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	StorePath  string `yaml:"store_path"`
	DeviceName string `yaml:"device_name"`

	Store     StoreConfig     `yaml:"store"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Media     MediaConfig     `yaml:"media"`
}

// StoreConfig bounds the event store connection pool and its retry policy.
type StoreConfig struct {
	PoolSize       int           `yaml:"pool_size"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBase      time.Duration `yaml:"retry_base"`
}

// ReconnectConfig is the per-session reconnect policy.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	Factor      float64       `yaml:"factor"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// WebhookConfig is the delivery policy applied to every subscriber.
type WebhookConfig struct {
	Attempts int           `yaml:"attempts"`
	Timeout  time.Duration `yaml:"timeout"`
	Backoff  time.Duration `yaml:"backoff"`

	// GlobalURL receives events from every session in addition to per-session subscriptions.
	GlobalURL    string   `yaml:"global_url"`
	GlobalEvents []string `yaml:"global_events"`
}

// BulkConfig limits bulk send jobs.
type BulkConfig struct {
	MaxRecipients int           `yaml:"max_recipients"`
	MaxJobs       int           `yaml:"max_jobs"`
	DefaultDelay  time.Duration `yaml:"default_delay"`
	TypingDelay   time.Duration `yaml:"typing_delay"`
}

// IngestConfig sizes the per-session event queue.
type IngestConfig struct {
	QueueSize       int `yaml:"queue_size"`
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// MediaConfig controls automatic media downloads.
type MediaConfig struct {
	AutoDownload     bool          `yaml:"auto_download"`
	WorkerCount      int           `yaml:"worker_count"`
	QueueSize        int           `yaml:"queue_size"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		LogLevel:   "INFO",
		StorePath:  filepath.Join(homeDir, ".orion-gateway", "store"),
		DeviceName: "Orion Gateway",
		Store: StoreConfig{
			PoolSize:       8,
			AcquireTimeout: 5 * time.Second,
			BusyTimeout:    5 * time.Second,
			RetryAttempts:  3,
			RetryBase:      50 * time.Millisecond,
		},
		Reconnect: ReconnectConfig{
			BaseDelay:   2 * time.Second,
			Factor:      2,
			MaxDelay:    time.Minute,
			MaxAttempts: 5,
		},
		Webhook: WebhookConfig{
			Attempts: 3,
			Timeout:  10 * time.Second,
			Backoff:  time.Second,
		},
		Bulk: BulkConfig{
			MaxRecipients: 100,
			MaxJobs:       150,
			DefaultDelay:  3 * time.Second,
		},
		Ingest: IngestConfig{
			QueueSize:       256,
			MaxPayloadBytes: 1 << 20,
		},
		Media: MediaConfig{
			AutoDownload:     false,
			WorkerCount:      3,
			QueueSize:        100,
			RetryMaxAttempts: 3,
			RetryBackoff:     500 * time.Millisecond,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// A missing file is not an error.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Load loads configuration from an optional file and applies ORION_* environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		var err error
		if cfg, err = LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ORION_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORION_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("ORION_DEVICE_NAME"); v != "" {
		cfg.DeviceName = v
	}
	if v := os.Getenv("ORION_WEBHOOK_URL"); v != "" {
		cfg.Webhook.GlobalURL = v
	}
	if v := os.Getenv("ORION_WEBHOOK_EVENTS"); v != "" {
		cfg.Webhook.GlobalEvents = splitList(v)
	}
	if v := os.Getenv("ORION_RECONNECT_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reconnect.MaxAttempts = n
		}
	}
	if v := os.Getenv("ORION_BULK_MAX_RECIPIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bulk.MaxRecipients = n
		}
	}
	if v := os.Getenv("ORION_MEDIA_AUTO_DOWNLOAD"); v != "" {
		cfg.Media.AutoDownload = v == "true" || v == "1"
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the runtime cannot operate with.
func (c *Config) Validate() error {
	switch {
	case c.StorePath == "":
		return fmt.Errorf("store_path must be set")
	case c.Store.PoolSize < 1:
		return fmt.Errorf("store.pool_size must be at least 1")
	case c.Reconnect.Factor < 1:
		return fmt.Errorf("reconnect.factor must be >= 1")
	case c.Webhook.Attempts < 1:
		return fmt.Errorf("webhook.attempts must be at least 1")
	case c.Bulk.MaxRecipients < 1:
		return fmt.Errorf("bulk.max_recipients must be at least 1")
	case c.Ingest.QueueSize < 1:
		return fmt.Errorf("ingest.queue_size must be at least 1")
	}
	return nil
}

// DatabasePath returns the SQLite database file inside the store directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StorePath, "orion.db")
}

// MediaPath returns the root directory for downloaded media.
func (c *Config) MediaPath() string {
	return filepath.Join(c.StorePath, "media")
}

// EnsureStorePath creates the store directory if it doesn't exist.
func (c *Config) EnsureStorePath() error {
	return os.MkdirAll(c.StorePath, 0755)
}
