// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/auction-ingest/internal/extract"
)

// Backend names accepted by the pluggable sections.
const (
	BackendPGMQ   = "pgmq"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Snapshots   SnapshotsConfig   `mapstructure:"snapshots"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required in the X-API-Key header on /v1 routes.
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// QueueConfig selects the job queue and its polling behavior.
type QueueConfig struct {
	Name              string        `mapstructure:"name"`
	Backend           string        `mapstructure:"backend"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
}

// WorkerConfig bounds each scrape job.
type WorkerConfig struct {
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	ResultsTimeout    time.Duration `mapstructure:"results_timeout"`
	PageChangeTimeout time.Duration `mapstructure:"page_change_timeout"`
	MismatchPolicy    string        `mapstructure:"mismatch_policy"`
	MaxPages          int           `mapstructure:"max_pages"`
	// PortalRatePerMinute caps job starts per portal host. Zero disables it.
	PortalRatePerMinute float64 `mapstructure:"portal_rate_per_minute"`
	PortalBurst         int     `mapstructure:"portal_burst"`
}

// BrowserConfig configures the Chrome launcher.
type BrowserConfig struct {
	Headless  bool   `mapstructure:"headless"`
	ExecPath  string `mapstructure:"exec_path"`
	NoSandbox bool   `mapstructure:"no_sandbox"`
	Locale    string `mapstructure:"locale"`
	Timezone  string `mapstructure:"timezone"`
}

// SweeperConfig controls the stuck job sweeper.
type SweeperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// CredentialsConfig holds the envelope key, base64 of 32 bytes.
type CredentialsConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// SnapshotsConfig controls raw page archiving.
type SnapshotsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// NotifyConfig controls job outcome notifications.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the preset level: debug, info, warn or error.
	Level string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("queue.name", "scrape_jobs")
	v.SetDefault("queue.backend", BackendPGMQ)
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.batch_size", 1)
	v.SetDefault("queue.visibility_timeout", 10*time.Minute)
	v.SetDefault("worker.job_timeout", 5*time.Minute)
	v.SetDefault("worker.login_timeout", 15*time.Second)
	v.SetDefault("worker.results_timeout", 30*time.Second)
	v.SetDefault("worker.page_change_timeout", 15*time.Second)
	v.SetDefault("worker.mismatch_policy", string(extract.MismatchReconcile))
	v.SetDefault("worker.max_pages", 500)
	v.SetDefault("worker.portal_rate_per_minute", 6)
	v.SetDefault("worker.portal_burst", 1)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone", "Asia/Kuala_Lumpur")
	v.SetDefault("sweeper.interval", time.Minute)
	v.SetDefault("sweeper.stale_after", 10*time.Minute)
	v.SetDefault("credentials.encryption_key", "")
	v.SetDefault("snapshots.enabled", false)
	v.SetDefault("snapshots.backend", BackendMemory)
	v.SetDefault("snapshots.bucket", "")
	v.SetDefault("snapshots.base_dir", "snapshots")
	v.SetDefault("snapshots.prefix", "pages")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.backend", BackendMemory)
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic", "scrape-outcomes")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("queue.name must be set")
	}
	switch c.Queue.Backend {
	case BackendPGMQ:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when queue.backend is %q", BackendPGMQ)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", BackendPGMQ, BackendMemory, c.Queue.Backend)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Queue.PollInterval <= 0 || c.Queue.VisibilityTimeout < time.Second {
		return fmt.Errorf("queue.poll_interval must be > 0 and queue.visibility_timeout at least 1s")
	}
	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker.job_timeout must be > 0")
	}
	if c.Queue.VisibilityTimeout <= c.Worker.JobTimeout {
		return fmt.Errorf("queue.visibility_timeout (%s) must exceed worker.job_timeout (%s)",
			c.Queue.VisibilityTimeout, c.Worker.JobTimeout)
	}
	if !extract.MismatchPolicy(c.Worker.MismatchPolicy).Valid() {
		return fmt.Errorf("worker.mismatch_policy must be %q or %q, got %q",
			extract.MismatchReconcile, extract.MismatchFail, c.Worker.MismatchPolicy)
	}
	if c.Worker.PortalRatePerMinute < 0 {
		return fmt.Errorf("worker.portal_rate_per_minute must be >= 0")
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.StaleAfter <= 0 {
		return fmt.Errorf("sweeper.interval and sweeper.stale_after must be > 0")
	}
	if c.Snapshots.Enabled {
		switch c.Snapshots.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Snapshots.BaseDir == "" {
				return fmt.Errorf("snapshots.base_dir must be set for the local backend")
			}
		case BackendGCS:
			if c.Snapshots.Bucket == "" {
				return fmt.Errorf("snapshots.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("snapshots.backend must be memory, local or gcs, got %q", c.Snapshots.Backend)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Notify.Enabled {
		switch c.Notify.Backend {
		case BackendMemory:
		case BackendPubSub:
			if c.Notify.ProjectID == "" {
				return fmt.Errorf("notify.project_id must be set for the pubsub backend")
			}
		default:
			return fmt.Errorf("notify.backend must be memory or pubsub, got %q", c.Notify.Backend)
		}
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic must be set when notifications are enabled")
		}
	}
	return nil
}

// ExtractOptions maps the worker section onto extraction options.
func (c Config) ExtractOptions() extract.Options {
	return extract.Options{
		LoginTimeout:      c.Worker.LoginTimeout,
		ResultsTimeout:    c.Worker.ResultsTimeout,
		PageChangeTimeout: c.Worker.PageChangeTimeout,
		MismatchPolicy:    extract.MismatchPolicy(c.Worker.MismatchPolicy),
		MaxPages:          c.Worker.MaxPages,
	}
}
