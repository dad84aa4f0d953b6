// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for sites and events.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Snapshot backends for raw HTML.
const (
	SnapshotsNone   = "none"
	SnapshotsMemory = "memory"
	SnapshotsLocal  = "local"
	SnapshotsGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Acquirer  AcquirerConfig  `mapstructure:"acquirer"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig sizes the worker pool and task queue.
type CrawlerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// AcquirerConfig bounds page acquisition attempts.
type AcquirerConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	Backoff        string `mapstructure:"backoff"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs   int    `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the browser renderer.
type HeadlessConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	UserAgent      string  `mapstructure:"user_agent"`
	ViewportWidth  int     `mapstructure:"viewport_width"`
	ViewportHeight int     `mapstructure:"viewport_height"`
	WaitCondition  string  `mapstructure:"wait_condition"`
	DelayMinMs     int     `mapstructure:"delay_min_ms"`
	DelayMaxMs     int     `mapstructure:"delay_max_ms"`
	ExecPath       string  `mapstructure:"exec_path"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`
}

// FallbackConfig configures the remote render fetch used after the browser fails.
type FallbackConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	RenderEndpoint string `mapstructure:"render_endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ExtractorConfig selects the extraction model.
type ExtractorConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	MaxInputChars int    `mapstructure:"max_input_chars"`
}

// StorageConfig selects the catalog backend and snapshot destination.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Snapshots   string `mapstructure:"snapshots"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
	SitesTable             string `mapstructure:"sites_table"`
	EventsTable            string `mapstructure:"events_table"`
}

// PubSubConfig names the progress bus topic. Empty disables Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	MaxBatchEvents   int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs   int `mapstructure:"max_batch_wait_ms"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// ScheduleConfig controls the daily scrape.
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Spec     string `mapstructure:"spec"`
	Timezone string `mapstructure:"timezone"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_grace_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.concurrency", 5)
	v.SetDefault("crawler.queue_depth", 256)
	v.SetDefault("acquirer.timeout_seconds", 45)
	v.SetDefault("acquirer.max_retries", 3)
	v.SetDefault("acquirer.backoff", "linear")
	v.SetDefault("acquirer.backoff_base_ms", 2000)
	v.SetDefault("acquirer.backoff_max_ms", 30000)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.viewport_width", 1920)
	v.SetDefault("headless.viewport_height", 1080)
	v.SetDefault("headless.wait_condition", "networkidle")
	v.SetDefault("headless.delay_min_ms", 1000)
	v.SetDefault("headless.delay_max_ms", 3000)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.rate_per_second", 0)
	v.SetDefault("headless.burst", 1)
	v.SetDefault("fallback.enabled", true)
	v.SetDefault("fallback.render_endpoint", "")
	v.SetDefault("fallback.api_key", "")
	v.SetDefault("fallback.timeout_seconds", 30)
	v.SetDefault("extractor.api_key", "")
	v.SetDefault("extractor.model", "gemini-2.5-flash")
	v.SetDefault("extractor.max_input_chars", 200000)
	v.SetDefault("storage.backend", BackendPostgres)
	v.SetDefault("storage.snapshots", SnapshotsNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("db.sites_table", "sites")
	v.SetDefault("db.events_table", "events")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 64)
	v.SetDefault("progress.max_batch_wait_ms", 100)
	v.SetDefault("progress.subscriber_buffer", 64)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.spec", "0 6 * * *")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 0.1)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if c.Crawler.QueueDepth < 0 {
		return errors.New("crawler.queue_depth must be >= 0")
	}
	if c.Acquirer.TimeoutSeconds <= 0 {
		return errors.New("acquirer.timeout_seconds must be > 0")
	}
	if c.Acquirer.MaxRetries <= 0 {
		return errors.New("acquirer.max_retries must be > 0")
	}
	switch c.Acquirer.Backoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("acquirer.backoff must be linear or exponential, got %q", c.Acquirer.Backoff)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return errors.New("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.DelayMaxMs < c.Headless.DelayMinMs {
		return errors.New("headless.delay_max_ms must be >= headless.delay_min_ms")
	}
	if c.Fallback.Enabled && c.Fallback.TimeoutSeconds <= 0 {
		return errors.New("fallback.timeout_seconds must be > 0 when fallback is enabled")
	}
	if !c.Headless.Enabled && !c.Fallback.Enabled {
		return errors.New("at least one of headless.enabled or fallback.enabled must be set")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendPostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required when storage.backend is postgres")
		}
		if err := c.DB.validateTables(); err != nil {
			return err
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be postgres or memory, got %q", c.Storage.Backend)
	}
	switch c.Storage.Snapshots {
	case SnapshotsNone, SnapshotsMemory:
	case SnapshotsLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir is required when storage.snapshots is local")
		}
	case SnapshotsGCS:
		if c.Storage.GCSBucket == "" {
			return errors.New("storage.gcs_bucket is required when storage.snapshots is gcs")
		}
	default:
		return fmt.Errorf("storage.snapshots must be one of none, memory, local, gcs, got %q", c.Storage.Snapshots)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Schedule.Enabled && c.Schedule.Spec == "" {
		return errors.New("schedule.spec must be set when schedule is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

var sqlIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateTables rejects names that cannot be interpolated as identifiers.
// The embedded migrations only create "sites" and "events", so auto_migrate
// is refused for any other name.
func (d DBConfig) validateTables() error {
	for key, name := range map[string]string{"db.sites_table": d.SitesTable, "db.events_table": d.EventsTable} {
		if name != "" && !sqlIdentifier.MatchString(name) {
			return fmt.Errorf("%s must be a plain SQL identifier, got %q", key, name)
		}
	}
	custom := (d.SitesTable != "" && d.SitesTable != "sites") || (d.EventsTable != "" && d.EventsTable != "events")
	if d.AutoMigrate && custom {
		return errors.New("db.auto_migrate requires the default sites and events table names")
	}
	return nil
}

// AcquireTimeout is the per-attempt acquisition timeout.
func (c Config) AcquireTimeout() time.Duration {
	return time.Duration(c.Acquirer.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds non-streaming API requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownGrace bounds graceful shutdown.
func (c Config) ShutdownGrace() time.Duration {
	if c.Server.ShutdownGraceSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}
