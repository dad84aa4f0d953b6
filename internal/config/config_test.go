package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
crawler:
  concurrency: 8
  queue_depth: 32
acquirer:
  timeout_seconds: 20
  max_retries: 5
  backoff: exponential
headless:
  max_parallel: 4
  wait_condition: load
fallback:
  render_endpoint: https://render.internal/render?url={url}
extractor:
  api_key: gem-key
storage:
  backend: memory
  snapshots: local
  local_dir: /tmp/snapshots
schedule:
  enabled: true
  spec: "30 5 * * *"
logging:
  development: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Crawler.Concurrency != 8 || cfg.Crawler.QueueDepth != 32 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Acquirer.Backoff != "exponential" || cfg.Acquirer.MaxRetries != 5 {
		t.Fatalf("expected acquirer overrides: %+v", cfg.Acquirer)
	}
	if got := cfg.AcquireTimeout(); got != 20*time.Second {
		t.Fatalf("expected acquire timeout 20s, got %v", got)
	}
	if cfg.Headless.WaitCondition != "load" || !cfg.Headless.Enabled {
		t.Fatalf("expected headless overrides with default enabled: %+v", cfg.Headless)
	}
	if cfg.Storage.Snapshots != SnapshotsLocal || cfg.Storage.Prefix != "snapshots" {
		t.Fatalf("expected storage overrides with default prefix: %+v", cfg.Storage)
	}
	if cfg.Schedule.Spec != "30 5 * * *" || cfg.Schedule.Timezone != "UTC" {
		t.Fatalf("expected schedule overrides: %+v", cfg.Schedule)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "storage:\n  backend: memory\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Acquirer.MaxRetries != 3 || cfg.Acquirer.BackoffBaseMs != 2000 {
		t.Fatalf("unexpected acquirer defaults: %+v", cfg.Acquirer)
	}
	if cfg.Extractor.Model != "gemini-2.5-flash" {
		t.Fatalf("unexpected default model %q", cfg.Extractor.Model)
	}
	if cfg.DB.SitesTable != "sites" || cfg.DB.EventsTable != "events" {
		t.Fatalf("unexpected table defaults: %+v", cfg.DB)
	}
	if got := cfg.RequestTimeout(); got != time.Minute {
		t.Fatalf("expected request timeout 1m, got %v", got)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("CRAWLER_STORAGE_BACKEND", "memory")
	t.Setenv("CRAWLER_CRAWLER_CONCURRENCY", "2")
	t.Setenv("CRAWLER_EXTRACTOR_MODEL", "gemini-2.5-pro")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 2 {
		t.Fatalf("expected env concurrency 2, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Extractor.Model != "gemini-2.5-pro" {
		t.Fatalf("expected env model override, got %q", cfg.Extractor.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Crawler:  CrawlerConfig{Concurrency: 1},
		Acquirer: AcquirerConfig{TimeoutSeconds: 10, MaxRetries: 3, Backoff: "linear"},
		Headless: HeadlessConfig{Enabled: true, MaxParallel: 1},
		Storage:  StorageConfig{Backend: BackendMemory, Snapshots: SnapshotsNone},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid base config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Acquirer.TimeoutSeconds = 0 }, want: "acquirer.timeout_seconds"},
		{name: "invalid backoff", mutate: func(c *Config) { c.Acquirer.Backoff = "fibonacci" }, want: "acquirer.backoff"},
		{name: "headless missing max parallel", mutate: func(c *Config) { c.Headless.MaxParallel = 0 }, want: "headless.max_parallel"},
		{name: "no acquisition path", mutate: func(c *Config) { c.Headless.Enabled = false }, want: "fallback.enabled"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "table name not an identifier", mutate: func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.DB.DSN = "postgres://localhost/events"
			c.DB.EventsTable = "events; drop table sites"
		}, want: "db.events_table"},
		{name: "auto migrate with custom tables", mutate: func(c *Config) {
			c.Storage.Backend = BackendPostgres
			c.DB.DSN = "postgres://localhost/events"
			c.DB.AutoMigrate = true
			c.DB.SitesTable = "venues"
		}, want: "db.auto_migrate"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "sqlite" }, want: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Snapshots = SnapshotsGCS }, want: "storage.gcs_bucket"},
		{name: "pubsub half set", mutate: func(c *Config) { c.PubSub.ProjectID = "proj" }, want: "pubsub.project_id"},
		{name: "bad sample ratio", mutate: func(c *Config) { c.Tracing.SampleRatio = 2 }, want: "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
