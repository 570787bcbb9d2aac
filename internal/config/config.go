// Package config loads and validates service configuration via Viper.
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
	Logging LoggingConfig `mapstructure:"logging"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Workers WorkersConfig `mapstructure:"workers"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Cache   CacheConfig   `mapstructure:"cache"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs how a post chain is fetched and parsed.
type CrawlerConfig struct {
	Source        string `mapstructure:"source"`
	UserAgent     string `mapstructure:"user_agent"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	BackoffStepMs int    `mapstructure:"backoff_step_ms"`
	MaxRedirects  int    `mapstructure:"max_redirects"`
	// RequestsPerSecond opts in to per-host throttling; 0 leaves fetches unthrottled.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// WorkersConfig sizes the shared worker pool.
type WorkersConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// JobsConfig holds the grace periods applied to finished jobs.
type JobsConfig struct {
	FailedGraceSeconds int `mapstructure:"failed_grace_seconds"`
	ReadyGraceSeconds  int `mapstructure:"ready_grace_seconds"`
	SweepIntervalMs    int `mapstructure:"sweep_interval_ms"`
}

// CacheConfig selects and configures the artifact cache backend.
type CacheConfig struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Cache backends understood by the service.
const (
	CacheMemory   = "memory"
	CacheFile     = "file"
	CacheGCS      = "gcs"
	CachePostgres = "postgres"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WPCHAIN")
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
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.source", "api")
	v.SetDefault("crawler.user_agent", "wpchain/0.1")
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_step_ms", 1000)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.requests_per_second", 0.0)
	v.SetDefault("crawler.burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("jobs.failed_grace_seconds", 60)
	v.SetDefault("jobs.ready_grace_seconds", 3600)
	v.SetDefault("jobs.sweep_interval_ms", 1000)
	v.SetDefault("cache.backend", CacheMemory)
	v.SetDefault("cache.prefix", "books")
	v.SetDefault("cache.postgres_table", "book_cache")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Crawler.Source {
	case "api", "html":
	default:
		return fmt.Errorf("crawler.source must be api or html, got %q", c.Crawler.Source)
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.BackoffStepMs < 0 {
		return fmt.Errorf("crawler.backoff_step_ms must be >= 0")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	if c.Jobs.SweepIntervalMs <= 0 {
		return fmt.Errorf("jobs.sweep_interval_ms must be > 0")
	}
	switch c.Cache.Backend {
	case CacheMemory:
	case CacheFile:
		if strings.TrimSpace(c.Cache.Dir) == "" {
			return fmt.Errorf("cache.dir must be set for the file backend")
		}
	case CacheGCS:
		if c.Cache.GCSBucket == "" {
			return fmt.Errorf("cache.gcs_bucket must be set for the gcs backend")
		}
	case CachePostgres:
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// BackoffStep is the linear retry increment.
func (c Config) BackoffStep() time.Duration {
	return time.Duration(c.Crawler.BackoffStepMs) * time.Millisecond
}

// HTTPTimeout bounds a single outbound request.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// FailedGrace is how long a failed job stays visible.
func (c Config) FailedGrace() time.Duration {
	return time.Duration(c.Jobs.FailedGraceSeconds) * time.Second
}

// ReadyGrace is how long a finished job and its artifact stay available.
func (c Config) ReadyGrace() time.Duration {
	return time.Duration(c.Jobs.ReadyGraceSeconds) * time.Second
}

// SweepInterval is the delay between eviction sweeps.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepIntervalMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
