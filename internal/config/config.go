// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hbkim/storecrawl/internal/scheduler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Crawler   CrawlerConfig    `mapstructure:"crawler"`
	Worker    WorkerConfig     `mapstructure:"worker"`
	Outbox    OutboxConfig     `mapstructure:"outbox"`
	Task      TaskConfig       `mapstructure:"task"`
	Agent     AgentConfig      `mapstructure:"agent"`
	Scheduler scheduler.Config `mapstructure:"scheduler"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int    `mapstructure:"max_conns"`
	MinConns           int    `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds the publish-subscribe wiring. Empty ProjectID selects
// the in-process queue instead of Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig sets paths for blob payload backups. Empty GCSBucket and
// LocalDir disable backups entirely.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// CrawlerConfig governs the outbound marketplace fetcher.
type CrawlerConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	PageSize       int     `mapstructure:"page_size"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
}

// WorkerConfig controls the task execution loop.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// OutboxConfig tunes outbox publishing and its recovery sweeps.
type OutboxConfig struct {
	BatchSize            int `mapstructure:"batch_size"`
	ProcessingTimeoutMin int `mapstructure:"processing_timeout_minutes"`
	FailedRetryDelayMin  int `mapstructure:"failed_retry_delay_minutes"`
	MaxRetryCount        int `mapstructure:"max_retry_count"`
}

// TaskConfig tunes the task recovery sweeps.
type TaskConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	StuckTimeoutMin     int `mapstructure:"stuck_timeout_minutes"`
	FailedRetryDelayMin int `mapstructure:"failed_retry_delay_minutes"`
	MaxRetryCount       int `mapstructure:"max_retry_count"`
}

// AgentConfig tunes the crawl identity pool.
type AgentConfig struct {
	HourlyQuota     int     `mapstructure:"hourly_quota"`
	ValidityMinutes int     `mapstructure:"validity_minutes"`
	BackoffMinutes  int     `mapstructure:"backoff_minutes"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STORECRAWL")
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
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("pubsub.topic_name", "storecrawl-tasks")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("crawler.base_url", "https://api.marketplace.example.com")
	v.SetDefault("crawler.page_size", 100)
	v.SetDefault("crawler.user_agent", "storecrawl-bot/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.processing_timeout_minutes", 10)
	v.SetDefault("outbox.failed_retry_delay_minutes", 5)
	v.SetDefault("outbox.max_retry_count", 3)
	v.SetDefault("task.batch_size", 100)
	v.SetDefault("task.stuck_timeout_minutes", 30)
	v.SetDefault("task.failed_retry_delay_minutes", 10)
	v.SetDefault("task.max_retry_count", 3)
	v.SetDefault("agent.hourly_quota", 1000)
	v.SetDefault("agent.validity_minutes", 60)
	v.SetDefault("agent.backoff_minutes", 60)
	v.SetDefault("agent.rps", 5)
	v.SetDefault("agent.burst", 10)
	v.SetDefault("scheduler.publisher_spec", "@every 5s")
	v.SetDefault("scheduler.outbox_timeout_spec", "@every 1m")
	v.SetDefault("scheduler.outbox_failed_spec", "@every 1m")
	v.SetDefault("scheduler.task_recovery_spec", "@every 1m")
	v.SetDefault("scheduler.daily_trigger_spec", "0 3 * * *")
	v.SetDefault("scheduler.agent_recovery_spec", "@every 5m")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox.batch_size must be > 0")
	}
	if c.Outbox.ProcessingTimeoutMin <= 0 {
		return fmt.Errorf("outbox.processing_timeout_minutes must be > 0")
	}
	if c.Outbox.FailedRetryDelayMin <= 0 {
		return fmt.Errorf("outbox.failed_retry_delay_minutes must be > 0")
	}
	if c.Outbox.MaxRetryCount <= 0 {
		return fmt.Errorf("outbox.max_retry_count must be > 0")
	}
	if c.Task.BatchSize <= 0 {
		return fmt.Errorf("task.batch_size must be > 0")
	}
	if c.Task.StuckTimeoutMin <= 0 {
		return fmt.Errorf("task.stuck_timeout_minutes must be > 0")
	}
	if c.Task.FailedRetryDelayMin <= 0 {
		return fmt.Errorf("task.failed_retry_delay_minutes must be > 0")
	}
	if c.Task.MaxRetryCount <= 0 {
		return fmt.Errorf("task.max_retry_count must be > 0")
	}
	if c.Agent.HourlyQuota <= 0 {
		return fmt.Errorf("agent.hourly_quota must be > 0")
	}
	return nil
}

// CrawlTimeout converts the fetch timeout to a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// OutboxProcessingTimeout converts the claim timeout to a duration.
func (c Config) OutboxProcessingTimeout() time.Duration {
	return time.Duration(c.Outbox.ProcessingTimeoutMin) * time.Minute
}

// OutboxFailedRetryDelay converts the failed rest delay to a duration.
func (c Config) OutboxFailedRetryDelay() time.Duration {
	return time.Duration(c.Outbox.FailedRetryDelayMin) * time.Minute
}

// TaskStuckTimeout converts the stuck threshold to a duration.
func (c Config) TaskStuckTimeout() time.Duration {
	return time.Duration(c.Task.StuckTimeoutMin) * time.Minute
}

// TaskFailedRetryDelay converts the failed rest delay to a duration.
func (c Config) TaskFailedRetryDelay() time.Duration {
	return time.Duration(c.Task.FailedRetryDelayMin) * time.Minute
}
