package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "storecrawl-tasks", cfg.PubSub.TopicName)
	assert.Equal(t, 100, cfg.Crawler.PageSize)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, "@every 5s", cfg.Scheduler.PublisherSpec)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.DailyTriggerSpec)
	assert.Equal(t, 15*time.Second, cfg.CrawlTimeout())
	assert.Equal(t, 10*time.Minute, cfg.OutboxProcessingTimeout())
	assert.Equal(t, 30*time.Minute, cfg.TaskStuckTimeout())
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
crawler:
  base_url: https://shop.example.com
  page_size: 50
outbox:
  batch_size: 25
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://shop.example.com", cfg.Crawler.BaseURL)
	assert.Equal(t, 50, cfg.Crawler.PageSize)
	assert.Equal(t, 25, cfg.Outbox.BatchSize)
	// Untouched sections keep defaults.
	assert.Equal(t, 3, cfg.Outbox.MaxRetryCount)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroPort", func(c *Config) { c.Server.Port = 0 }},
		{"AuthWithoutKey", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"ZeroPageSize", func(c *Config) { c.Crawler.PageSize = 0 }},
		{"ZeroConcurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"ZeroOutboxBatch", func(c *Config) { c.Outbox.BatchSize = 0 }},
		{"NegativeOutboxDelay", func(c *Config) { c.Outbox.FailedRetryDelayMin = -5 }},
		{"ZeroOutboxRetry", func(c *Config) { c.Outbox.MaxRetryCount = 0 }},
		{"NegativeTaskDelay", func(c *Config) { c.Task.FailedRetryDelayMin = -5 }},
		{"ZeroTaskRetry", func(c *Config) { c.Task.MaxRetryCount = 0 }},
		{"ZeroHourlyQuota", func(c *Config) { c.Agent.HourlyQuota = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
