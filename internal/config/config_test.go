package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "memory", cfg.TrackerDB)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().PollInterval, cfg.PollInterval)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remedy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
poll_interval: 5s
session_timeout: 10m
pool_size: 8
retry:
  max_attempts: 5
  initial_delay: 500ms
  max_delay: 10s
  multiplier: 1.5
tracker_db: "file:/tmp/items.db"
project:
  id: proj-1
  repo: example/widgets
rules:
  - name: always
    when: "severity >= 0"
    act: true
    reason: test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.PollInterval.Std())
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout.Std())
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay.Std())
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.Equal(t, "file:/tmp/items.db", cfg.TrackerDB)
	require.NotNil(t, cfg.Project)
	assert.Equal(t, "proj-1", cfg.Project.ID)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "always", cfg.Rules[0].Name)
}

func TestLoad_BadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remedy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remedy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval: 5s\n"), 0o644))

	t.Setenv("REMEDY_POLL_INTERVAL", "1s")
	t.Setenv("REMEDY_LOG_LEVEL", "warn")
	t.Setenv("REMEDY_POOL_SIZE", "2")
	t.Setenv("REMEDY_MCP_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.PollInterval.Std())
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2, cfg.PoolSize)
	assert.True(t, cfg.MCPEnabled)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero session timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"zero pool size", func(c *Config) { c.PoolSize = 0 }},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }},
		{"sub-unit multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"empty tracker db", func(c *Config) { c.TrackerDB = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
