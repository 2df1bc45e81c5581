package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the configuration in three layers: defaults, then the YAML file
// at path (optional; empty path or a missing file is fine), then REMEDY_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REMEDY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REMEDY_TRACKER_DB"); v != "" {
		cfg.TrackerDB = v
	}
	if v := os.Getenv("REMEDY_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if d, ok := envDuration("REMEDY_POLL_INTERVAL"); ok {
		cfg.PollInterval = d
	}
	if d, ok := envDuration("REMEDY_SESSION_TIMEOUT"); ok {
		cfg.SessionTimeout = d
	}
	if d, ok := envDuration("REMEDY_STEP_TIMEOUT"); ok {
		cfg.StepTimeout = d
	}
	if d, ok := envDuration("REMEDY_RETENTION_AGE"); ok {
		cfg.RetentionAge = d
	}
	if v := os.Getenv("REMEDY_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("REMEDY_MCP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MCPEnabled = b
		}
	}
}

func envDuration(key string) (Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return Duration(d), true
}
