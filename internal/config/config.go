package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/castofly/remedy/internal/strategy"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig tunes the per-phase retry policy.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
}

// ProjectConfig identifies the project items belong to.
type ProjectConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// Config is the daemon's full runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Intake and lifecycle timing.
	PollInterval   Duration `yaml:"poll_interval"`
	SessionTimeout Duration `yaml:"session_timeout"`
	StepTimeout    Duration `yaml:"step_timeout"`

	// Retention.
	RetentionAge  Duration `yaml:"retention_age"`
	SweepSchedule string   `yaml:"sweep_schedule"`

	// Concurrency.
	PoolSize int `yaml:"pool_size"`

	Retry RetryConfig `yaml:"retry"`

	// Tracker backend: a libSQL file URI, or "memory" for the in-process
	// tracker.
	TrackerDB string `yaml:"tracker_db"`

	Project *ProjectConfig `yaml:"project"`

	// Analysis projections and classification rules.
	Projection strategy.Projection `yaml:"projection"`
	Rules      []strategy.Rule     `yaml:"rules"`

	// MCP exposes operator tools over stdio when enabled.
	MCPEnabled bool `yaml:"mcp_enabled"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		PollInterval:   Duration(30 * time.Second),
		SessionTimeout: Duration(30 * time.Minute),
		StepTimeout:    Duration(5 * time.Minute),
		RetentionAge:   Duration(24 * time.Hour),
		SweepSchedule:  "0 * * * *",
		PoolSize:       4,
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: Duration(time.Second),
			MaxDelay:     Duration(30 * time.Second),
			Multiplier:   2.0,
		},
		TrackerDB: "memory",
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval.Std() <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.SessionTimeout.Std() <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.TrackerDB == "" {
		return fmt.Errorf("tracker_db must be set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}
