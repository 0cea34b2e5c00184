// Package config loads pipeline configuration from YAML with defaults
// and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "20s" parse.
type Duration time.Duration

// UnmarshalYAML parses either a duration string ("700ms") or an integer
// nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(time.Duration(ns))
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all pipeline configuration.
type Config struct {
	Workers     int      `yaml:"workers"`
	MaxAttempts int      `yaml:"max_attempts"`
	BackoffUnit Duration `yaml:"backoff_unit"`

	Gate      GateConfig      `yaml:"gate"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// DeadLetterDB is the SQLite path for exhausted work; empty discards
	// dead letters.
	DeadLetterDB string `yaml:"dead_letter_db"`

	LogLevel string `yaml:"log_level"`
}

// GateConfig holds idempotency-gate settings.
type GateConfig struct {
	// Retention bounds how long completed ids are remembered; zero keeps
	// them for the lifetime of the process.
	Retention Duration `yaml:"retention"`
}

// BreakerConfig holds circuit-breaker settings.
type BreakerConfig struct {
	Name             string   `yaml:"name"`
	FailureThreshold int      `yaml:"failure_threshold"`
	CoolDown         Duration `yaml:"cool_down"`
	MaxCallAttempts  int      `yaml:"max_call_attempts"`
	AttemptTimeout   Duration `yaml:"attempt_timeout"`
	RetryInterval    Duration `yaml:"retry_interval"`
	CacheTTL         Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds producer submission limits.
type RateLimitConfig struct {
	SubmissionsPerMinute int `yaml:"submissions_per_minute"`
	Burst                int `yaml:"burst"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Workers:     4,
		MaxAttempts: 3,
		BackoffUnit: Duration(time.Second),
		Breaker: BreakerConfig{
			Name:             "dependency",
			FailureThreshold: 3,
			CoolDown:         Duration(20 * time.Second),
			MaxCallAttempts:  3,
			AttemptTimeout:   Duration(700 * time.Millisecond),
			RetryInterval:    Duration(100 * time.Millisecond),
			CacheTTL:         Duration(20 * time.Second),
		},
		RateLimit: RateLimitConfig{
			SubmissionsPerMinute: 600,
			Burst:                60,
		},
		LogLevel: "info",
	}
}

// Load reads YAML from path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.BackoffUnit.Std() < 0 {
		return fmt.Errorf("backoff_unit must not be negative")
	}
	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker failure_threshold must not be negative")
	}
	if c.Breaker.MaxCallAttempts < 0 {
		return fmt.Errorf("breaker max_call_attempts must not be negative")
	}
	if c.RateLimit.SubmissionsPerMinute < 0 {
		return fmt.Errorf("rate_limit submissions_per_minute must not be negative")
	}
	return nil
}
