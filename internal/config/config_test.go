package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 20*time.Second, cfg.Breaker.CoolDown.Std())
	assert.Equal(t, 700*time.Millisecond, cfg.Breaker.AttemptTimeout.Std())
	assert.Equal(t, 20*time.Second, cfg.Breaker.CacheTTL.Std())
}

func TestConfig_LoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")

	raw := `
workers: 8
max_attempts: 5
backoff_unit: 250ms
gate:
  retention: 1h
breaker:
  failure_threshold: 5
  cool_down: 5s
  attempt_timeout: 300ms
rate_limit:
  submissions_per_minute: 120
  burst: 20
dead_letter_db: /tmp/dlq.db
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffUnit.Std())
	assert.Equal(t, time.Hour, cfg.Gate.Retention.Std())
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, cfg.Breaker.CoolDown.Std())
	assert.Equal(t, 300*time.Millisecond, cfg.Breaker.AttemptTimeout.Std())
	// Untouched fields keep their defaults.
	assert.Equal(t, 3, cfg.Breaker.MaxCallAttempts)
	assert.Equal(t, 120, cfg.RateLimit.SubmissionsPerMinute)
	assert.Equal(t, "/tmp/dlq.db", cfg.DeadLetterDB)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfig_LoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: -1\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_LoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestDuration_UnmarshalForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "durations.yaml")

	// Integer values are nanoseconds, strings use time.ParseDuration.
	raw := "backoff_unit: 1000000000\nbreaker:\n  cool_down: 1m30s\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.BackoffUnit.Std())
	assert.Equal(t, 90*time.Second, cfg.Breaker.CoolDown.Std())
}

func TestDuration_InvalidString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad-duration.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backoff_unit: soon\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
