package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workpipe/internal/clock"
)

var errDown = errors.New("dependency down")

// fastConfig keeps circuit timing short enough for tests that must cross
// the cool-down window in real time (gobreaker reads the system clock).
func fastConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		CoolDown:         60 * time.Millisecond,
		MaxCallAttempts:  1,
		AttemptTimeout:   100 * time.Millisecond,
		RetryInterval:    time.Millisecond,
		CacheTTL:         time.Minute,
	}
}

func failing(calls *atomic.Int64) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return "", errDown
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, err := b.Do(ctx, failing(&calls))
		require.ErrorIs(t, err, errDown)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.Equal(t, int64(3), calls.Load())
}

func TestBreaker_OpenShortCircuitsWithoutFallback(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, _ = b.Do(ctx, failing(&calls))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	before := calls.Load()
	_, err := b.Do(ctx, failing(&calls))
	assert.ErrorIs(t, err, ErrFallbackUnavailable)
	assert.Equal(t, before, calls.Load(), "open circuit must not invoke the dependency")
}

func TestBreaker_OpenServesCachedValue(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)
	ctx := context.Background()

	result, err := b.Do(ctx, func(context.Context) (string, error) { return "good", nil })
	require.NoError(t, err)
	require.Equal(t, "good", result.Value)
	require.False(t, result.FromCache)

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		// Failed calls fall back to the fresh cache and report it.
		res, err := b.Do(ctx, failing(&calls))
		require.NoError(t, err)
		assert.True(t, res.FromCache)
		assert.Equal(t, "good", res.Value)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	before := calls.Load()
	res, err := b.Do(ctx, failing(&calls))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "good", res.Value)
	assert.Equal(t, before, calls.Load())
}

func TestBreaker_CacheTTLExpiry(t *testing.T) {
	clk := clock.NewFake(time.Now())
	cfg := fastConfig()
	cfg.CacheTTL = 20 * time.Second
	b := New(cfg, zerolog.Nop(), clk)
	ctx := context.Background()

	_, err := b.Do(ctx, func(context.Context) (string, error) { return "stale-soon", nil })
	require.NoError(t, err)

	clk.Advance(21 * time.Second)

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, err := b.Do(ctx, failing(&calls))
		require.ErrorIs(t, err, errDown, "expired cache must not be served")
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	_, err = b.Do(ctx, failing(&calls))
	assert.ErrorIs(t, err, ErrFallbackUnavailable)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, _ = b.Do(ctx, failing(&calls))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	result, err := b.Do(ctx, func(context.Context) (string, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Value)
	assert.False(t, result.FromCache)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	for i := 0; i < 3; i++ {
		_, _ = b.Do(ctx, failing(&calls))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	time.Sleep(80 * time.Millisecond)

	_, err := b.Do(ctx, failing(&calls))
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, gobreaker.StateOpen, b.State(), "half-open failure must re-open with a fresh cool-down")
}

func TestBreaker_InCallRetriesBeforeVerdict(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxCallAttempts = 3
	b := New(cfg, zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	result, err := b.Do(ctx, func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errDown
		}
		return "third time lucky", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "third time lucky", result.Value)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, gobreaker.StateClosed, b.State(), "retried-then-successful call is a single breaker success")
}

func TestBreaker_ExhaustedInCallRetriesCountOnce(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxCallAttempts = 3
	b := New(cfg, zerolog.Nop(), nil)
	ctx := context.Background()

	var calls atomic.Int64
	_, err := b.Do(ctx, failing(&calls))
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, gobreaker.StateClosed, b.State(), "one exhausted call is one failure, below the threshold")
}

func TestBreaker_AttemptTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond
	b := New(cfg, zerolog.Nop(), nil)
	ctx := context.Background()

	_, err := b.Do(ctx, func(attemptCtx context.Context) (string, error) {
		select {
		case <-attemptCtx.Done():
			return "", attemptCtx.Err()
		case <-time.After(500 * time.Millisecond):
			return "too late", nil
		}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreaker_CancellationIsNotFailure(t *testing.T) {
	b := New(fastConfig(), zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_, err := b.Do(ctx, func(c context.Context) (string, error) {
			return "", c.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, gobreaker.StateClosed, b.State(), "cancellation must not trip the circuit")
}
