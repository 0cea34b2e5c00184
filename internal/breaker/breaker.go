// Package breaker guards calls to an unreliable dependency with a circuit
// breaker, bounded in-call retries, and a last-good fallback cache.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"workpipe/internal/clock"
)

// ErrFallbackUnavailable is returned when the circuit is open (or the call
// failed) and no fresh cached value exists to serve instead.
var ErrFallbackUnavailable = errors.New("dependency unavailable and no cached fallback")

// Config controls breaker thresholds and the nested retry layer.
type Config struct {
	// Name identifies the breaker in logs and state-change events.
	Name string

	// FailureThreshold is the number of consecutive failed calls that
	// opens the circuit.
	FailureThreshold uint32

	// CoolDown is how long the circuit stays open before the next call
	// is allowed through as a recovery probe.
	CoolDown time.Duration

	// MaxCallAttempts bounds the retries nested inside a single guarded
	// call. The breaker records one failure per call, not per attempt.
	MaxCallAttempts int

	// AttemptTimeout applies to each nested attempt individually.
	AttemptTimeout time.Duration

	// RetryInterval is the base of the linear delay between nested
	// attempts: attempt n waits n*RetryInterval.
	RetryInterval time.Duration

	// CacheTTL bounds how long a last-good value may be served as
	// fallback.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "dependency"
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 3
	}
	if c.CoolDown == 0 {
		c.CoolDown = 20 * time.Second
	}
	if c.MaxCallAttempts == 0 {
		c.MaxCallAttempts = 3
	}
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 700 * time.Millisecond
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 20 * time.Second
	}
	return c
}

// Result is the outcome of a guarded call. FromCache marks values served
// from the fallback cache instead of the live dependency.
type Result struct {
	Value     string
	FromCache bool
}

// Breaker wraps an unreliable dependency call with failure isolation.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	cache  *fallbackCache
	cfg    Config
	logger zerolog.Logger
}

// New creates a breaker. A nil clock uses the system clock; the clock
// drives cache TTL only, circuit timing follows gobreaker.
func New(cfg Config, logger zerolog.Logger, clk clock.Clock) *Breaker {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.Real{}
	}

	b := &Breaker{
		cache:  newFallbackCache(cfg.CacheTTL, clk),
		cfg:    cfg,
		logger: logger,
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Shutdown must never trip the circuit.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return b
}

// Do invokes fn through the circuit breaker. While the circuit is open the
// dependency is not called at all: a fresh cached value is returned with
// FromCache set, otherwise ErrFallbackUnavailable. A call that fails after
// all nested retries counts as a single breaker failure and likewise falls
// back to the cache when possible.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) (string, error)) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.attempt(ctx, fn)
	})
	if err == nil {
		value, _ := out.(string)
		return Result{Value: value}, nil
	}

	if errors.Is(err, context.Canceled) {
		return Result{}, err
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if cached, ok := b.cache.get(); ok {
			b.logger.Debug().Str("breaker", b.cfg.Name).Msg("circuit open, serving cached fallback")
			return Result{Value: cached, FromCache: true}, nil
		}
		return Result{}, ErrFallbackUnavailable
	}

	// Live call failed; serve the last good value if it is still fresh.
	if cached, ok := b.cache.get(); ok {
		b.logger.Debug().Str("breaker", b.cfg.Name).Err(err).Msg("call failed, serving cached fallback")
		return Result{Value: cached, FromCache: true}, nil
	}
	return Result{}, err
}

// attempt runs fn with per-attempt timeouts and a linear backoff between
// attempts, producing the single success/failure verdict the breaker
// accounts for.
func (b *Breaker) attempt(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for i := 0; i < b.cfg.MaxCallAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, time.Duration(i)*b.cfg.RetryInterval); err != nil {
				return "", err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, b.cfg.AttemptTimeout)
		value, err := fn(attemptCtx)
		cancel()

		if err == nil {
			b.cache.put(value)
			return value, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		b.logger.Debug().
			Str("breaker", b.cfg.Name).
			Int("attempt", i+1).
			Err(err).
			Msg("dependency call attempt failed")
	}
	return "", lastErr
}

// State returns the current circuit state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
