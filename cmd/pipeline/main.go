package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"workpipe/internal/breaker"
	"workpipe/internal/clock"
	"workpipe/internal/config"
	"workpipe/internal/deadletter"
	"workpipe/internal/gate"
	"workpipe/internal/metrics"
	"workpipe/internal/models"
	"workpipe/internal/processor"
	"workpipe/internal/producer"
	"workpipe/internal/queue"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	dbPath := flag.String("db", "", "path to dead-letter SQLite database (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dbPath != "" {
		cfg.DeadLetterDB = *dbPath
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	var sink deadletter.Sink = deadletter.NopSink{}
	if cfg.DeadLetterDB != "" {
		sqliteSink, err := deadletter.NewSQLiteSink(cfg.DeadLetterDB)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open dead-letter database")
		}
		sink = sqliteSink
	}
	defer sink.Close()

	q := queue.New()
	g := gate.New(clock.Real{}, cfg.Gate.Retention.Std())
	m := metrics.NewMetrics()

	br := breaker.New(breaker.Config{
		Name:             cfg.Breaker.Name,
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		CoolDown:         cfg.Breaker.CoolDown.Std(),
		MaxCallAttempts:  cfg.Breaker.MaxCallAttempts,
		AttemptTimeout:   cfg.Breaker.AttemptTimeout.Std(),
		RetryInterval:    cfg.Breaker.RetryInterval.Std(),
		CacheTTL:         cfg.Breaker.CacheTTL.Std(),
	}, logger, clock.Real{})

	handler := demoHandler(br, logger)

	proc := processor.New(q, g, m, sink, handler, processor.Options{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxAttempts,
		BackoffUnit: cfg.BackoffUnit.Std(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc.Start(ctx)

	if retention := cfg.Gate.Retention.Std(); retention > 0 {
		go runGateJanitor(ctx, g, retention, logger)
	}

	submitter := producer.NewSubmitter(q, cfg.RateLimit.SubmissionsPerMinute, cfg.RateLimit.Burst, logger)
	go runDemoProducer(ctx, submitter, logger)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down pipeline...")
	cancel()
	q.Close()
	proc.Stop()

	for name, value := range m.GetSnapshot() {
		logger.Info().Int64(name, value).Msg("final counter")
	}
}

// demoHandler simulates business logic: plain work succeeds unless its
// payload is "fail"; "quote" work calls a flaky downstream dependency
// through the circuit breaker.
func demoHandler(br *breaker.Breaker, logger zerolog.Logger) processor.Handler {
	return func(ctx context.Context, env *models.Envelope) error {
		switch env.Kind {
		case "quote":
			result, err := br.Do(ctx, fetchQuote)
			if err != nil {
				if errors.Is(err, breaker.ErrFallbackUnavailable) {
					logger.Warn().Str("envelope_id", env.ID).Msg("quote unavailable, no fallback")
				}
				return err
			}
			logger.Info().
				Str("envelope_id", env.ID).
				Str("quote", result.Value).
				Bool("from_cache", result.FromCache).
				Msg("quote fetched")
			return nil
		default:
			// Simulate processing
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			if env.Payload == "fail" {
				return errors.New("payload is 'fail'")
			}
			return nil
		}
	}
}

// fetchQuote stands in for an unreliable downstream service.
func fetchQuote(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(rand.Intn(100)) * time.Millisecond):
	}
	if rand.Intn(100) < 40 {
		return "", errors.New("quote service unavailable")
	}
	return fmt.Sprintf("quote-%d", rand.Intn(1000)), nil
}

// runGateJanitor periodically evicts completed idempotency records older
// than the retention window.
func runGateJanitor(ctx context.Context, g *gate.Gate, retention time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(retention / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := g.Sweep(); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("swept completed idempotency records")
			}
		}
	}
}

func runDemoProducer(ctx context.Context, submitter *producer.Submitter, logger zerolog.Logger) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		i++
		var env *models.Envelope
		var err error
		switch {
		case i%7 == 0:
			env, err = submitter.Submit(ctx, "demo", "task", "fail")
		case i%3 == 0:
			env, err = submitter.Submit(ctx, "demo", "quote", "")
		default:
			env, err = submitter.Submit(ctx, "demo", "task", fmt.Sprintf("work-%d", i))
		}
		if err != nil {
			if !errors.Is(err, producer.ErrRateLimited) && !errors.Is(err, queue.ErrClosed) {
				logger.Error().Err(err).Msg("failed to submit work")
			}
			continue
		}

		// Every fifth unit is delivered twice to exercise the gate.
		if i%5 == 0 && env != nil {
			if err := submitter.Resubmit(env); err == nil {
				logger.Debug().Str("envelope_id", env.ID).Msg("duplicate delivery submitted")
			}
		}
	}
}
