// Package processor runs the worker pool that moves envelopes from the
// queue through the idempotency gate to the caller-supplied handler,
// retrying transient failures with linear backoff and handing exhausted
// work to the dead-letter sink.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"workpipe/internal/deadletter"
	"workpipe/internal/gate"
	"workpipe/internal/metrics"
	"workpipe/internal/models"
	"workpipe/internal/queue"
)

// Handler executes the business logic for one envelope. A nil error marks
// the envelope completed; any other error is treated as a transient
// failure subject to the retry policy. Handlers must honor ctx so
// shutdown can abort long-running calls.
type Handler func(ctx context.Context, env *models.Envelope) error

// Options tunes the worker pool and retry policy.
type Options struct {
	// Workers is the number of concurrent consumers.
	Workers int

	// MaxAttempts is the total number of deliveries for one envelope,
	// first attempt included.
	MaxAttempts int

	// BackoffUnit scales the delay before a retry: attempt n (zero-based)
	// waits (1+n)*BackoffUnit before requeueing.
	BackoffUnit time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffUnit <= 0 {
		o.BackoffUnit = time.Second
	}
	return o
}

// Processor owns the worker pool.
type Processor struct {
	queue   *queue.Queue
	gate    *gate.Gate
	metrics *metrics.Metrics
	sink    deadletter.Sink
	handler Handler
	opts    Options
	logger  zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a processor; call Start to launch the workers.
func New(q *queue.Queue, g *gate.Gate, m *metrics.Metrics, sink deadletter.Sink, handler Handler, opts Options, logger zerolog.Logger) *Processor {
	if sink == nil {
		sink = deadletter.NopSink{}
	}
	return &Processor{
		queue:   q,
		gate:    g,
		metrics: m,
		sink:    sink,
		handler: handler,
		opts:    opts.withDefaults(),
		logger:  logger,
	}
}

// Start launches the worker pool. Cancelling ctx (or calling Stop) makes
// blocked dequeues return promptly, propagates to in-flight handler
// calls, and stops the workers without draining the queue.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info().
		Int("workers", p.opts.Workers).
		Int("max_attempts", p.opts.MaxAttempts).
		Msg("processor started")
}

// Stop cancels the workers and waits for them to exit.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("processor stopped")
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		env, err := p.queue.Dequeue(ctx)
		if err != nil {
			// Cancelled or queue closed; either way the loop is done.
			return
		}
		p.metrics.SetQueueDepth(int64(p.queue.Depth()))
		p.process(ctx, id, env)
	}
}

func (p *Processor) process(ctx context.Context, worker int, env *models.Envelope) {
	log := p.logger.With().
		Int("worker", worker).
		Str("envelope_id", env.ID).
		Str("kind", env.Kind).
		Int("attempt", env.Attempt).
		Logger()

	if !p.gate.TryStart(env.ID) {
		p.metrics.IncrementSkippedDuplicate()
		log.Debug().Msg("duplicate delivery skipped")
		return
	}

	err := p.handler(ctx, env)
	if err == nil {
		p.gate.MarkCompleted(env.ID)
		p.metrics.IncrementProcessed()
		log.Info().Msg("envelope processed")
		return
	}

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown, not a processing failure. Release the admission so
		// the work stays retryable; losing it with the in-memory queue
		// is the accepted scope.
		p.gate.Release(env.ID)
		log.Debug().Msg("envelope abandoned on shutdown")
		return
	}

	p.metrics.IncrementFailed()

	// The in-flight admission is released before requeueing so any worker
	// can pick up the retry; holding it would strand the id if a different
	// worker dequeued the new envelope.
	p.gate.Release(env.ID)

	if env.Attempt < p.opts.MaxAttempts-1 {
		delay := time.Duration(1+env.Attempt) * p.opts.BackoffUnit
		log.Warn().Err(err).Dur("backoff", delay).Msg("envelope failed, scheduling retry")

		if serr := sleep(ctx, delay); serr != nil {
			return
		}
		if qerr := p.queue.Enqueue(env.NextAttempt()); qerr != nil {
			log.Error().Err(qerr).Msg("failed to requeue envelope")
			return
		}
		p.metrics.IncrementRetried()
		return
	}

	p.metrics.IncrementDeadLettered()
	log.Error().Err(err).Int("attempts", env.Attempt+1).Msg("envelope dropped after max attempts")

	record := models.DeadLetter{
		EnvelopeID: env.ID,
		Kind:       env.Kind,
		Payload:    env.Payload,
		Reason:     err.Error(),
		Attempts:   env.Attempt + 1,
		FailedAt:   time.Now(),
	}
	if serr := p.sink.Store(ctx, record); serr != nil {
		log.Error().Err(serr).Msg("failed to store dead letter")
	}
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
