// Package producer is the submission façade: it stamps new envelopes and
// applies per-source rate limiting before work reaches the queue.
package producer

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"workpipe/internal/models"
	"workpipe/internal/queue"
)

// ErrRateLimited is returned when a source exceeds its submission rate.
var ErrRateLimited = errors.New("submission rate exceeded")

// Submitter creates envelopes and enqueues them, enforcing a per-source
// token-bucket rate limit.
type Submitter struct {
	queue  *queue.Queue
	limit  rate.Limit
	burst  int
	logger zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewSubmitter creates a submitter allowing perMinute submissions per
// source with the given burst. perMinute <= 0 disables limiting.
func NewSubmitter(q *queue.Queue, perMinute, burst int, logger zerolog.Logger) *Submitter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60.0)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Submitter{
		queue:    q,
		limit:    limit,
		burst:    burst,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Submit creates an envelope for the given work and enqueues it. It fails
// fast with ErrRateLimited when the source is over its budget, and
// propagates queue errors (enqueue after shutdown) unchanged.
func (s *Submitter) Submit(ctx context.Context, source, kind, payload string) (*models.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.limiter(source).Allow() {
		s.logger.Debug().Str("source", source).Str("kind", kind).Msg("submission rate limited")
		return nil, ErrRateLimited
	}

	env := models.NewEnvelope(kind, payload)
	if err := s.queue.Enqueue(env); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("envelope_id", env.ID).
		Str("source", source).
		Str("kind", kind).
		Msg("envelope submitted")
	return env, nil
}

// Resubmit enqueues an existing envelope again, preserving its id. Used to
// simulate duplicate deliveries; not rate limited.
func (s *Submitter) Resubmit(env *models.Envelope) error {
	return s.queue.Enqueue(env)
}

func (s *Submitter) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = l
	}
	return l
}
