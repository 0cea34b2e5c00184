// Package deadletter collects work that exhausted all delivery attempts.
package deadletter

import (
	"context"

	"workpipe/internal/models"
)

// Sink receives permanently failed work for later triage. The processor
// calls Store exactly once per exhausted envelope.
type Sink interface {
	Store(ctx context.Context, d models.DeadLetter) error
	Close() error
}

// NopSink discards dead letters, reproducing the minimal drop-only
// behavior where terminal failures surface through the failure counter
// alone.
type NopSink struct{}

// Store discards the record.
func (NopSink) Store(ctx context.Context, d models.DeadLetter) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }
