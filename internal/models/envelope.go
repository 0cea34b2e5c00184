package models

import (
	"time"

	"github.com/google/uuid"
)

// Envelope represents one unit of work flowing through the pipeline.
// It is immutable: a retry is expressed as a new envelope produced by
// NextAttempt, never by mutating an existing one.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Payload   string    `json:"payload"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEnvelope creates a first-delivery envelope with a fresh id.
func NewEnvelope(kind, payload string) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
}

// NextAttempt returns a copy of the envelope scheduled for the next
// delivery attempt. The id stays the same across retries so the
// idempotency gate recognizes redeliveries of the same logical work.
func (e *Envelope) NextAttempt() *Envelope {
	next := *e
	next.Attempt++
	return &next
}

// DeadLetter records work that permanently failed after exhausting
// all delivery attempts.
type DeadLetter struct {
	ID         string    `json:"id"`
	EnvelopeID string    `json:"envelope_id"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Reason     string    `json:"failure_reason"`
	Attempts   int       `json:"attempts"`
	FailedAt   time.Time `json:"failed_at"`
}
