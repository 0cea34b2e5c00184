package metrics

import (
	"sync/atomic"
)

// Metrics tracks pipeline counters. Counters are atomics so readers
// (health reporting) never block the workers incrementing them.
type Metrics struct {
	processed        atomic.Int64
	failed           atomic.Int64
	retried          atomic.Int64
	skippedDuplicate atomic.Int64
	deadLettered     atomic.Int64
	queueDepth       atomic.Int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncrementProcessed increments the successfully processed counter
func (m *Metrics) IncrementProcessed() {
	m.processed.Add(1)
}

// IncrementFailed increments the failed-attempt counter
func (m *Metrics) IncrementFailed() {
	m.failed.Add(1)
}

// IncrementRetried increments the requeued-for-retry counter
func (m *Metrics) IncrementRetried() {
	m.retried.Add(1)
}

// IncrementSkippedDuplicate increments the duplicate-delivery counter
func (m *Metrics) IncrementSkippedDuplicate() {
	m.skippedDuplicate.Add(1)
}

// IncrementDeadLettered increments the exhausted-retries counter
func (m *Metrics) IncrementDeadLettered() {
	m.deadLettered.Add(1)
}

// SetQueueDepth records the most recent queue depth sample
func (m *Metrics) SetQueueDepth(depth int64) {
	m.queueDepth.Store(depth)
}

// Processed returns the successfully processed count
func (m *Metrics) Processed() int64 { return m.processed.Load() }

// Failed returns the failed-attempt count
func (m *Metrics) Failed() int64 { return m.failed.Load() }

// SkippedDuplicate returns the duplicate-delivery count
func (m *Metrics) SkippedDuplicate() int64 { return m.skippedDuplicate.Load() }

// GetSnapshot returns a snapshot of all metrics
func (m *Metrics) GetSnapshot() map[string]int64 {
	return map[string]int64{
		"processed":         m.processed.Load(),
		"failed":            m.failed.Load(),
		"retried":           m.retried.Load(),
		"skipped_duplicate": m.skippedDuplicate.Load(),
		"dead_lettered":     m.deadLettered.Load(),
		"queue_depth":       m.queueDepth.Load(),
	}
}
