// Package gate implements idempotency admission control for work ids.
// Every id is in one of three states: unseen, in-flight, or completed.
// The gate arbitrates which of possibly concurrent duplicate deliveries
// of the same id is allowed to execute.
package gate

import (
	"sync"
	"time"

	"workpipe/internal/clock"
)

type recordState int

const (
	stateInFlight recordState = iota
	stateCompleted
)

type record struct {
	state       recordState
	completedAt time.Time
}

// Gate tracks in-flight and completed work ids. All methods are safe for
// concurrent use.
type Gate struct {
	mu        sync.Mutex
	records   map[string]*record
	clk       clock.Clock
	retention time.Duration
}

// New creates a gate. retention bounds how long completed records are kept
// before Sweep may evict them; zero keeps completed records forever, which
// preserves the strict never-reprocess guarantee at the cost of unbounded
// memory growth with distinct ids.
func New(clk clock.Clock, retention time.Duration) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gate{
		records:   make(map[string]*record),
		clk:       clk,
		retention: retention,
	}
}

// TryStart attempts to admit the given id for execution. It returns true
// only when the id was unseen; exactly one of any set of concurrent
// callers racing on the same unseen id wins. Once an id is completed,
// TryStart returns false forever.
func (g *Gate) TryStart(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.records[id]; exists {
		return false
	}
	g.records[id] = &record{state: stateInFlight}
	return true
}

// MarkCompleted transitions the id to completed. The transition is
// terminal: no later TryStart for the id will ever succeed.
func (g *Gate) MarkCompleted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.records[id] = &record{
		state:       stateCompleted,
		completedAt: g.clk.Now(),
	}
}

// Release returns an in-flight id to unseen so a later delivery can be
// admitted again. It is a no-op for completed ids, so a racing
// MarkCompleted always wins.
func (g *Gate) Release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, exists := g.records[id]; exists && rec.state == stateInFlight {
		delete(g.records, id)
	}
}

// IsCompleted reports whether the id has been completed.
func (g *Gate) IsCompleted(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	rec, exists := g.records[id]
	return exists && rec.state == stateCompleted
}

// Len returns the number of tracked records.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// Sweep evicts completed records older than the retention window and
// returns how many were removed. With zero retention it does nothing.
// Evicted ids become admissible again; the window must therefore be sized
// beyond the longest realistic redelivery horizon.
func (g *Gate) Sweep() int {
	if g.retention <= 0 {
		return 0
	}

	cutoff := g.clk.Now().Add(-g.retention)

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, rec := range g.records {
		if rec.state == stateCompleted && rec.completedAt.Before(cutoff) {
			delete(g.records, id)
			removed++
		}
	}
	return removed
}
