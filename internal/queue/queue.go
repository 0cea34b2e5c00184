// Package queue provides the in-memory work queue feeding the processor
// pool. The queue is unbounded: enqueue never blocks on capacity, matching
// the accepted in-memory scope (work is lost on restart). This is a
// deliberate design choice; a bounded variant would need an explicit
// backpressure policy at every producer.
package queue

import (
	"context"
	"errors"
	"sync"

	"workpipe/internal/models"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue is closed")

// Queue is a multi-producer/multi-consumer FIFO buffer of envelopes.
// Ordering is FIFO per producer; no global order across producers is
// promised to consumers.
type Queue struct {
	mu     sync.Mutex
	items  []*models.Envelope
	closed bool

	// wake carries at most one token; a consumer that pops an item while
	// more remain re-signals so no waiter sleeps through available work.
	wake chan struct{}
	done chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Enqueue adds an envelope. It never blocks on capacity and fails only
// after Close.
func (q *Queue) Enqueue(env *models.Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes and returns the oldest envelope, blocking until one is
// available. It returns ctx.Err() if the context is cancelled while
// waiting, or ErrClosed once the queue is closed and drained.
func (q *Queue) Dequeue(ctx context.Context) (*models.Envelope, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return env, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			// Closed while waiting; loop drains anything that raced in.
		case <-q.wake:
		}
	}
}

// Depth returns the number of queued envelopes. The value is approximate
// under concurrent enqueue/dequeue but never negative.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further enqueues and wakes all blocked consumers.
// Already-queued envelopes remain dequeueable until drained.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
