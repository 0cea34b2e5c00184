package breaker

import (
	"sync"
	"time"

	"workpipe/internal/clock"
)

// fallbackCache holds the last successful result of a guarded call. It is
// served when the circuit is open, or when a call fails after exhausting
// its in-call retries.
type fallbackCache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
	set       bool

	ttl time.Duration
	clk clock.Clock
}

func newFallbackCache(ttl time.Duration, clk clock.Clock) *fallbackCache {
	return &fallbackCache{ttl: ttl, clk: clk}
}

// put stores a fresh last-good value.
func (c *fallbackCache) put(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = value
	c.expiresAt = c.clk.Now().Add(c.ttl)
	c.set = true
}

// get returns the cached value if one exists and its TTL has not elapsed.
func (c *fallbackCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.set || c.clk.Now().After(c.expiresAt) {
		return "", false
	}
	return c.value, true
}
