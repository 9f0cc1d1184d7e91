// Package ratelimit provides the process-wide request rate counter. The
// upstream gateway enforces the 1000 req/s budget; the core only measures
// the current rate and exposes the remaining headroom as a backpressure
// signal.
package ratelimit

import (
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
)

// DefaultBudget is the process-wide request budget per second.
const DefaultBudget = 1000

// Counter measures requests over a sliding one-second window.
// Safe for concurrent use.
type Counter struct {
	mu     sync.Mutex
	clk    clock.Clock
	budget int
	// events holds the observation timestamps inside the current window,
	// oldest first.
	events []time.Time
}

// NewCounter returns a counter against the given per-second budget.
// A non-positive budget falls back to DefaultBudget.
func NewCounter(budget int, clk clock.Clock) *Counter {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Counter{clk: clk, budget: budget}
}

// Observe records one request at the current instant and returns the rate
// including it.
func (c *Counter) Observe() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clk.Now()
	c.pruneLocked(now)
	c.events = append(c.events, now)
	return len(c.events)
}

// Rate returns the number of requests observed in the last second.
func (c *Counter) Rate() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.clk.Now())
	return len(c.events)
}

// Remaining returns the headroom left against the budget, never negative.
func (c *Counter) Remaining() int {
	r := c.budget - c.Rate()
	if r < 0 {
		return 0
	}
	return r
}

// Budget returns the configured per-second budget.
func (c *Counter) Budget() int {
	return c.budget
}

// Saturated reports whether the current rate meets or exceeds the budget.
func (c *Counter) Saturated() bool {
	return c.Rate() >= c.budget
}

// pruneLocked drops events older than one second. Caller holds the lock.
func (c *Counter) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(c.events) && !c.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.events = append(c.events[:0], c.events[i:]...)
	}
}
