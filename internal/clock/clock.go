// Package clock provides the time source shared by components that measure
// durations or expire entries. Production code uses the system clock; tests
// substitute Manual to advance time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the embedding cache, the sandbox pool, and
// the audit stream. Now returns wall time carrying a monotonic reading, so
// Since is safe against wall-clock adjustments.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type systemClock struct{}

func (systemClock) Now() time.Time                  { return time.Now() }
func (systemClock) Since(t time.Time) time.Duration { return time.Since(t) }

// System returns the real clock.
func System() Clock {
	return systemClock{}
}

// Manual is a test clock whose current time only moves when Advance or Set is
// called. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock starting at the given instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since returns the elapsed manual time since t.
func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to the given instant.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// Compile-time interface verification.
var (
	_ Clock = systemClock{}
	_ Clock = (*Manual)(nil)
)
