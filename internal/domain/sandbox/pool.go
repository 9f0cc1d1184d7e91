package sandbox

import (
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
)

// emaAlpha is the smoothing factor for the pool-hit-rate moving average.
const emaAlpha = 0.1

// Stats is a point-in-time snapshot of the pool counters.
//
// Invariant: Active = Created - Destroyed - Ready, and never negative.
type Stats struct {
	// Created is the total number of instances ever created.
	Created int64 `json:"created"`
	// Destroyed is the total number of instances ever destroyed.
	Destroyed int64 `json:"destroyed"`
	// Active is the number of instances currently running an execution.
	Active int64 `json:"active"`
	// Ready is the number of warm instances waiting in the pool.
	Ready int `json:"ready"`
	// HitRate is the exponential moving average of pool hits per acquisition.
	HitRate float64 `json:"hit_rate"`
	// AvgColdStartMs is the mean creation time across all cold starts.
	AvgColdStartMs float64 `json:"avg_cold_start_ms"`
}

// Pool is the set of ready sandboxes plus the lifetime counters. Every
// mutation happens inside one critical section; driver calls (create, run,
// destroy) never run under the lock.
type Pool struct {
	mu    sync.Mutex
	clk   clock.Clock
	max   int
	ready []*Sandbox

	created    int64
	destroyed  int64
	active     int64
	hitRate    float64
	hitSamples int64

	coldStartTotalMs int64
	coldStarts       int64
}

// NewPool returns an empty pool bounded at max ready instances.
func NewPool(max int, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.System()
	}
	return &Pool{max: max, clk: clk}
}

// Acquire removes and returns the least-recently-used ready instance that
// accepts the given tool id, transitioning it to running. It returns nil on
// a miss. The hit-rate average is updated on every outcome, hit or miss.
func (p *Pool) Acquire(toolID string) *Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()

	best := -1
	for i, sb := range p.ready {
		if !sb.Accepts(toolID) {
			continue
		}
		if best < 0 || sb.LastUsedAt.Before(p.ready[best].LastUsedAt) {
			best = i
		}
	}
	if best < 0 {
		p.observeAcquireLocked(false)
		return nil
	}

	sb := p.ready[best]
	p.ready = append(p.ready[:best], p.ready[best+1:]...)
	// Ready instances always accept the running transition.
	_ = sb.SetState(StateRunning)
	p.active++
	p.observeAcquireLocked(true)
	return sb
}

// AdmitCreated registers a just-created instance that goes straight into an
// execution (the cold-start path). The instance transitions to running.
func (p *Pool) AdmitCreated(sb *Sandbox) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := sb.SetState(StateReady); err != nil {
		return err
	}
	if err := sb.SetState(StateRunning); err != nil {
		return err
	}
	p.created++
	p.active++
	return nil
}

// AddWarm registers a just-created instance as ready (the warm-up path).
// When the pool is at capacity the oldest ready instance by last use is
// evicted; the caller must destroy the returned instance outside the lock.
func (p *Pool) AddWarm(sb *Sandbox) (evicted *Sandbox, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := sb.SetState(StateReady); err != nil {
		return nil, err
	}
	p.created++
	sb.LastUsedAt = p.clk.Now()
	evicted = p.insertLocked(sb)
	return evicted, nil
}

// Release returns a running instance to the ready set after a successful
// execution, stamping last-used and bumping the execution count. When the
// pool is at capacity the oldest ready instance is evicted; the caller must
// destroy the returned instance outside the lock.
func (p *Pool) Release(sb *Sandbox) (evicted *Sandbox, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := sb.SetState(StateReady); err != nil {
		return nil, err
	}
	p.active--
	sb.LastUsedAt = p.clk.Now()
	sb.ExecutionCount++
	evicted = p.insertLocked(sb)
	return evicted, nil
}

// insertLocked appends sb to the ready set, evicting the oldest instance by
// last use when the set is full. Caller holds the lock.
func (p *Pool) insertLocked(sb *Sandbox) (evicted *Sandbox) {
	if len(p.ready) >= p.max && p.max > 0 {
		oldest := 0
		for i, r := range p.ready {
			if r.LastUsedAt.Before(p.ready[oldest].LastUsedAt) {
				oldest = i
			}
		}
		evicted = p.ready[oldest]
		p.ready = append(p.ready[:oldest], p.ready[oldest+1:]...)
		_ = evicted.SetState(StateDestroyed)
		p.destroyed++
	}
	p.ready = append(p.ready, sb)
	return evicted
}

// Discard transitions a running instance to destroyed. Used after any
// execution failure; a failed sandbox is never returned to the pool.
func (p *Pool) Discard(sb *Sandbox) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = sb.SetState(StateDestroyed)
	p.active--
	p.destroyed++
}

// DiscardCreating accounts for an instance whose creation failed before it
// ever entered the pool.
func (p *Pool) DiscardCreating(sb *Sandbox) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = sb.SetState(StateDestroyed)
	p.created++
	p.destroyed++
}

// ReapIdle removes every ready instance idle longer than idleTimeout and
// marks it destroyed. The caller must destroy the returned instances via the
// driver outside the lock.
func (p *Pool) ReapIdle(idleTimeout time.Duration) []*Sandbox {
	p.mu.Lock()
	defer p.mu.Unlock()

	var reaped []*Sandbox
	kept := p.ready[:0]
	for _, sb := range p.ready {
		if p.clk.Since(sb.LastUsedAt) > idleTimeout {
			_ = sb.SetState(StateDestroyed)
			p.destroyed++
			reaped = append(reaped, sb)
			continue
		}
		kept = append(kept, sb)
	}
	p.ready = kept
	return reaped
}

// Len returns the current ready-set size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

// Total returns ready plus running instances, the number that counts
// against the maxInstances limit.
func (p *Pool) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready) + int(p.active)
}

// ObserveColdStart records one cold-start duration for the moving average.
func (p *Pool) ObserveColdStart(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coldStartTotalMs += ms
	p.coldStarts++
}

// observeAcquireLocked folds one acquisition outcome into the hit-rate EMA.
// The first sample seeds the average directly.
func (p *Pool) observeAcquireLocked(hit bool) {
	x := 0.0
	if hit {
		x = 1.0
	}
	if p.hitSamples == 0 {
		p.hitRate = x
	} else {
		p.hitRate = emaAlpha*x + (1-emaAlpha)*p.hitRate
	}
	p.hitSamples++
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Created:   p.created,
		Destroyed: p.destroyed,
		Active:    p.active,
		Ready:     len(p.ready),
		HitRate:   p.hitRate,
	}
	if p.coldStarts > 0 {
		s.AvgColdStartMs = float64(p.coldStartTotalMs) / float64(p.coldStarts)
	}
	return s
}
