// Package sandboxdrv provides sandbox driver adapters. Memory simulates
// isolation in-process and is the default for development and tests;
// Subprocess runs one worker process per instance over line-delimited JSON.
package sandboxdrv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
	"github.com/Tool-Gate/Toolgate/internal/ident"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// memHandle is the Memory driver's instance reference.
type memHandle struct {
	id  string
	cfg sandbox.Config
}

// Memory is an in-process driver with deterministic behavior and optional
// hooks for injecting latency and failures in tests. Safe for concurrent
// use.
type Memory struct {
	mu        sync.Mutex
	live      map[string]memHandle
	created   int
	destroyed int

	// CreateDelay simulates cold-start latency.
	CreateDelay time.Duration
	// RunDelay simulates execution latency.
	RunDelay time.Duration
	// CreateErr fails every Create when set.
	CreateErr error
	// RunHook overrides the default echo behavior when set.
	RunHook func(toolID string, args map[string]interface{}) (*outbound.RunOutput, error)
}

// NewMemory returns an empty in-process driver.
func NewMemory() *Memory {
	return &Memory{live: make(map[string]memHandle)}
}

// Create implements the driver port.
func (d *Memory) Create(ctx context.Context, cfg sandbox.Config) (sandbox.Handle, error) {
	if d.CreateDelay > 0 {
		select {
		case <-time.After(d.CreateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.CreateErr != nil {
		return nil, d.CreateErr
	}

	h := memHandle{id: ident.SandboxID(), cfg: cfg}
	d.mu.Lock()
	d.live[h.id] = h
	d.created++
	d.mu.Unlock()
	return h, nil
}

// Run implements the driver port. The default behavior echoes the tool id
// and arguments; RunHook substitutes real behavior in tests.
func (d *Memory) Run(ctx context.Context, h sandbox.Handle, toolID string, args map[string]interface{}, timeout time.Duration) (*outbound.RunOutput, error) {
	mh, ok := h.(memHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	d.mu.Lock()
	_, alive := d.live[mh.id]
	d.mu.Unlock()
	if !alive {
		return nil, fmt.Errorf("instance %s is not live", mh.id)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if d.RunDelay > 0 {
		select {
		case <-time.After(d.RunDelay):
		case <-runCtx.Done():
			return nil, runCtx.Err()
		}
	} else if err := runCtx.Err(); err != nil {
		return nil, err
	}

	if d.RunHook != nil {
		return d.RunHook(toolID, args)
	}
	return &outbound.RunOutput{
		Output: map[string]interface{}{
			"tool":   toolID,
			"args":   args,
			"status": "ok",
		},
	}, nil
}

// Destroy implements the driver port. Idempotent.
func (d *Memory) Destroy(_ context.Context, h sandbox.Handle) error {
	mh, ok := h.(memHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, alive := d.live[mh.id]; alive {
		delete(d.live, mh.id)
		d.destroyed++
	}
	return nil
}

// Live returns the number of live instances. Test helper.
func (d *Memory) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Counts returns the lifetime created and destroyed totals. Test helper.
func (d *Memory) Counts() (created, destroyed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created, d.destroyed
}

// Compile-time check that Memory implements the driver port.
var _ outbound.SandboxDriver = (*Memory)(nil)
