package sandboxdrv

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

func TestMemoryCreateRunDestroy(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()

	h, err := d.Create(ctx, sandbox.ToolConfig("t1", sandbox.NetworkNone))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.Live() != 1 {
		t.Errorf("expected 1 live instance, got %d", d.Live())
	}

	out, err := d.Run(ctx, h, "t1", map[string]interface{}{"q": "hi"}, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := out.Output.(map[string]interface{})
	if m["tool"] != "t1" || m["status"] != "ok" {
		t.Errorf("unexpected echo output %v", m)
	}

	if err := d.Destroy(ctx, h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if d.Live() != 0 {
		t.Errorf("expected 0 live instances, got %d", d.Live())
	}
	// Idempotent.
	if err := d.Destroy(ctx, h); err != nil {
		t.Errorf("second Destroy should be a no-op, got %v", err)
	}
	if _, destroyed := d.Counts(); destroyed != 1 {
		t.Errorf("expected destroyed count 1, got %d", destroyed)
	}
}

func TestMemoryRunAfterDestroyFails(t *testing.T) {
	d := NewMemory()
	ctx := context.Background()
	h, _ := d.Create(ctx, sandbox.GenericConfig())
	_ = d.Destroy(ctx, h)

	if _, err := d.Run(ctx, h, "t1", nil, time.Second); err == nil {
		t.Error("expected error running on a destroyed instance")
	}
}

func TestMemoryRunTimeout(t *testing.T) {
	d := NewMemory()
	d.RunDelay = 200 * time.Millisecond
	ctx := context.Background()
	h, _ := d.Create(ctx, sandbox.GenericConfig())

	_, err := d.Run(ctx, h, "t1", nil, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryCreateErrHook(t *testing.T) {
	d := NewMemory()
	boom := errors.New("image pull failed")
	d.CreateErr = boom

	if _, err := d.Create(context.Background(), sandbox.GenericConfig()); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestMemoryRunHook(t *testing.T) {
	d := NewMemory()
	d.RunHook = func(toolID string, args map[string]interface{}) (*outbound.RunOutput, error) {
		return &outbound.RunOutput{Output: "hooked:" + toolID}, nil
	}
	h, _ := d.Create(context.Background(), sandbox.GenericConfig())

	out, err := d.Run(context.Background(), h, "t9", nil, time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Output != "hooked:t9" {
		t.Errorf("hook not applied: %v", out.Output)
	}
}
