package sandbox

import (
	"errors"
	"testing"
	"time"
)

func TestSetStateLifecycle(t *testing.T) {
	now := time.Now()
	sb := NewSandbox("sbx_1", GenericConfig(), now)

	if sb.State() != StateCreating {
		t.Fatalf("expected creating, got %s", sb.State())
	}

	steps := []State{StateReady, StateRunning, StateReady, StateRunning, StateDestroyed}
	for _, next := range steps {
		if err := sb.SetState(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}

func TestSetStateRejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"creating to running", StateCreating, StateRunning},
		{"destroyed to ready", StateDestroyed, StateReady},
		{"destroyed to running", StateDestroyed, StateRunning},
		{"ready to creating", StateReady, StateCreating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &Sandbox{ID: "sbx_t", state: tt.from}
			if err := sb.SetState(tt.to); err == nil {
				t.Errorf("expected error for %s -> %s, got nil", tt.from, tt.to)
			}
		})
	}
}

func TestToolConfig(t *testing.T) {
	cfg := ToolConfig("search", NetworkRestricted)
	if cfg.Image != "tool-search" {
		t.Errorf("expected image tool-search, got %s", cfg.Image)
	}
	if cfg.CPUCores != 0.5 || cfg.MemoryMiB != 256 || cfg.DiskMiB != 1024 {
		t.Errorf("unexpected resource limits: %+v", cfg)
	}
	if len(cfg.AllowedTools) != 1 || cfg.AllowedTools[0] != "search" {
		t.Errorf("expected allowed tools [search], got %v", cfg.AllowedTools)
	}
}

func TestGenericConfigHasNoNetwork(t *testing.T) {
	cfg := GenericConfig()
	if cfg.Image != GenericImage {
		t.Errorf("expected image %s, got %s", GenericImage, cfg.Image)
	}
	if cfg.Network != NetworkNone {
		t.Errorf("expected network none, got %s", cfg.Network)
	}
	if cfg.CPUCores != 0.1 || cfg.MemoryMiB != 64 {
		t.Errorf("unexpected resource limits: %+v", cfg)
	}
}

func TestAccepts(t *testing.T) {
	tool := &Sandbox{Config: ToolConfig("t1", NetworkNone)}
	if !tool.Accepts("t1") {
		t.Error("tool sandbox should accept its own tool")
	}
	if tool.Accepts("t2") {
		t.Error("tool sandbox should reject other tools")
	}

	generic := &Sandbox{Config: GenericConfig()}
	if !generic.Accepts("anything") {
		t.Error("generic sandbox should accept any tool")
	}
}

func TestExecutionErrorUnwrap(t *testing.T) {
	err := &ExecutionError{Code: "TIMEOUT", Message: "deadline exceeded"}
	if !errors.Is(err, ErrExecution) {
		t.Error("ExecutionError should unwrap to ErrExecution")
	}

	var pe *PoolExhaustedError
	wrapped := error(&PoolExhaustedError{Max: 100})
	if !errors.Is(wrapped, ErrPoolExhausted) {
		t.Error("PoolExhaustedError should unwrap to ErrPoolExhausted")
	}
	if !errors.As(wrapped, &pe) || pe.Max != 100 {
		t.Error("errors.As should recover the PoolExhaustedError")
	}
}
