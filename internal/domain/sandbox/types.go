// Package sandbox contains the isolated-execution domain: sandbox lifecycle
// states, resource configuration, execution results, and the warm pool the
// runtime service amortizes cold starts through.
package sandbox

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a sandbox instance.
type State string

const (
	// StateCreating means the driver is still constructing the instance.
	StateCreating State = "creating"
	// StateReady means the instance is warm and waiting in the pool.
	StateReady State = "ready"
	// StateRunning means exactly one executor holds the instance.
	StateRunning State = "running"
	// StateDestroyed is terminal; a destroyed instance is never reused.
	StateDestroyed State = "destroyed"
)

// String returns the state as a string.
func (s State) String() string {
	return string(s)
}

// validTransitions encodes creating→ready→(running⇄ready)*→destroyed.
// ready and running may also go straight to destroyed (reap, failure, overflow).
var validTransitions = map[State][]State{
	StateCreating: {StateReady, StateDestroyed},
	StateReady:    {StateRunning, StateDestroyed},
	StateRunning:  {StateReady, StateDestroyed},
}

// CanTransition reports whether from→to is a legal lifecycle transition.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GenericImage is the image warm-up uses for pre-created low-resource
// instances that can host any tool.
const GenericImage = "generic-runtime"

// NetworkPolicy selects the network access a sandbox gets.
type NetworkPolicy string

const (
	// NetworkNone denies all network access.
	NetworkNone NetworkPolicy = "none"
	// NetworkRestricted allows egress to the tool's declared endpoints only.
	NetworkRestricted NetworkPolicy = "restricted"
	// NetworkFull allows unrestricted egress.
	NetworkFull NetworkPolicy = "full"
)

// Config is the resource and isolation configuration of one sandbox.
type Config struct {
	// Image names the runtime image ("tool-<id>" or GenericImage).
	Image string `json:"image"`
	// CPUCores is the CPU allocation in fractional cores.
	CPUCores float64 `json:"cpu_cores"`
	// MemoryMiB is the memory limit in MiB.
	MemoryMiB int64 `json:"memory_mib"`
	// DiskMiB is the scratch disk limit in MiB.
	DiskMiB int64 `json:"disk_mib"`
	// Network is the network policy applied to the instance.
	Network NetworkPolicy `json:"network"`
	// AllowedTools restricts which tool ids may run inside the instance.
	// Empty means any tool (generic warm instances).
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// TimeoutMs is the default per-execution timeout.
	TimeoutMs int64 `json:"timeout_ms"`
	// Env carries environment variables injected into the instance.
	Env map[string]string `json:"env,omitempty"`
}

// ToolConfig returns the standard configuration for a tool-specific sandbox.
func ToolConfig(toolID string, network NetworkPolicy) Config {
	return Config{
		Image:        "tool-" + toolID,
		CPUCores:     0.5,
		MemoryMiB:    256,
		DiskMiB:      1024,
		Network:      network,
		AllowedTools: []string{toolID},
		TimeoutMs:    30_000,
	}
}

// GenericConfig returns the low-resource configuration warm-up pre-creates.
func GenericConfig() Config {
	return Config{
		Image:     GenericImage,
		CPUCores:  0.1,
		MemoryMiB: 64,
		Network:   NetworkNone,
		TimeoutMs: 30_000,
	}
}

// Handle is the driver-specific reference to a live instance. Opaque to the
// pool and the runtime service; only the driver that created it reads it.
type Handle interface{}

// Sandbox is one isolated execution context. The runtime service exclusively
// owns every instance in creating/ready/running state; all state access is
// serialized through the pool's critical section.
type Sandbox struct {
	// ID is the unique instance id.
	ID string `json:"id"`
	// Config is the resource configuration the instance was created with.
	Config Config `json:"config"`
	// Handle is the driver reference for Run/Destroy calls.
	Handle Handle `json:"-"`
	// CreatedAt is when creation completed.
	CreatedAt time.Time `json:"created_at"`
	// LastUsedAt is when the instance last finished an execution.
	LastUsedAt time.Time `json:"last_used_at"`
	// ExecutionCount is how many executions the instance has served.
	// Only ever increases.
	ExecutionCount int64 `json:"execution_count"`

	state State
}

// State returns the current lifecycle state.
func (s *Sandbox) State() State {
	return s.state
}

// SetState applies a lifecycle transition, rejecting illegal ones. Destroyed
// is terminal: no transition out of it is ever accepted.
func (s *Sandbox) SetState(to State) error {
	if s.state == to {
		return nil
	}
	if !CanTransition(s.state, to) {
		return fmt.Errorf("illegal sandbox transition %s -> %s (id %s)", s.state, to, s.ID)
	}
	s.state = to
	return nil
}

// NewSandbox returns a sandbox in the creating state.
func NewSandbox(id string, cfg Config, now time.Time) *Sandbox {
	return &Sandbox{
		ID:        id,
		Config:    cfg,
		CreatedAt: now,
		state:     StateCreating,
	}
}

// Accepts reports whether the instance may host the given tool id.
func (s *Sandbox) Accepts(toolID string) bool {
	if len(s.Config.AllowedTools) == 0 {
		return true
	}
	for _, id := range s.Config.AllowedTools {
		if id == toolID {
			return true
		}
	}
	return false
}

// Metrics captures the timing and resource footprint of one execution.
type Metrics struct {
	// ColdStartMs is the sandbox creation time; 0 on a pool hit.
	ColdStartMs int64 `json:"cold_start_ms"`
	// ExecutionMs is the tool dispatch time inside the sandbox.
	ExecutionMs int64 `json:"execution_ms"`
	// TotalMs is the end-to-end time including acquisition.
	TotalMs int64 `json:"total_ms"`
	// MemoryPeakMiB is the peak memory the execution reported.
	MemoryPeakMiB int64 `json:"memory_peak_mib"`
	// CPUPercent is the average CPU utilization the execution reported.
	CPUPercent float64 `json:"cpu_percent"`
}

// ExecutionResult is the outcome of one tool execution. Exactly one of
// Output and Error is set.
type ExecutionResult struct {
	// Success reports whether the execution completed without error.
	Success bool `json:"success"`
	// Output is the tool's result value when Success is true.
	Output interface{} `json:"output,omitempty"`
	// Error describes the failure when Success is false.
	Error *ExecutionError `json:"error,omitempty"`
	// Metrics carries the execution timings.
	Metrics Metrics `json:"metrics"`
	// SandboxID identifies the instance that served the execution.
	SandboxID string `json:"sandbox_id,omitempty"`
	// PoolHit reports whether a warm instance served the execution.
	PoolHit bool `json:"pool_hit"`
}

// Sentinel errors for errors.Is checks across the runtime boundary.
var (
	ErrExecution     = errors.New("sandbox execution failed")
	ErrPoolExhausted = errors.New("sandbox pool exhausted")
)

// ExecutionError describes a failed execution with a stable code.
type ExecutionError struct {
	// Code is the stable machine-readable identifier
	// (TIMEOUT, SANDBOX_CREATE_FAILED, TOOL_ERROR, TOOL_NOT_ALLOWED).
	Code string `json:"code"`
	// Message is the human-readable detail.
	Message string `json:"message"`
	// Stdout is the captured standard output, when available.
	Stdout string `json:"stdout,omitempty"`
	// Stderr is the captured standard error, when available.
	Stderr string `json:"stderr,omitempty"`
	// ExitCode is the process exit code, when the driver reports one.
	ExitCode int `json:"exit_code,omitempty"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error %s: %s", e.Code, e.Message)
}

// Unwrap returns ErrExecution so errors.Is(err, ErrExecution) works.
func (e *ExecutionError) Unwrap() error {
	return ErrExecution
}

// PoolExhaustedError reports that the pool is at capacity with no ready
// instance and no return arrived before the deadline.
type PoolExhaustedError struct {
	// Max is the configured maximum instance count.
	Max int
}

// Error implements the error interface.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("sandbox pool exhausted (max %d instances)", e.Max)
}

// Unwrap returns ErrPoolExhausted.
func (e *PoolExhaustedError) Unwrap() error {
	return ErrPoolExhausted
}

// Code returns the stable error code for the boundary.
func (e *PoolExhaustedError) Code() string {
	return "POOL_EXHAUSTED"
}
