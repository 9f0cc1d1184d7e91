package outbound

import (
	"context"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
)

// RunOutput is what a driver reports for one tool dispatch.
type RunOutput struct {
	// Output is the tool's result value.
	Output interface{}
	// Stdout is the captured standard output, when the driver exposes it.
	Stdout string
	// Stderr is the captured standard error, when the driver exposes it.
	Stderr string
	// ExitCode is the process exit code, when the driver reports one.
	ExitCode int
	// MemoryPeakMiB is the peak memory observed during the run.
	MemoryPeakMiB int64
	// CPUPercent is the average CPU utilization observed during the run.
	CPUPercent float64
}

// SandboxDriver abstracts the isolation mechanism. The core never touches
// container primitives directly; it only holds opaque handles.
type SandboxDriver interface {
	// Create constructs one isolated instance for the given configuration
	// and returns the driver handle for it.
	Create(ctx context.Context, cfg sandbox.Config) (sandbox.Handle, error)

	// Run dispatches a tool with its arguments into a live instance,
	// enforcing the timeout. A timeout or tool failure is returned as an
	// error; the caller destroys the instance in that case.
	Run(ctx context.Context, h sandbox.Handle, toolID string, args map[string]interface{}, timeout time.Duration) (*RunOutput, error)

	// Destroy tears the instance down. Idempotent.
	Destroy(ctx context.Context, h sandbox.Handle) error
}
