package sandboxdrv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// Command describes how to launch the worker process for one image.
type Command struct {
	// Path is the executable to run.
	Path string
	// Args are passed to the executable.
	Args []string
}

// subprocessHandle is one live worker process with its pipes.
type subprocessHandle struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

// workerRequest is one dispatch written to the worker, line-delimited JSON.
type workerRequest struct {
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// workerResponse is one result read back from the worker.
type workerResponse struct {
	Output   interface{} `json:"output,omitempty"`
	Error    string      `json:"error,omitempty"`
	Stdout   string      `json:"stdout,omitempty"`
	Stderr   string      `json:"stderr,omitempty"`
	ExitCode int         `json:"exit_code,omitempty"`
}

// Subprocess launches one worker process per sandbox instance and speaks
// line-delimited JSON over its stdin/stdout. Images map to commands at
// construction; an unmapped image fails Create.
type Subprocess struct {
	commands map[string]Command
	// fallback serves images without an explicit mapping when set.
	fallback *Command
}

// NewSubprocess builds a driver over the given image→command map.
func NewSubprocess(commands map[string]Command) *Subprocess {
	return &Subprocess{commands: commands}
}

// WithFallback sets the command used for unmapped images and returns the
// driver for chaining.
func (d *Subprocess) WithFallback(cmd Command) *Subprocess {
	d.fallback = &cmd
	return d
}

// Create implements the driver port: it spawns the worker for the image
// and wires its pipes. The worker's stderr is forwarded to the gateway's
// stderr for operator visibility.
func (d *Subprocess) Create(ctx context.Context, cfg sandbox.Config) (sandbox.Handle, error) {
	command, ok := d.commands[cfg.Image]
	if !ok {
		if d.fallback == nil {
			return nil, fmt.Errorf("no command mapped for image %q", cfg.Image)
		}
		command = *d.fallback
	}

	cmd := exec.CommandContext(ctx, command.Path, command.Args...)
	cmd.Env = append(os.Environ(), envFor(cfg)...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}

	return &subprocessHandle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// Run implements the driver port. One request line goes out, one response
// line comes back; the worker is killed when the timeout fires first.
func (d *Subprocess) Run(ctx context.Context, h sandbox.Handle, toolID string, args map[string]interface{}, timeout time.Duration) (*outbound.RunOutput, error) {
	sh, ok := h.(*subprocessHandle)
	if !ok {
		return nil, fmt.Errorf("foreign handle %T", h)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return nil, errors.New("worker already destroyed")
	}

	line, err := json.Marshal(workerRequest{Tool: toolID, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := sh.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write to worker: %w", err)
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type readResult struct {
		resp workerResponse
		err  error
	}
	ch := make(chan readResult, 1)
	go func() {
		raw, err := sh.stdout.ReadBytes('\n')
		if err != nil {
			ch <- readResult{err: fmt.Errorf("read from worker: %w", err)}
			return
		}
		var resp workerResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			ch <- readResult{err: fmt.Errorf("decode response: %w", err)}
			return
		}
		ch <- readResult{resp: resp}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		out := &outbound.RunOutput{
			Output:   r.resp.Output,
			Stdout:   r.resp.Stdout,
			Stderr:   r.resp.Stderr,
			ExitCode: r.resp.ExitCode,
		}
		if r.resp.Error != "" {
			return out, errors.New(r.resp.Error)
		}
		return out, nil
	case <-runCtx.Done():
		// The worker may be mid-write; kill it so the instance is not
		// returned to the pool in an unknown state.
		_ = sh.cmd.Process.Kill()
		return nil, runCtx.Err()
	}
}

// Destroy implements the driver port. Idempotent; kills the worker when it
// is still running and reaps the process.
func (d *Subprocess) Destroy(_ context.Context, h sandbox.Handle) error {
	sh, ok := h.(*subprocessHandle)
	if !ok {
		return fmt.Errorf("foreign handle %T", h)
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.closed {
		return nil
	}
	sh.closed = true

	var errs []error
	if err := sh.stdin.Close(); err != nil {
		errs = append(errs, err)
	}
	if sh.cmd.Process != nil {
		_ = sh.cmd.Process.Kill()
	}
	// Wait reaps the process; the error after a kill is expected.
	_ = sh.cmd.Wait()
	return errors.Join(errs...)
}

// envFor renders the sandbox configuration as environment variables for
// the worker.
func envFor(cfg sandbox.Config) []string {
	env := []string{
		"TOOL_GATE_SANDBOX_IMAGE=" + cfg.Image,
		"TOOL_GATE_SANDBOX_NETWORK=" + string(cfg.Network),
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// Compile-time check that Subprocess implements the driver port.
var _ outbound.SandboxDriver = (*Subprocess)(nil)
