package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
	"github.com/Tool-Gate/Toolgate/internal/ident"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

// Runtime defaults; overridable through RuntimeConfig.
const (
	DefaultMinInstances   = 2
	DefaultMaxInstances   = 100
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultWarmupInterval = time.Minute
	DefaultExecTimeout    = 30 * time.Second

	// coldStartWarnThreshold is the creation time above which a warning is
	// logged.
	coldStartWarnThreshold = 500 * time.Millisecond

	// destroyTimeout bounds driver teardown calls.
	destroyTimeout = 5 * time.Second
)

// RuntimeConfig tunes the sandbox runtime. Zero values fall back to the
// defaults above.
type RuntimeConfig struct {
	MinInstances   int
	MaxInstances   int
	IdleTimeout    time.Duration
	WarmupInterval time.Duration
	ExecTimeout    time.Duration
	Network        sandbox.NetworkPolicy
}

func (c *RuntimeConfig) applyDefaults() {
	if c.MinInstances == 0 {
		c.MinInstances = DefaultMinInstances
	}
	if c.MaxInstances == 0 {
		c.MaxInstances = DefaultMaxInstances
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.WarmupInterval == 0 {
		c.WarmupInterval = DefaultWarmupInterval
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = DefaultExecTimeout
	}
	if c.Network == "" {
		c.Network = sandbox.NetworkRestricted
	}
}

// RuntimeOption configures the RuntimeService.
type RuntimeOption func(*RuntimeService)

// WithRuntimeClock substitutes the time source. Tests use a Manual clock to
// drive idle reaping deterministically.
func WithRuntimeClock(clk clock.Clock) RuntimeOption {
	return func(s *RuntimeService) { s.clk = clk }
}

// ExecOption configures one execution.
type ExecOption func(*execOptions)

type execOptions struct {
	timeout time.Duration
}

// WithExecTimeout overrides the per-execution timeout.
func WithExecTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d }
}

// RuntimeService executes tools inside pooled sandboxes. Warm instances are
// reused by LRU; misses create a tool-specific instance synchronously; a
// maintenance loop reaps idle instances and pre-warms generic ones.
type RuntimeService struct {
	driver  outbound.SandboxDriver
	pool    *sandbox.Pool
	clk     clock.Clock
	logger  *slog.Logger
	metrics *telemetry.Metrics
	cfg     RuntimeConfig

	// returned is signaled whenever an instance becomes ready or a slot
	// frees up, waking executors blocked on a full pool.
	returned chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewRuntimeService builds the runtime and starts its maintenance loop.
// Call Stop to shut the loop down.
func NewRuntimeService(driver outbound.SandboxDriver, cfg RuntimeConfig, logger *slog.Logger, metrics *telemetry.Metrics, opts ...RuntimeOption) *RuntimeService {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	s := &RuntimeService{
		driver:   driver,
		clk:      clock.System(),
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		returned: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = sandbox.NewPool(cfg.MaxInstances, s.clk)
	go s.maintenanceLoop()
	return s
}

// Stop shuts the maintenance loop down. Idempotent. Live instances are left
// to the caller; a full teardown destroys them via Drain.
func (s *RuntimeService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Drain stops the maintenance loop and destroys every ready instance.
func (s *RuntimeService) Drain(ctx context.Context) {
	s.Stop()
	for _, sb := range s.pool.ReapIdle(-1) {
		s.destroy(ctx, sb)
	}
	s.mirrorStats()
}

// Execute runs one tool with its arguments inside a sandbox. Execution-level
// failures (creation, timeout, tool error) come back as a result with
// Success=false and Error set; a nil result with an error means no execution
// happened at all (pool exhausted, context cancelled).
func (s *RuntimeService) Execute(ctx context.Context, def *tool.Definition, args map[string]interface{}, opts ...ExecOption) (*sandbox.ExecutionResult, error) {
	eo := execOptions{timeout: s.cfg.ExecTimeout}
	for _, opt := range opts {
		opt(&eo)
	}
	ctx, cancel := context.WithTimeout(ctx, eo.timeout)
	defer cancel()

	start := s.clk.Now()

	sb, coldStartMs, poolHit, err := s.acquire(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if sb == nil {
		// Creation failed; the cold-start cost is still reported.
		res := failedResult("", false, &sandbox.ExecutionError{
			Code:    "SANDBOX_CREATE_FAILED",
			Message: "sandbox creation failed for tool " + def.ID,
		})
		res.Metrics.ColdStartMs = coldStartMs
		res.Metrics.TotalMs = s.clk.Since(start).Milliseconds()
		s.countExecution("error")
		return res, nil
	}

	runStart := s.clk.Now()
	out, runErr := s.driver.Run(ctx, sb.Handle, def.ID, args, eo.timeout)
	execMs := s.clk.Since(runStart).Milliseconds()

	if runErr != nil {
		// A failed instance is never returned to the pool.
		s.pool.Discard(sb)
		s.destroy(context.Background(), sb)
		s.signalReturn()
		s.mirrorStats()

		code := "TOOL_ERROR"
		status := "error"
		if errors.Is(runErr, context.DeadlineExceeded) {
			code = "TIMEOUT"
			status = "timeout"
		}
		res := failedResult(sb.ID, poolHit, &sandbox.ExecutionError{
			Code:    code,
			Message: runErr.Error(),
		})
		res.Metrics.ColdStartMs = coldStartMs
		res.Metrics.ExecutionMs = execMs
		res.Metrics.TotalMs = s.clk.Since(start).Milliseconds()
		s.countExecution(status)
		return res, nil
	}

	evicted, relErr := s.pool.Release(sb)
	if relErr != nil {
		// Illegal transition; treat the instance as lost.
		s.logger.Error("sandbox release failed", "sandbox_id", sb.ID, "error", relErr)
		s.pool.Discard(sb)
		s.destroy(context.Background(), sb)
	}
	if evicted != nil {
		s.destroy(context.Background(), evicted)
	}
	s.signalReturn()
	s.mirrorStats()
	s.countExecution("success")

	return &sandbox.ExecutionResult{
		Success: true,
		Output:  out.Output,
		Metrics: sandbox.Metrics{
			ColdStartMs:   coldStartMs,
			ExecutionMs:   execMs,
			TotalMs:       s.clk.Since(start).Milliseconds(),
			MemoryPeakMiB: out.MemoryPeakMiB,
			CPUPercent:    out.CPUPercent,
		},
		SandboxID: sb.ID,
		PoolHit:   poolHit,
	}, nil
}

// Stats returns a snapshot of the pool counters.
func (s *RuntimeService) Stats() sandbox.Stats {
	return s.pool.Stats()
}

// acquire obtains an instance for the tool: a warm hit, a synchronous cold
// start while capacity remains, or a wait for a return when the pool is
// full. A nil sandbox with a nil error means creation failed; coldStartMs
// still carries the elapsed creation time.
func (s *RuntimeService) acquire(ctx context.Context, toolID string) (sb *sandbox.Sandbox, coldStartMs int64, poolHit bool, err error) {
	for {
		if sb := s.pool.Acquire(toolID); sb != nil {
			s.countAcquire(true)
			s.mirrorStats()
			return sb, 0, true, nil
		}
		s.countAcquire(false)

		if s.pool.Total() < s.cfg.MaxInstances {
			sb, ms := s.coldStart(ctx, toolID)
			s.mirrorStats()
			return sb, ms, false, nil
		}

		select {
		case <-s.returned:
		case <-ctx.Done():
			return nil, 0, false, &sandbox.PoolExhaustedError{Max: s.cfg.MaxInstances}
		}
	}
}

// coldStart synchronously creates a tool-specific instance and admits it
// straight into the execution. The reported cold-start time covers creation
// only.
func (s *RuntimeService) coldStart(ctx context.Context, toolID string) (*sandbox.Sandbox, int64) {
	cfg := sandbox.ToolConfig(toolID, s.cfg.Network)
	sb := sandbox.NewSandbox(ident.SandboxID(), cfg, s.clk.Now())

	createStart := s.clk.Now()
	h, err := s.driver.Create(ctx, cfg)
	ms := s.clk.Since(createStart).Milliseconds()

	if err != nil {
		s.pool.DiscardCreating(sb)
		s.logger.Error("sandbox creation failed",
			"tool_id", toolID, "cold_start_ms", ms, "error", err)
		return nil, ms
	}
	sb.Handle = h
	sb.CreatedAt = s.clk.Now()

	if err := s.pool.AdmitCreated(sb); err != nil {
		s.logger.Error("sandbox admission failed", "sandbox_id", sb.ID, "error", err)
		s.destroy(context.Background(), sb)
		return nil, ms
	}

	s.pool.ObserveColdStart(ms)
	if s.metrics != nil {
		s.metrics.ColdStartDuration.Observe(float64(ms) / 1000)
	}
	if ms > coldStartWarnThreshold.Milliseconds() {
		s.logger.Warn("slow sandbox cold start",
			"tool_id", toolID, "sandbox_id", sb.ID, "cold_start_ms", ms)
	}
	return sb, ms
}

// RunMaintenance performs one maintenance pass: reap ready instances idle
// past the timeout, then warm the pool back up to the minimum with generic
// instances. Warm creates run concurrently; the pass returns once they all
// settle. The background loop calls this on every tick; tests call it
// directly with a Manual clock.
func (s *RuntimeService) RunMaintenance(ctx context.Context) {
	for _, sb := range s.pool.ReapIdle(s.cfg.IdleTimeout) {
		s.destroy(ctx, sb)
		s.logger.Debug("reaped idle sandbox",
			"sandbox_id", sb.ID, "executions", sb.ExecutionCount)
	}

	need := s.cfg.MinInstances - s.pool.Len()
	if room := s.cfg.MaxInstances - s.pool.Total(); need > room {
		need = room
	}
	var wg sync.WaitGroup
	for i := 0; i < need; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.warmOne(ctx)
		}()
	}
	wg.Wait()
	s.mirrorStats()
}

func (s *RuntimeService) warmOne(ctx context.Context) {
	cfg := sandbox.GenericConfig()
	sb := sandbox.NewSandbox(ident.SandboxID(), cfg, s.clk.Now())

	h, err := s.driver.Create(ctx, cfg)
	if err != nil {
		s.pool.DiscardCreating(sb)
		s.logger.Warn("warm-up creation failed", "error", err)
		return
	}
	sb.Handle = h
	sb.CreatedAt = s.clk.Now()

	evicted, err := s.pool.AddWarm(sb)
	if err != nil {
		s.logger.Error("warm sandbox admission failed", "sandbox_id", sb.ID, "error", err)
		s.destroy(context.Background(), sb)
		return
	}
	if evicted != nil {
		s.destroy(context.Background(), evicted)
	}
	s.signalReturn()
}

func (s *RuntimeService) maintenanceLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.WarmupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunMaintenance(context.Background())
		case <-s.stop:
			return
		}
	}
}

// destroy tears one instance down via the driver, bounded by destroyTimeout.
func (s *RuntimeService) destroy(ctx context.Context, sb *sandbox.Sandbox) {
	ctx, cancel := context.WithTimeout(ctx, destroyTimeout)
	defer cancel()
	if err := s.driver.Destroy(ctx, sb.Handle); err != nil {
		s.logger.Warn("sandbox destroy failed", "sandbox_id", sb.ID, "error", err)
	}
}

// signalReturn wakes one executor waiting on a full pool. Non-blocking; a
// pending signal is enough.
func (s *RuntimeService) signalReturn() {
	select {
	case s.returned <- struct{}{}:
	default:
	}
}

func (s *RuntimeService) mirrorStats() {
	if s.metrics == nil {
		return
	}
	st := s.pool.Stats()
	s.metrics.SandboxesActive.Set(float64(st.Active))
	s.metrics.SandboxesReady.Set(float64(st.Ready))
}

func (s *RuntimeService) countAcquire(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.PoolHits.Inc()
	} else {
		s.metrics.PoolMisses.Inc()
	}
}

func (s *RuntimeService) countExecution(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ExecutionsTotal.WithLabelValues(status).Inc()
}

func failedResult(sandboxID string, poolHit bool, e *sandbox.ExecutionError) *sandbox.ExecutionResult {
	return &sandbox.ExecutionResult{
		Success:   false,
		Error:     e,
		SandboxID: sandboxID,
		PoolHit:   poolHit,
	}
}
