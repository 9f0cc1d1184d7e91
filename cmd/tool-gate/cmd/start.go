package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Tool-Gate/Toolgate/internal/adapter/inbound/stdio"
	auditsink "github.com/Tool-Gate/Toolgate/internal/adapter/outbound/audit"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/cel"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/embedprov"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/memory"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/sandboxdrv"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/sqlite"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/state"
	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/config"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/domain/ratelimit"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
	"github.com/Tool-Gate/Toolgate/internal/service"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway on stdin/stdout",
	Long: `Start the Tool Gate gateway.

The gateway reads one JSON payload per line from stdin and writes one
JSON result per line to stdout. Logs and telemetry go to stderr so the
response stream stays clean.

Reviewer verdicts for requests parked at the approval gate are submitted
inline as control lines:
  {"toolgate":"approve","request_id":"req_...","reviewer_id":"...","decision":"approved"}

A "modified" decision may carry parameter overrides that replace the
request's original arguments before execution:
  {"toolgate":"approve","request_id":"req_...","reviewer_id":"...","decision":"modified","modifications":{"limit":10}}

Examples:
  # Start with config file settings
  tool-gate start

  # Start in dev mode (debug logging, auto-approved execution)
  tool-gate start --dev

  # Start with a specific config file
  tool-gate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, auto-approve)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so the CLI flag can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout is reserved for the response stream).
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	a, err := buildApp(ctx, cfg, stateDir, logger)
	if err != nil {
		return err
	}
	defer a.close()

	// Write PID file so "tool-gate stop" can find us.
	if err := a.store.WritePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", a.store.PIDPath(), "error", err)
	} else {
		defer func() { _ = a.store.RemovePID() }()
	}

	logger.Info("tool-gate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"tools", a.toolCount,
		"audit_output", cfg.Audit.Output,
		"state_dir", a.store.Dir(),
	)

	transport := stdio.NewTransport(a.gateway, logger)
	err = transport.Serve(ctx)
	if err == context.Canceled {
		err = nil
	}

	logger.Info("tool-gate stopped")
	return err
}

// app bundles the wired components so start and run share one boot path and
// one shutdown order.
type app struct {
	logger    *slog.Logger
	store     *state.Store
	providers *telemetry.Providers
	sink      outbound.AuditSink
	stream    *service.AuditService
	runtime   *service.RuntimeService
	sessions  *memory.SessionStore
	gateway   *service.GatewayService
	stats     *service.StatsService
	toolCount int
}

// buildApp wires the full pipeline from config: embedding provider, router,
// sandbox runtime, audit stream, catalog, credential facade, and gateway.
func buildApp(ctx context.Context, cfg *config.Config, stateDir string, logger *slog.Logger) (*app, error) {
	store, err := state.NewStore(stateDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open state directory: %w", err)
	}
	appState, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	// Save immediately to create the file if it didn't exist.
	if err := store.Save(appState); err != nil {
		return nil, fmt.Errorf("save initial state: %w", err)
	}
	logger.Info("state loaded", "dir", store.Dir(), "enrolled_credentials", len(appState.EnrolledCredentialIDs))

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	providers, err := telemetry.NewProviders(os.Stderr, "tool-gate", Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	provider := embedprov.NewDeterministic(cfg.Embedding.Model, cfg.Embedding.Dimensions)
	embeddings := service.NewEmbeddingService(provider, logger,
		service.WithTTL(cfg.Embedding.CacheTTL()),
		service.WithEmbeddingMetrics(metrics),
	)

	evaluator, err := cel.NewEvaluator(logger)
	if err != nil {
		shutdownProviders(providers, logger)
		return nil, fmt.Errorf("init constraint evaluator: %w", err)
	}

	router := service.NewRouterService(embeddings, evaluator, service.RouterConfig{
		SimilarityThreshold: cfg.Router.SimilarityThreshold,
		MinConfidence:       cfg.Router.MinConfidence,
		MaxAlternatives:     cfg.Router.MaxAlternatives,
		Timeout:             cfg.Router.Timeout(),
		CostOptimization:    cfg.Router.CostOptimization,
		LatencyOptimization: cfg.Router.LatencyOptimization,
	}, logger, metrics)

	runtime := service.NewRuntimeService(buildSandboxDriver(cfg), service.RuntimeConfig{
		MinInstances:   cfg.Sandbox.MinInstances,
		MaxInstances:   cfg.Sandbox.MaxInstances,
		IdleTimeout:    cfg.Sandbox.IdleTimeout(),
		WarmupInterval: cfg.Sandbox.WarmupInterval(),
		ExecTimeout:    cfg.Sandbox.ExecTimeout(),
	}, logger, metrics)

	sink, err := buildAuditSink(cfg, logger)
	if err != nil {
		runtime.Stop()
		shutdownProviders(providers, logger)
		return nil, fmt.Errorf("create audit sink: %w", err)
	}
	stream := service.NewAuditService(sink, logger,
		service.WithBufferSize(cfg.Audit.BufferSize),
		service.WithFlushInterval(cfg.Audit.FlushInterval()),
		service.WithAuditMetrics(metrics),
	)

	catalogStore := memory.NewCatalogStore()
	catalog := service.NewCatalogService(catalogStore, logger)
	var toolCount int
	if cfg.Catalog.Path != "" {
		toolCount, err = catalog.LoadFile(ctx, cfg.Catalog.Path)
		if err != nil {
			stream.Stop()
			_ = sink.Close()
			runtime.Stop()
			shutdownProviders(providers, logger)
			return nil, fmt.Errorf("load tool catalog: %w", err)
		}
		logger.Info("tool catalog loaded", "path", cfg.Catalog.Path, "tools", toolCount)
	} else {
		logger.Warn("no tool catalog configured, every request will fail routing")
	}

	masterKey, err := store.MasterKey()
	if err != nil {
		stream.Stop()
		_ = sink.Close()
		runtime.Stop()
		shutdownProviders(providers, logger)
		return nil, fmt.Errorf("load master key: %w", err)
	}
	credStore, err := memory.NewCredentialStore(masterKey)
	if err != nil {
		stream.Stop()
		_ = sink.Close()
		runtime.Stop()
		shutdownProviders(providers, logger)
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	// Config takes precedence; the enrolled hash in state.json is the
	// fallback for installs managed through hash-key.
	adminKeyHash := cfg.Credentials.AdminKeyHash
	if adminKeyHash == "" {
		adminKeyHash = appState.AdminKeyHash
	}
	credentials := service.NewCredentialService(credStore, catalogStore, stream, adminKeyHash, logger)

	sessions := memory.NewSessionStore(clock.System(), time.Minute)
	rate := ratelimit.NewCounter(cfg.RateLimit.Budget, nil)

	gateway := service.NewGatewayService(service.GatewayDeps{
		Dispatcher:  protocol.NewDispatcher(protocol.WithLogger(logger), protocol.WithMetrics(metrics)),
		Router:      router,
		Runtime:     runtime,
		Catalog:     catalogStore,
		Credentials: credentials,
		Stream:      stream,
		Sessions:    sessions,
		Rate:        rate,
	}, service.GatewayConfig{
		AutoApprove:    cfg.DevMode,
		SessionTimeout: cfg.Server.SessionTimeoutDuration(),
	}, logger, service.WithGatewayMetrics(metrics))

	stats := service.NewStatsService(registry, runtime, embeddings, stream, gateway, rate)

	return &app{
		logger:    logger,
		store:     store,
		providers: providers,
		sink:      sink,
		stream:    stream,
		runtime:   runtime,
		sessions:  sessions,
		gateway:   gateway,
		stats:     stats,
		toolCount: toolCount,
	}, nil
}

// close tears the app down in dependency order: runtime first so no new
// audit entries are produced, then the stream so buffered entries flush to
// the sink before it closes.
func (a *app) close() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if snapshot, err := a.stats.Snapshot(); err == nil {
		a.logger.Info("final stats",
			"requests", snapshot.RequestsByProtocol,
			"routing", snapshot.RoutingOutcomes,
			"cache_hit_rate", snapshot.EmbeddingCacheHitRate,
		)
	}

	a.runtime.Stop()
	a.runtime.Drain(drainCtx)
	a.sessions.Stop()
	a.stream.Stop()
	if err := a.sink.Close(); err != nil {
		a.logger.Warn("audit sink close failed", "error", err)
	}
	shutdownProviders(a.providers, a.logger)
}

func shutdownProviders(p *telemetry.Providers, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// buildSandboxDriver creates the sandbox driver for the configured mode.
// The subprocess driver runs the configured worker command for every image.
func buildSandboxDriver(cfg *config.Config) outbound.SandboxDriver {
	if cfg.Sandbox.Driver == "subprocess" {
		return sandboxdrv.NewSubprocess(nil).WithFallback(sandboxdrv.Command{
			Path: cfg.Sandbox.Command,
			Args: cfg.Sandbox.Args,
		})
	}
	return sandboxdrv.NewMemory()
}

// buildAuditSink creates the audit sink for the configured output mode.
func buildAuditSink(cfg *config.Config, logger *slog.Logger) (outbound.AuditSink, error) {
	switch cfg.Audit.Output {
	case "stdout":
		logger.Debug("audit output: stdout", "buffer_size", cfg.Audit.BufferSize)
		return auditsink.NewWriterSink(os.Stdout), nil

	case "file":
		logger.Debug("audit output: file", "dir", cfg.Audit.Dir)
		return auditsink.NewFileSink(auditsink.FileConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			Compress:      cfg.Audit.Compression,
		}, logger)

	case "sqlite":
		path := filepath.Join(cfg.Audit.Dir, "audit.db")
		logger.Debug("audit output: sqlite", "path", path)
		if err := os.MkdirAll(cfg.Audit.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
		return sqlite.NewAuditSink(path)

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout', 'file', or 'sqlite')", cfg.Audit.Output)
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
