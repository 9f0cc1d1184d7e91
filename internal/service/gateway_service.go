package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/pipeline"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/domain/ratelimit"
	"github.com/Tool-Gate/Toolgate/internal/port/inbound"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

// ErrUnknownPendingRequest is returned when Approve references a request id
// that is not parked at the approval gate.
var ErrUnknownPendingRequest = errors.New("no pending request with that id")

// GatewayConfig tunes the pipeline.
type GatewayConfig struct {
	// AutoApprove executes decisions that would otherwise park at the
	// approval gate. Dev mode only.
	AutoApprove bool
	// SessionTimeout is the idle TTL applied on session refresh.
	SessionTimeout time.Duration
}

// GatewayDeps bundles the collaborators the pipeline wires together.
type GatewayDeps struct {
	Dispatcher  *protocol.Dispatcher
	Router      *RouterService
	Runtime     *RuntimeService
	Catalog     outbound.CatalogStore
	Credentials *CredentialService
	Stream      *AuditService
	Sessions    outbound.SessionStore
	Rate        *ratelimit.Counter
}

// pendingRequest is one request parked at the approval gate.
type pendingRequest struct {
	state    *pipeline.State
	parkedAt time.Time
}

// GatewayService runs raw payloads through the full pipeline: protocol
// conversion, session enrichment, routing, risk classification, the approval
// gate, credential resolution, sandboxed execution, and output scanning —
// writing an audit entry at every transition.
type GatewayService struct {
	deps    GatewayDeps
	cfg     GatewayConfig
	logger  *slog.Logger
	metrics *telemetry.Metrics
	clk     clock.Clock
	tracer  trace.Tracer

	preRoute  *pipeline.Chain
	postRoute *pipeline.Chain
	postExec  *pipeline.Chain

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// GatewayOption configures the GatewayService.
type GatewayOption func(*GatewayService)

// WithGatewayClock substitutes the time source.
func WithGatewayClock(clk clock.Clock) GatewayOption {
	return func(s *GatewayService) { s.clk = clk }
}

// WithGatewayMetrics wires the request counters.
func WithGatewayMetrics(m *telemetry.Metrics) GatewayOption {
	return func(s *GatewayService) { s.metrics = m }
}

// NewGatewayService assembles the pipeline.
func NewGatewayService(deps GatewayDeps, cfg GatewayConfig, logger *slog.Logger, opts ...GatewayOption) *GatewayService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GatewayService{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		clk:     clock.System(),
		tracer:  otel.Tracer("toolgate/gateway"),
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.preRoute = pipeline.NewChain(logger,
		pipeline.NewSessionEnricher(deps.Sessions, s.clk, cfg.SessionTimeout))
	s.postRoute = pipeline.NewChain(logger, pipeline.RiskStage{})
	s.postExec = pipeline.NewChain(logger, pipeline.OutputScanStage{})
	return s
}

// DetectProtocol implements the inbound port.
func (s *GatewayService) DetectProtocol(raw []byte) (protocol.Tag, bool) {
	return s.deps.Dispatcher.DetectProtocol(raw)
}

// Convert implements the inbound port.
func (s *GatewayService) Convert(ctx context.Context, raw []byte, tag protocol.Tag) (*intent.NormalizedRequest, error) {
	return s.deps.Dispatcher.Convert(ctx, raw, tag)
}

// Process implements the inbound port. An empty tag triggers detection.
func (s *GatewayService) Process(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
	start := s.clk.Now()
	s.observeRate()

	ctx, span := s.tracer.Start(ctx, "gateway.process")
	defer span.End()

	if tag == "" {
		detected, ok := s.DetectProtocol(raw)
		if !ok {
			return nil, &protocol.UnsupportedProtocolError{Protocol: "unknown"}
		}
		tag = detected
	}
	span.SetAttributes(attribute.String("protocol", tag.String()))

	req, err := s.convertStage(ctx, raw, tag)
	if err != nil {
		s.countRequest(tag.String(), "error", start)
		return nil, err
	}

	state := &pipeline.State{Request: req}
	if err := s.preRoute.Run(ctx, state); err != nil {
		s.countRequest(req.Protocol, "error", start)
		return nil, err
	}

	if err := s.routeStage(ctx, state); err != nil {
		s.countRequest(req.Protocol, "error", start)
		return nil, err
	}

	if err := s.postRoute.Run(ctx, state); err != nil {
		s.countRequest(req.Protocol, "error", start)
		return nil, err
	}
	s.emitAlerts(state)

	if s.needsApproval(state) && !s.cfg.AutoApprove {
		s.park(state)
		s.countRequest(req.Protocol, "pending_approval", start)
		return &inbound.PipelineResult{
			Status:   inbound.StatusPendingApproval,
			Request:  state.Request,
			Decision: state.Decision,
		}, nil
	}

	result, err := s.finish(ctx, state)
	if err != nil {
		s.countRequest(req.Protocol, "error", start)
		return nil, err
	}
	s.countRequest(req.Protocol, "ok", start)
	return result, nil
}

// Approve implements the inbound port: it resumes one parked request with
// the reviewer's decision. A modified decision applies the reviewer's
// parameter overrides before execution.
func (s *GatewayService) Approve(ctx context.Context, requestID, reviewerID string, review audit.ReviewDecision, modifications map[string]interface{}) (*inbound.PipelineResult, error) {
	s.mu.Lock()
	p, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPendingRequest, requestID)
	}
	if s.metrics != nil {
		s.metrics.ApprovalsPending.Dec()
	}

	if review != audit.DecisionModified {
		modifications = nil
	}

	entry := s.entryFor(p.state.Request, audit.EventHumanReviewCompleted, audit.SeverityInfo)
	entry.Action = "review_request"
	entry.Target = selectedToolID(p.state)
	entry.Details = map[string]interface{}{"decision": string(review)}
	_ = entry.SetReview(audit.HumanReview{
		ReviewerID:    reviewerID,
		Decision:      review,
		Timestamp:     s.clk.Now(),
		Modifications: modifications,
	})
	s.deps.Stream.Write(entry)

	if review == audit.DecisionRejected {
		return &inbound.PipelineResult{
			Status:   inbound.StatusRejected,
			Request:  p.state.Request,
			Decision: p.state.Decision,
		}, nil
	}

	if len(modifications) > 0 {
		in := p.state.Request.Intent
		if in.Parameters == nil {
			in.Parameters = make(map[string]interface{}, len(modifications))
		}
		for k, v := range modifications {
			in.Parameters[k] = v
		}
	}
	return s.finish(ctx, p.state)
}

// Pending returns the ids of requests parked at the approval gate.
func (s *GatewayService) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	return ids
}

// convertStage normalizes the payload and audits arrival and classification.
func (s *GatewayService) convertStage(ctx context.Context, raw []byte, tag protocol.Tag) (*intent.NormalizedRequest, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.convert")
	defer span.End()

	req, err := s.deps.Dispatcher.Convert(ctx, raw, tag)
	if err != nil {
		return nil, err
	}

	received := s.entryFor(req, audit.EventRequestReceived, audit.SeverityInfo)
	received.Action = "receive_request"
	received.Details = map[string]interface{}{
		"protocol":   req.Protocol,
		"size_bytes": len(raw),
	}
	s.deps.Stream.Write(received)

	classified := s.entryFor(req, audit.EventIntentClassified, audit.SeverityInfo)
	classified.Action = "classify_intent"
	classified.Target = req.Intent.Action
	classified.Details = map[string]interface{}{
		"category":   string(req.Intent.Category),
		"action":     req.Intent.Action,
		"confidence": req.Intent.Confidence,
	}
	s.deps.Stream.Write(classified)

	return req, nil
}

// routeStage ranks the catalog and audits the decision, including failures.
func (s *GatewayService) routeStage(ctx context.Context, state *pipeline.State) error {
	ctx, span := s.tracer.Start(ctx, "gateway.route")
	defer span.End()

	catalog, err := s.deps.Catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("catalog snapshot: %w", err)
	}

	decision, err := s.deps.Router.Route(ctx, state.Request, catalog)
	if err != nil {
		entry := s.entryFor(state.Request, audit.EventRoutingDecision, audit.SeverityWarning)
		entry.Action = "route_intent"
		entry.Details = map[string]interface{}{"error": err.Error()}
		s.deps.Stream.Write(entry)
		return err
	}
	state.Decision = decision

	entry := s.entryFor(state.Request, audit.EventRoutingDecision, audit.SeverityInfo)
	entry.Action = "route_intent"
	entry.Target = decision.SelectedTool.ID
	entry.Details = map[string]interface{}{
		"tool":              decision.SelectedTool.ID,
		"confidence":        decision.Confidence,
		"similarity":        decision.Similarity,
		"reasoning":         decision.Reasoning,
		"requires_approval": decision.RequiresApproval,
	}
	s.deps.Stream.Write(entry)
	return nil
}

// finish runs the post-approval half of the pipeline: credentials,
// execution, output scan.
func (s *GatewayService) finish(ctx context.Context, state *pipeline.State) (*inbound.PipelineResult, error) {
	def := state.Decision.SelectedTool

	secrets, err := s.deps.Credentials.ResolveFor(ctx, def.RequiredCredentialIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", def.ID, err)
	}
	state.Secrets = secrets

	ctx, span := s.tracer.Start(ctx, "gateway.execute",
		trace.WithAttributes(attribute.String("tool", def.ID)))
	defer span.End()

	var execOpts []ExecOption
	if ms := state.Request.Metadata.MaxLatencyMs; ms > 0 {
		execOpts = append(execOpts, WithExecTimeout(time.Duration(ms)*time.Millisecond))
	}
	res, err := s.deps.Runtime.Execute(ctx, def, state.Request.Intent.Parameters, execOpts...)
	if err != nil {
		entry := s.entryFor(state.Request, audit.EventToolFailed, audit.SeverityError)
		entry.Action = "execute_tool"
		entry.Target = def.ID
		entry.Details = map[string]interface{}{"error": err.Error()}
		s.deps.Stream.Write(entry)
		return nil, err
	}
	state.Execution = res

	if !res.PoolHit && res.SandboxID != "" {
		created := s.entryFor(state.Request, audit.EventSandboxCreated, audit.SeverityInfo)
		created.Action = "create_sandbox"
		created.Target = res.SandboxID
		created.Details = map[string]interface{}{
			"tool":          def.ID,
			"cold_start_ms": res.Metrics.ColdStartMs,
		}
		s.deps.Stream.Write(created)
	}

	if err := s.postExec.Run(ctx, state); err != nil {
		return nil, err
	}
	s.emitAlerts(state)

	s.auditExecution(state, def.ID)

	return &inbound.PipelineResult{
		Status:    inbound.StatusExecuted,
		Request:   state.Request,
		Decision:  state.Decision,
		Execution: state.Execution,
	}, nil
}

func (s *GatewayService) auditExecution(state *pipeline.State, toolID string) {
	res := state.Execution
	if res.Success {
		entry := s.entryFor(state.Request, audit.EventToolExecuted, audit.SeverityInfo)
		entry.Action = "execute_tool"
		entry.Target = toolID
		entry.Details = map[string]interface{}{
			"tool":         toolID,
			"execution_ms": res.Metrics.ExecutionMs,
			"total_ms":     res.Metrics.TotalMs,
			"pool_hit":     res.PoolHit,
		}
		s.deps.Stream.Write(entry)
		return
	}

	entry := s.entryFor(state.Request, audit.EventToolFailed, audit.SeverityError)
	entry.Action = "execute_tool"
	entry.Target = toolID
	entry.Details = map[string]interface{}{"tool": toolID}
	if res.Error != nil {
		entry.Details["code"] = res.Error.Code
		entry.Details["message"] = res.Error.Message
	}
	s.deps.Stream.Write(entry)
}

// needsApproval reports whether the decision or the request itself demands
// a human review.
func (s *GatewayService) needsApproval(state *pipeline.State) bool {
	return state.Decision.RequiresApproval || state.Request.Metadata.RequiresHumanApproval
}

// park stores the request for a later Approve call and audits the gate.
func (s *GatewayService) park(state *pipeline.State) {
	s.mu.Lock()
	s.pending[state.Request.ID] = &pendingRequest{state: state, parkedAt: s.clk.Now()}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ApprovalsPending.Inc()
	}

	entry := s.entryFor(state.Request, audit.EventHumanApprovalRequested, audit.SeverityWarning)
	entry.Action = "request_approval"
	entry.Target = selectedToolID(state)
	entry.Details = map[string]interface{}{
		"tool":       selectedToolID(state),
		"confidence": state.Decision.Confidence,
		"reason":     state.Decision.ApprovalReason,
	}
	s.deps.Stream.Write(entry)
}

// emitAlerts drains accumulated pipeline alerts into security_alert entries.
func (s *GatewayService) emitAlerts(state *pipeline.State) {
	for _, a := range state.Alerts {
		entry := s.entryFor(state.Request, audit.EventSecurityAlert, a.Severity)
		entry.Action = a.Summary
		entry.Target = selectedToolID(state)
		entry.Details = a.Details
		s.deps.Stream.Write(entry)
	}
	state.Alerts = nil
}

func (s *GatewayService) entryFor(req *intent.NormalizedRequest, et audit.EventType, sev audit.Severity) *audit.Entry {
	actor := req.Context.UserID
	if actor == "" {
		actor = "system"
	}
	return &audit.Entry{
		Timestamp: s.clk.Now(),
		TraceID:   req.Metadata.TraceID,
		RequestID: req.ID,
		EventType: et,
		Severity:  sev,
		Actor:     actor,
	}
}

func (s *GatewayService) observeRate() {
	if s.deps.Rate == nil {
		return
	}
	s.deps.Rate.Observe()
	if s.deps.Rate.Saturated() {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.Inc()
		}
		s.logger.Warn("request rate at budget",
			"rate", s.deps.Rate.Rate(), "budget", s.deps.Rate.Budget())
	}
}

func (s *GatewayService) countRequest(proto, status string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RequestsTotal.WithLabelValues(proto, status).Inc()
	s.metrics.RequestDuration.WithLabelValues(proto).Observe(s.clk.Since(start).Seconds())
}

func selectedToolID(state *pipeline.State) string {
	if state.Decision != nil && state.Decision.SelectedTool != nil {
		return state.Decision.SelectedTool.ID
	}
	return ""
}

// Compile-time check that GatewayService implements the inbound port.
var _ inbound.Gateway = (*GatewayService)(nil)
