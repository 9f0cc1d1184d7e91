package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/cel"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/routing"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

// Router defaults; overridable through RouterConfig.
const (
	DefaultSimilarityThreshold = 0.85
	DefaultMinConfidence       = 0.70
	DefaultMaxAlternatives     = 3
	DefaultRouteTimeout        = 50 * time.Millisecond
)

// RouterConfig tunes the routing algorithm. Zero values fall back to the
// defaults above.
type RouterConfig struct {
	SimilarityThreshold float64
	MinConfidence       float64
	MaxAlternatives     int
	Timeout             time.Duration
	CostOptimization    bool
	LatencyOptimization bool
}

func (c *RouterConfig) applyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = DefaultMinConfidence
	}
	if c.MaxAlternatives == 0 {
		c.MaxAlternatives = DefaultMaxAlternatives
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultRouteTimeout
	}
}

// RouterService selects the best tool for a normalized request by semantic
// similarity between the intent and tool descriptions, with optional
// cost/latency adjustment and per-request CEL constraints.
type RouterService struct {
	embedder    *EmbeddingService
	constraints *cel.Evaluator
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	cfg         RouterConfig
}

// NewRouterService builds the router. The constraint evaluator may be nil;
// requests carrying constraints are then rejected per-candidate (fail
// closed). Metrics may be nil.
func NewRouterService(embedder *EmbeddingService, constraints *cel.Evaluator, cfg RouterConfig, logger *slog.Logger, metrics *telemetry.Metrics) *RouterService {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &RouterService{
		embedder:    embedder,
		constraints: constraints,
		logger:      logger,
		metrics:     metrics,
		cfg:         cfg,
	}
}

// Route ranks the catalog against the request's intent and returns a
// decision. The catalog snapshot is borrowed, never mutated.
func (s *RouterService) Route(ctx context.Context, req *intent.NormalizedRequest, catalog []*tool.Definition) (*routing.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	decision, err := s.route(ctx, req, catalog)
	s.countOutcome(err)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RoutingConfidence.Observe(decision.Confidence)
	}
	return decision, nil
}

func (s *RouterService) route(ctx context.Context, req *intent.NormalizedRequest, catalog []*tool.Definition) (*routing.Decision, error) {
	intentEmb, err := s.embedder.EmbedIntent(ctx, req.Intent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &routing.TimeoutError{Op: "route"}
		}
		return nil, &routing.RoutingError{Stage: "embed_intent", Err: err}
	}

	allowed := allowedSet(req.Context.AvailableTools)

	var matched, belowThreshold []routing.Candidate
	for _, def := range catalog {
		if err := ctx.Err(); err != nil {
			return nil, &routing.TimeoutError{Op: "route"}
		}
		if allowed != nil && !allowed[def.ID] {
			continue
		}
		if !s.satisfiesConstraints(ctx, req, def) {
			continue
		}

		toolEmb, err := s.embedder.EmbedTool(ctx, def.Name, def.Description)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &routing.TimeoutError{Op: "route"}
			}
			return nil, &routing.RoutingError{Stage: "embed_tool", Err: err}
		}
		sim, err := s.embedder.Similarity(intentEmb, toolEmb)
		if err != nil {
			return nil, &routing.RoutingError{Stage: "similarity", Err: err}
		}

		cand := routing.Candidate{Tool: def, Similarity: sim, Confidence: s.adjust(sim, def)}
		if sim >= s.cfg.SimilarityThreshold && cand.Confidence >= s.cfg.MinConfidence {
			matched = append(matched, cand)
		} else {
			belowThreshold = append(belowThreshold, cand)
		}
	}

	if len(matched) == 0 {
		sortCandidates(belowThreshold)
		n := len(belowThreshold)
		if n > s.cfg.MaxAlternatives {
			n = s.cfg.MaxAlternatives
		}
		return nil, &routing.NoMatchError{
			Intent:       req.Intent.Action,
			Alternatives: belowThreshold[:n],
		}
	}

	sortCandidates(matched)
	selected := matched[0]

	fallbacks := make([]*tool.Definition, 0, s.cfg.MaxAlternatives)
	for _, c := range matched[1:] {
		if len(fallbacks) == s.cfg.MaxAlternatives {
			break
		}
		fallbacks = append(fallbacks, c.Tool)
	}

	decision := &routing.Decision{
		RequestID:          req.ID,
		SelectedTool:       selected.Tool,
		Confidence:         selected.Confidence,
		Similarity:         selected.Similarity,
		Reasoning:          s.reasoning(selected),
		Fallbacks:          fallbacks,
		EstimatedLatencyMs: selected.Tool.LatencyMs(),
		EstimatedCost:      selected.Tool.Cost(),
	}
	if selected.Confidence < routing.ApprovalThreshold {
		decision.RequiresApproval = true
		decision.ApprovalReason = fmt.Sprintf("confidence %.1f%% is below the %.1f%% approval threshold",
			selected.Confidence*100, routing.ApprovalThreshold*100)
	}
	return decision, nil
}

// satisfiesConstraints applies the request's CEL constraints to one
// candidate. With constraints present but no evaluator wired, the candidate
// is rejected.
func (s *RouterService) satisfiesConstraints(ctx context.Context, req *intent.NormalizedRequest, def *tool.Definition) bool {
	exprs := req.Context.Constraints
	if len(exprs) == 0 {
		return true
	}
	if s.constraints == nil {
		s.logger.Warn("request carries constraints but no evaluator is configured",
			"request_id", req.ID, "tool_id", def.ID)
		return false
	}
	return s.constraints.Satisfies(ctx, exprs, def, req.Intent)
}

// adjust applies the cost and latency factors to the raw similarity and
// clamps the result to [0,1].
func (s *RouterService) adjust(sim float64, def *tool.Definition) float64 {
	conf := sim
	if s.cfg.CostOptimization && def.HasCost() {
		conf *= 0.9 + 0.1*(1/(1+def.Cost()/100))
	}
	if s.cfg.LatencyOptimization && def.HasLatency() {
		conf *= 0.9 + 0.1*(1/(1+float64(def.LatencyMs())/1000))
	}
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}

func (s *RouterService) reasoning(c routing.Candidate) string {
	r := fmt.Sprintf("selected %q with %.1f%% similarity (cost %.2f, latency %dms)",
		c.Tool.ID, c.Similarity*100, c.Tool.Cost(), c.Tool.LatencyMs())
	if c.Confidence < c.Similarity {
		r += fmt.Sprintf("; optimization adjustments reduced confidence to %.1f%%", c.Confidence*100)
	}
	return r
}

func (s *RouterService) countOutcome(err error) {
	if s.metrics == nil {
		return
	}
	outcome := "matched"
	switch {
	case err == nil:
	case isNoMatch(err):
		outcome = "no_match"
	case isTimeout(err):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	s.metrics.RoutingDecisions.WithLabelValues(outcome).Inc()
}

func isNoMatch(err error) bool {
	return errors.Is(err, routing.ErrNoMatch)
}

func isTimeout(err error) bool {
	return errors.Is(err, routing.ErrTimeout)
}

// sortCandidates orders by similarity descending, ties broken by lower
// latency estimate, then lower cost estimate, then lexicographic id.
func sortCandidates(cands []routing.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Tool.LatencyMs() != b.Tool.LatencyMs() {
			return a.Tool.LatencyMs() < b.Tool.LatencyMs()
		}
		if a.Tool.Cost() != b.Tool.Cost() {
			return a.Tool.Cost() < b.Tool.Cost()
		}
		return a.Tool.ID < b.Tool.ID
	})
}

// allowedSet builds a membership set, nil when unrestricted.
func allowedSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
