// Package routing defines the decision shape the intent router produces and
// the errors it can surface. A Decision is owned by the router call that
// created it; the catalog it was ranked against is only borrowed.
package routing

import (
	"errors"
	"fmt"

	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

// ApprovalThreshold is the adjusted-confidence floor below which a decision
// requires human approval.
const ApprovalThreshold = 0.8

// Candidate is one ranked tool with its raw similarity and adjusted confidence.
type Candidate struct {
	// Tool is the catalog definition this candidate refers to.
	Tool *tool.Definition `json:"tool"`
	// Similarity is the raw cosine similarity to the intent, in [-1,1].
	Similarity float64 `json:"similarity"`
	// Confidence is the similarity after cost/latency adjustment, in [0,1].
	Confidence float64 `json:"confidence"`
}

// Decision is the router's answer for one normalized request.
//
// Invariants: Confidence is in [0,1]; every fallback scored strictly lower
// than the selected tool; RequiresApproval holds exactly when Confidence is
// below ApprovalThreshold.
type Decision struct {
	// RequestID ties the decision back to the normalized request.
	RequestID string `json:"request_id"`
	// SelectedTool is the highest-ranked catalog entry.
	SelectedTool *tool.Definition `json:"selected_tool"`
	// Confidence is the adjusted confidence of the selected tool.
	Confidence float64 `json:"confidence"`
	// Similarity is the raw cosine similarity of the selected tool.
	Similarity float64 `json:"similarity"`
	// Reasoning is the human-readable explanation of the choice.
	Reasoning string `json:"reasoning"`
	// Fallbacks are the next-ranked tools, best first.
	Fallbacks []*tool.Definition `json:"fallbacks,omitempty"`
	// EstimatedLatencyMs is the selected tool's latency estimate, 0 when unknown.
	EstimatedLatencyMs int64 `json:"estimated_latency_ms"`
	// EstimatedCost is the selected tool's cost estimate, 0 when unknown.
	EstimatedCost float64 `json:"estimated_cost"`
	// RequiresApproval flags the decision for the human approval gate.
	RequiresApproval bool `json:"requires_approval"`
	// ApprovalReason explains why approval is required, empty otherwise.
	ApprovalReason string `json:"approval_reason,omitempty"`
}

// Sentinel errors for errors.Is checks across the router boundary.
var (
	ErrNoMatch = errors.New("no tool matched the intent")
	ErrRouting = errors.New("routing failed")
	ErrTimeout = errors.New("operation deadline exceeded")
)

// NoMatchError reports that no catalog entry cleared the similarity and
// confidence thresholds. Alternatives carry up to three below-threshold
// candidates so the caller can reprompt or escalate.
type NoMatchError struct {
	// Intent is the action string that failed to match.
	Intent string
	// Alternatives are the best below-threshold candidates, best first.
	Alternatives []Candidate
}

// Error implements the error interface.
func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no tool matched intent %q (%d below-threshold candidates)",
		e.Intent, len(e.Alternatives))
}

// Unwrap returns ErrNoMatch so errors.Is(err, ErrNoMatch) works.
func (e *NoMatchError) Unwrap() error {
	return ErrNoMatch
}

// Code returns the stable error code for the boundary.
func (e *NoMatchError) Code() string {
	return "NO_MATCH"
}

// Suggestion returns an actionable hint for the caller.
func (e *NoMatchError) Suggestion() string {
	if len(e.Alternatives) == 0 {
		return "register a tool whose description matches the intent"
	}
	return "rephrase the intent or lower the similarity threshold"
}

// RoutingError wraps a downstream failure (usually embedding generation)
// that prevented a routing decision.
type RoutingError struct {
	// Stage names the step that failed (embed_intent, embed_tool, constraint).
	Stage string
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error chained through ErrRouting.
func (e *RoutingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRouting.
func (e *RoutingError) Is(target error) bool {
	return target == ErrRouting
}

// Code returns the stable error code for the boundary.
func (e *RoutingError) Code() string {
	return "ROUTING_ERROR"
}

// TimeoutError reports a public operation that exceeded its deadline.
type TimeoutError struct {
	// Op names the operation that timed out.
	Op string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s exceeded its deadline", e.Op)
}

// Unwrap returns ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Code returns the stable error code for the boundary.
func (e *TimeoutError) Code() string {
	return "TIMEOUT"
}
