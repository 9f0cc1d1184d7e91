// Package intent defines the normalized request shape shared by every
// component downstream of the protocol adapters. A NormalizedRequest is
// produced once by the adapter dispatcher and never mutated afterwards;
// the router, runtime, and audit stream only read it.
package intent

import (
	"time"
)

// Category classifies what a normalized intent is asking for.
type Category string

const (
	// CategoryToolCall is an explicit tool invocation.
	CategoryToolCall Category = "tool_call"
	// CategoryInformationRequest asks for information without side effects.
	CategoryInformationRequest Category = "information_request"
	// CategoryActionExecution performs a state-changing operation.
	CategoryActionExecution Category = "action_execution"
	// CategoryDataRetrieval reads stored data or resources.
	CategoryDataRetrieval Category = "data_retrieval"
	// CategoryCodeGeneration asks for code or content generation.
	CategoryCodeGeneration Category = "code_generation"
	// CategoryAnalysis asks for analysis of supplied data.
	CategoryAnalysis Category = "analysis"
	// CategoryConversation is plain dialogue with no mapped operation.
	CategoryConversation Category = "conversation"
	// CategoryEscalation requests human attention.
	CategoryEscalation Category = "escalation"
)

// String returns the string representation of the Category.
func (c Category) String() string {
	return string(c)
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryToolCall, CategoryInformationRequest, CategoryActionExecution,
		CategoryDataRetrieval, CategoryCodeGeneration, CategoryAnalysis,
		CategoryConversation, CategoryEscalation:
		return true
	}
	return false
}

// Alternative is a lower-confidence interpretation of the same payload.
// Alternatives are data for the caller to act on, not control flow.
type Alternative struct {
	// Action is the alternative action string.
	Action string `json:"action"`
	// Confidence is the confidence in [0,1] for this interpretation.
	Confidence float64 `json:"confidence"`
	// Reason explains why this alternative was considered.
	Reason string `json:"reason"`
}

// NormalizedIntent is the category+action+target tuple produced by an
// adapter's normalize step.
//
// Invariants: Confidence is in [0,1]; Alternatives are ordered by
// non-increasing confidence; Embedding, when set, is L2-normalized with the
// configured dimension.
type NormalizedIntent struct {
	// ID uniquely identifies the intent.
	ID string `json:"id"`
	// Category is the closed-set classification of the intent.
	Category Category `json:"category"`
	// Action is the free-form action string (tool name, operation, ...).
	Action string `json:"action"`
	// Target is what the action is directed at.
	Target string `json:"target"`
	// Parameters carries the dynamic payload parameters. Opaque to the
	// adapters; canonicalized (sorted keys) when hashed.
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	// Confidence is the adapter's confidence in the mapping, in [0,1].
	Confidence float64 `json:"confidence"`
	// Alternatives lists other plausible interpretations, ordered by
	// non-increasing confidence.
	Alternatives []Alternative `json:"alternatives,omitempty"`
	// Embedding is the intent vector once computed by the embedding service.
	Embedding []float64 `json:"embedding,omitempty"`
}

// HistoryEntry is one prior exchange in a session's conversation history.
type HistoryEntry struct {
	// Role is who produced the entry (user, assistant, tool).
	Role string `json:"role"`
	// Content is the entry text.
	Content string `json:"content"`
	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// RequestContext carries the session-scoped surroundings of a request.
type RequestContext struct {
	// SessionID identifies the client session, empty if sessionless.
	SessionID string `json:"session_id,omitempty"`
	// UserID identifies the end user on whose behalf the agent acts.
	UserID string `json:"user_id,omitempty"`
	// History is the bounded conversation history for the session.
	History []HistoryEntry `json:"history,omitempty"`
	// AvailableTools restricts routing to these tool ids when non-empty.
	AvailableTools []string `json:"available_tools,omitempty"`
	// Constraints are boolean expressions a candidate tool must satisfy.
	Constraints []string `json:"constraints,omitempty"`
	// Preferences carries client routing preferences (cost/latency weights).
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

// RequestMetadata carries per-request operational hints.
type RequestMetadata struct {
	// Priority orders requests when the caller queues them (higher first).
	Priority int `json:"priority,omitempty"`
	// MaxLatencyMs is the caller's latency budget, 0 = unset.
	MaxLatencyMs int64 `json:"max_latency_ms,omitempty"`
	// MaxBudget is the caller's cost budget, 0 = unset.
	MaxBudget float64 `json:"max_budget,omitempty"`
	// RequiresHumanApproval forces the approval gate regardless of confidence.
	RequiresHumanApproval bool `json:"requires_human_approval,omitempty"`
	// AuditLevel selects the audit verbosity (basic, detailed).
	AuditLevel string `json:"audit_level,omitempty"`
	// TraceID correlates the request across components and audit entries.
	TraceID string `json:"trace_id,omitempty"`
}

// NormalizedRequest is the single internal request shape every protocol
// reduces to. Constructed by the adapter dispatcher; immutable afterwards.
type NormalizedRequest struct {
	// ID uniquely identifies the request.
	ID string `json:"id"`
	// CreatedAt is when the dispatcher constructed the request.
	CreatedAt time.Time `json:"created_at"`
	// Protocol is the source protocol tag.
	Protocol string `json:"protocol"`
	// Raw is the original payload, kept opaque for audit snapshots.
	Raw []byte `json:"-"`
	// Intent is the normalized intent extracted from the payload.
	Intent *NormalizedIntent `json:"intent"`
	// Context is the session-scoped request context.
	Context RequestContext `json:"context"`
	// Metadata carries operational hints and the trace id.
	Metadata RequestMetadata `json:"metadata"`
}
