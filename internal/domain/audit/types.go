// Package audit contains the append-only audit entry model and the compact
// human-readable views built from it. Every consequential decision in the
// pipeline lands here as one Entry; views target a five-second read.
package audit

import (
	"errors"
	"strings"
	"time"
)

// EventType classifies one consequential pipeline event. The set is closed.
type EventType string

const (
	// EventRequestReceived marks a payload accepted by the adapter layer.
	EventRequestReceived EventType = "request_received"
	// EventIntentClassified marks a successful normalization.
	EventIntentClassified EventType = "intent_classified"
	// EventRoutingDecision marks a router selection.
	EventRoutingDecision EventType = "routing_decision"
	// EventToolExecuted marks a successful sandbox execution.
	EventToolExecuted EventType = "tool_executed"
	// EventToolFailed marks a failed sandbox execution.
	EventToolFailed EventType = "tool_failed"
	// EventSandboxCreated marks a cold start or warm-up creation.
	EventSandboxCreated EventType = "sandbox_created"
	// EventSandboxDestroyed marks an instance leaving the pool for good.
	EventSandboxDestroyed EventType = "sandbox_destroyed"
	// EventHumanApprovalRequested marks a decision parked for review.
	EventHumanApprovalRequested EventType = "human_approval_requested"
	// EventHumanReviewCompleted marks a reviewer decision.
	EventHumanReviewCompleted EventType = "human_review_completed"
	// EventCredentialAccessed marks a secret resolution (value never logged).
	EventCredentialAccessed EventType = "credential_accessed"
	// EventSecurityAlert marks a detected risk (dangerous tool, leaked secret).
	EventSecurityAlert EventType = "security_alert"
)

// Valid reports whether t is one of the eleven known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventRequestReceived, EventIntentClassified, EventRoutingDecision,
		EventToolExecuted, EventToolFailed, EventSandboxCreated,
		EventSandboxDestroyed, EventHumanApprovalRequested,
		EventHumanReviewCompleted, EventCredentialAccessed, EventSecurityAlert:
		return true
	}
	return false
}

// Severity grades how much attention an entry deserves.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ReviewDecision is a human reviewer's verdict on a parked request.
type ReviewDecision string

const (
	// DecisionApproved lets the parked request proceed unchanged.
	DecisionApproved ReviewDecision = "approved"
	// DecisionRejected terminates the parked request.
	DecisionRejected ReviewDecision = "rejected"
	// DecisionModified lets the request proceed with reviewer modifications.
	DecisionModified ReviewDecision = "modified"
)

// HumanReview records a reviewer's decision on an entry. Set at most once.
type HumanReview struct {
	// ReviewerID identifies the human reviewer.
	ReviewerID string `json:"reviewer_id"`
	// Decision is the verdict.
	Decision ReviewDecision `json:"decision"`
	// Timestamp is when the decision was made.
	Timestamp time.Time `json:"timestamp"`
	// Comments carries optional free-form reviewer notes.
	Comments string `json:"comments,omitempty"`
	// Modifications carries parameter overrides for DecisionModified.
	Modifications map[string]interface{} `json:"modifications,omitempty"`
}

// ErrReviewAlreadySet is returned when a second review lands on an entry.
var ErrReviewAlreadySet = errors.New("human review already set")

// Entry is one append-only audit record. Fields other than Review are fixed
// at construction; Review may be set exactly once afterwards.
type Entry struct {
	// ID is the unique entry id.
	ID string `json:"id"`
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
	// TraceID correlates entries belonging to one request flow.
	TraceID string `json:"trace_id"`
	// RequestID is the normalized request the event belongs to.
	RequestID string `json:"request_id,omitempty"`
	// EventType classifies the event.
	EventType EventType `json:"event_type"`
	// Severity grades the event.
	Severity Severity `json:"severity"`
	// Actor is who caused the event (user id, agent id, or "system").
	Actor string `json:"actor"`
	// Action is the verb describing what happened.
	Action string `json:"action"`
	// Target is what the action was applied to.
	Target string `json:"target,omitempty"`
	// Details carries event-specific context, redacted before buffering.
	Details map[string]interface{} `json:"details,omitempty"`
	// Before snapshots state prior to the event, when meaningful.
	Before map[string]interface{} `json:"before,omitempty"`
	// After snapshots state following the event, when meaningful.
	After map[string]interface{} `json:"after,omitempty"`
	// Review is the human review, nil until a reviewer decides.
	Review *HumanReview `json:"review,omitempty"`
}

// SetReview attaches the human review to the entry. An entry accepts exactly
// one review; further calls return ErrReviewAlreadySet.
func (e *Entry) SetReview(r HumanReview) error {
	if e.Review != nil {
		return ErrReviewAlreadySet
	}
	e.Review = &r
	return nil
}

// Filter selects entries in a Query. Zero-valued fields match everything.
type Filter struct {
	// StartTime excludes entries before this instant when set.
	StartTime time.Time
	// EndTime excludes entries after this instant when set.
	EndTime time.Time
	// EventTypes restricts to these types when non-empty.
	EventTypes []EventType
	// Severities restricts to these severities when non-empty.
	Severities []Severity
	// Actor restricts to one actor when set.
	Actor string
	// TraceID restricts to one trace when set.
	TraceID string
	// Limit caps the result count; 0 means no cap.
	Limit int
}

// Matches reports whether the entry satisfies every set predicate.
func (f Filter) Matches(e *Entry) bool {
	if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
		return false
	}
	if len(f.EventTypes) > 0 && !containsEventType(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	return true
}

func containsEventType(ts []EventType, t EventType) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsSeverity(ss []Severity, s Severity) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// sensitiveKeywords lists substrings that indicate a sensitive detail key.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveDetails returns a copy of details with sensitive values
// masked. A key is sensitive if it contains any of the sensitiveKeywords
// (case-insensitive). Values are replaced with "***REDACTED***".
func RedactSensitiveDetails(details map[string]interface{}) map[string]interface{} {
	if len(details) == 0 {
		return details
	}
	redacted := make(map[string]interface{}, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
