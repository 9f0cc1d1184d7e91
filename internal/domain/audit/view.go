package audit

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// ComprehensionTargetSec is the read-time budget every view is designed for.
const ComprehensionTargetSec = 5

// Impact grades the consequence of an event for the reviewer.
type Impact string

const (
	ImpactCritical Impact = "critical"
	ImpactHigh     Impact = "high"
	ImpactMedium   Impact = "medium"
	ImpactLow      Impact = "low"
)

// impactRank orders impacts for batch worst-of aggregation.
var impactRank = map[Impact]int{
	ImpactLow:      0,
	ImpactMedium:   1,
	ImpactHigh:     2,
	ImpactCritical: 3,
}

// Complexity estimates how much attention a view demands.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Review action labels offered on a view.
const (
	ActionViewDetails = "View Details"
	ActionApprove     = "Approve"
	ActionReject      = "Reject"
	ActionModify      = "Modify"
)

// ChangeKind classifies one detected difference between snapshots.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change is one field-level difference between the before and after snapshots.
type Change struct {
	// Field is the snapshot key that changed.
	Field string `json:"field"`
	// Kind is whether the field was added, removed, or modified.
	Kind ChangeKind `json:"kind"`
	// Before is the prior value, nil for added fields.
	Before interface{} `json:"before,omitempty"`
	// After is the new value, nil for removed fields.
	After interface{} `json:"after,omitempty"`
}

// Summary is the one-glance portion of a view.
type Summary struct {
	// What is a one-line description of the event.
	What string `json:"what"`
	// Who is the actor.
	Who string `json:"who"`
	// When is the relative time ("just now", "5m ago", "3h ago", or a date).
	When string `json:"when"`
	// Impact grades the consequence.
	Impact Impact `json:"impact"`
	// Status is the review status (pending, approved, rejected, modified,
	// completed).
	Status string `json:"status"`
}

// ViewContext is the correlation block inside the view details.
type ViewContext struct {
	TraceID        string    `json:"trace_id"`
	RequestID      string    `json:"request_id,omitempty"`
	EventType      EventType `json:"event_type"`
	Severity       Severity  `json:"severity"`
	Timestamp      time.Time `json:"timestamp"`
	Actor          string    `json:"actor"`
	RelatedEvents  int       `json:"related_events"`
	HasHumanReview bool      `json:"has_human_review"`
}

// ViewDetails is the drill-down portion of a view.
type ViewDetails struct {
	Before         map[string]interface{} `json:"before,omitempty"`
	After          map[string]interface{} `json:"after,omitempty"`
	Changes        []Change               `json:"changes,omitempty"`
	Context        ViewContext            `json:"context"`
	RelatedEntries []string               `json:"related_entries,omitempty"`
}

// ViewMetadata carries the comprehension telemetry for a view.
type ViewMetadata struct {
	CreatedAt              time.Time  `json:"created_at"`
	ComprehensionTargetSec int        `json:"comprehension_target_sec"`
	EstimatedReadTimeSec   int        `json:"estimated_read_time_sec"`
	Complexity             Complexity `json:"complexity"`
}

// View is the human-optimized projection of one audit entry (or a batch),
// designed to be understood in at most five seconds.
type View struct {
	// EntryID is the underlying entry id; empty for batch views.
	EntryID string `json:"entry_id,omitempty"`
	// Title is the headline.
	Title string `json:"title"`
	// Summary is the one-glance block.
	Summary Summary `json:"summary"`
	// Details is the drill-down block.
	Details ViewDetails `json:"details"`
	// Actions are the operations the reviewer may take.
	Actions []string `json:"actions"`
	// Metadata carries the comprehension telemetry.
	Metadata ViewMetadata `json:"metadata"`
}

// BuildView renders one entry as a compact view. related lists other entries
// sharing the trace id, used only for counts and cross-links.
func BuildView(e *Entry, related []*Entry, clk clock.Clock) *View {
	if clk == nil {
		clk = clock.System()
	}
	now := clk.Now()

	detailSize := marshaledSize(e.Details)
	v := &View{
		EntryID: e.ID,
		Title:   titleFor(e),
		Summary: Summary{
			What:   whatFor(e),
			Who:    e.Actor,
			When:   relativeTime(e.Timestamp, now),
			Impact: impactFor(e),
			Status: statusFor(e),
		},
		Details: ViewDetails{
			Before:  e.Before,
			After:   e.After,
			Changes: DetectChanges(e.Before, e.After),
			Context: ViewContext{
				TraceID:        e.TraceID,
				RequestID:      e.RequestID,
				EventType:      e.EventType,
				Severity:       e.Severity,
				Timestamp:      e.Timestamp,
				Actor:          e.Actor,
				RelatedEvents:  len(related),
				HasHumanReview: e.Review != nil,
			},
			RelatedEntries: relatedIDs(related),
		},
		Actions: actionsFor(e),
		Metadata: ViewMetadata{
			CreatedAt:              now,
			ComprehensionTargetSec: ComprehensionTargetSec,
			Complexity:             complexityFor(e, detailSize),
		},
	}
	v.Metadata.EstimatedReadTimeSec = estimatedReadTime(v, detailSize)
	return v
}

// BuildBatchView renders entries sharing one trace id as a single view.
// Callers pass at least two entries; fewer fall back to BuildView semantics
// for the single entry.
func BuildBatchView(entries []*Entry, clk clock.Clock) *View {
	if len(entries) == 1 {
		return BuildView(entries[0], nil, clk)
	}
	if clk == nil {
		clk = clock.System()
	}
	now := clk.Now()

	worst := ImpactLow
	latest := entries[0].Timestamp
	traceID := entries[0].TraceID
	for _, e := range entries {
		if impactRank[impactFor(e)] > impactRank[worst] {
			worst = impactFor(e)
		}
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}

	n := len(entries)
	readTime := n * 2
	if readTime > 30 {
		readTime = 30
	}

	return &View{
		Title: fmt.Sprintf("Batch: %d events", n),
		Summary: Summary{
			What:   fmt.Sprintf("%d related events on trace %s", n, traceID),
			Who:    entries[0].Actor,
			When:   relativeTime(latest, now),
			Impact: worst,
			Status: batchStatus(entries),
		},
		Details: ViewDetails{
			Context: ViewContext{
				TraceID:       traceID,
				Timestamp:     latest,
				RelatedEvents: n,
			},
			RelatedEntries: relatedIDs(entries),
		},
		Actions: []string{ActionViewDetails},
		Metadata: ViewMetadata{
			CreatedAt:              now,
			ComprehensionTargetSec: ComprehensionTargetSec,
			EstimatedReadTimeSec:   readTime,
			Complexity:             ComplexityModerate,
		},
	}
}

// DetectChanges diffs two snapshots field by field. Values are compared by
// canonical JSON so map ordering never produces a phantom modification.
func DetectChanges(before, after map[string]interface{}) []Change {
	if before == nil && after == nil {
		return nil
	}
	var changes []Change
	for k, av := range after {
		bv, ok := before[k]
		if !ok {
			changes = append(changes, Change{Field: k, Kind: ChangeAdded, After: av})
			continue
		}
		if intent.CanonicalJSON(bv) != intent.CanonicalJSON(av) {
			changes = append(changes, Change{Field: k, Kind: ChangeModified, Before: bv, After: av})
		}
	}
	for k, bv := range before {
		if _, ok := after[k]; !ok {
			changes = append(changes, Change{Field: k, Kind: ChangeRemoved, Before: bv})
		}
	}
	return changes
}

func titleFor(e *Entry) string {
	switch e.EventType {
	case EventToolExecuted:
		if tool, ok := e.Details["tool"].(string); ok && tool != "" {
			return "Tool Executed: " + tool
		}
		return "Tool Executed"
	case EventHumanApprovalRequested:
		return "Approval Required"
	case EventSecurityAlert:
		if s, ok := e.Details["summary"].(string); ok && s != "" {
			return "Security Alert: " + s
		}
		return "Security Alert"
	default:
		return titleCase(string(e.EventType))
	}
}

func whatFor(e *Entry) string {
	switch e.EventType {
	case EventRequestReceived:
		return fmt.Sprintf("Request received via %s", stringDetail(e, "protocol", "unknown protocol"))
	case EventIntentClassified:
		return fmt.Sprintf("Intent classified as %s", stringDetail(e, "category", "unknown"))
	case EventRoutingDecision:
		return fmt.Sprintf("Routed to tool %s", stringDetail(e, "tool", "unknown"))
	case EventToolExecuted:
		return fmt.Sprintf("Tool %s completed successfully", stringDetail(e, "tool", "unknown"))
	case EventToolFailed:
		return fmt.Sprintf("Tool %s failed: %s", stringDetail(e, "tool", "unknown"),
			stringDetail(e, "error", "unknown error"))
	case EventSandboxCreated:
		return fmt.Sprintf("Sandbox %s created", e.Target)
	case EventSandboxDestroyed:
		return fmt.Sprintf("Sandbox %s destroyed (%s)", e.Target, stringDetail(e, "reason", "unspecified"))
	case EventHumanApprovalRequested:
		return fmt.Sprintf("Approval requested: %s", stringDetail(e, "reason", e.Action))
	case EventHumanReviewCompleted:
		return fmt.Sprintf("Review completed: %s", stringDetail(e, "decision", "unknown"))
	case EventCredentialAccessed:
		return fmt.Sprintf("Credential %s accessed", e.Target)
	case EventSecurityAlert:
		return stringDetail(e, "summary", "Security alert raised")
	default:
		return e.Action
	}
}

// impactFor assigns the impact grade; first match wins.
func impactFor(e *Entry) Impact {
	switch {
	case e.EventType == EventSecurityAlert:
		return ImpactCritical
	case e.EventType == EventToolFailed && e.Severity == SeverityError:
		return ImpactHigh
	case e.EventType == EventHumanApprovalRequested:
		return ImpactHigh
	case e.Severity == SeverityError:
		return ImpactHigh
	case e.EventType == EventToolExecuted:
		return ImpactMedium
	case e.EventType == EventIntentClassified:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func statusFor(e *Entry) string {
	if e.Review != nil {
		return string(e.Review.Decision)
	}
	if e.EventType == EventHumanApprovalRequested {
		return "pending"
	}
	return "completed"
}

func batchStatus(entries []*Entry) string {
	rejected := false
	for _, e := range entries {
		if e.EventType == EventHumanApprovalRequested && e.Review == nil {
			return "pending"
		}
		if e.Review != nil && e.Review.Decision == DecisionRejected {
			rejected = true
		}
	}
	if rejected {
		return "rejected"
	}
	return "approved"
}

func actionsFor(e *Entry) []string {
	actions := []string{ActionViewDetails}
	if e.EventType == EventHumanApprovalRequested && e.Review == nil {
		actions = append(actions, ActionApprove, ActionReject, ActionModify)
	}
	return actions
}

func complexityFor(e *Entry, detailSize int) Complexity {
	switch {
	case e.EventType == EventRequestReceived:
		return ComplexitySimple
	case e.EventType == EventSecurityAlert:
		return ComplexityComplex
	case detailSize > 5000:
		return ComplexityComplex
	case detailSize > 1000:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// estimatedReadTime applies ceil(words/3.3 + detailSize/100 * 0.5) across the
// title and the summary text fields.
func estimatedReadTime(v *View, detailSize int) int {
	words := wordCount(v.Title) + wordCount(v.Summary.What) +
		wordCount(v.Summary.Who) + wordCount(v.Summary.When)
	return int(math.Ceil(float64(words)/3.3 + float64(detailSize)/100*0.5))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// relativeTime renders the event age for a reader: "just now" under a
// minute, minutes under an hour, hours under a day, else the date.
func relativeTime(ts, now time.Time) string {
	age := now.Sub(ts)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return ts.Format("2006-01-02")
	}
}

func relatedIDs(entries []*Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func stringDetail(e *Entry, key, fallback string) string {
	if v, ok := e.Details[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func marshaledSize(details map[string]interface{}) int {
	if len(details) == 0 {
		return 0
	}
	data, err := json.Marshal(details)
	if err != nil {
		return 0
	}
	return len(data)
}

func titleCase(eventType string) string {
	parts := strings.Split(eventType, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
