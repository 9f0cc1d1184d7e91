package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/Tool-Gate/Toolgate/internal/clock"
)

func testClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestApprovalRequestedView(t *testing.T) {
	clk := testClock()
	entry := &Entry{
		ID:        "aud_1",
		Timestamp: clk.Now().Add(-30 * time.Second),
		TraceID:   "trace_a",
		EventType: EventHumanApprovalRequested,
		Severity:  SeverityWarning,
		Actor:     "alice",
		Action:    "approve tool execution",
		Details:   map[string]interface{}{"reason": "confidence 72.0% below threshold"},
	}

	v := BuildView(entry, nil, clk)

	if v.Title != "Approval Required" {
		t.Errorf("expected title %q, got %q", "Approval Required", v.Title)
	}
	if v.Summary.Impact != ImpactHigh {
		t.Errorf("expected impact high, got %s", v.Summary.Impact)
	}
	if v.Summary.When != "just now" {
		t.Errorf("expected when %q, got %q", "just now", v.Summary.When)
	}
	if v.Summary.Status != "pending" {
		t.Errorf("expected status pending, got %s", v.Summary.Status)
	}
	for _, want := range []string{ActionViewDetails, ActionApprove, ActionReject, ActionModify} {
		if !containsString(v.Actions, want) {
			t.Errorf("expected action %q in %v", want, v.Actions)
		}
	}
}

func TestReviewedApprovalHidesReviewActions(t *testing.T) {
	clk := testClock()
	entry := &Entry{
		ID:        "aud_1",
		Timestamp: clk.Now(),
		EventType: EventHumanApprovalRequested,
		Actor:     "alice",
		Review:    &HumanReview{ReviewerID: "bob", Decision: DecisionApproved},
	}
	v := BuildView(entry, nil, clk)
	if v.Summary.Status != "approved" {
		t.Errorf("expected status approved, got %s", v.Summary.Status)
	}
	if len(v.Actions) != 1 || v.Actions[0] != ActionViewDetails {
		t.Errorf("reviewed entry should only offer View Details, got %v", v.Actions)
	}
}

func TestTitleSpecialCases(t *testing.T) {
	clk := testClock()
	tests := []struct {
		name  string
		entry *Entry
		want  string
	}{
		{
			"tool executed",
			&Entry{EventType: EventToolExecuted, Details: map[string]interface{}{"tool": "search"}},
			"Tool Executed: search",
		},
		{
			"security alert",
			&Entry{EventType: EventSecurityAlert, Details: map[string]interface{}{"summary": "secret leaked"}},
			"Security Alert: secret leaked",
		},
		{
			"default title case",
			&Entry{EventType: EventRoutingDecision},
			"Routing Decision",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Timestamp = clk.Now()
			if got := BuildView(tt.entry, nil, clk).Title; got != tt.want {
				t.Errorf("title = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestImpactAssignmentFirstMatchWins(t *testing.T) {
	clk := testClock()
	tests := []struct {
		name  string
		entry *Entry
		want  Impact
	}{
		{"security alert", &Entry{EventType: EventSecurityAlert, Severity: SeverityInfo}, ImpactCritical},
		{"tool failed error", &Entry{EventType: EventToolFailed, Severity: SeverityError}, ImpactHigh},
		{"severity error", &Entry{EventType: EventSandboxCreated, Severity: SeverityError}, ImpactHigh},
		{"tool executed", &Entry{EventType: EventToolExecuted, Severity: SeverityInfo}, ImpactMedium},
		{"intent classified", &Entry{EventType: EventIntentClassified, Severity: SeverityInfo}, ImpactMedium},
		{"default low", &Entry{EventType: EventRequestReceived, Severity: SeverityInfo}, ImpactLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Timestamp = clk.Now()
			if got := BuildView(tt.entry, nil, clk).Summary.Impact; got != tt.want {
				t.Errorf("impact = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		age  time.Duration
		want string
	}{
		{30 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{48 * time.Hour, "2026-02-27"},
	}
	for _, tt := range tests {
		if got := relativeTime(now.Add(-tt.age), now); got != tt.want {
			t.Errorf("relativeTime(-%v) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestDetectChanges(t *testing.T) {
	before := map[string]interface{}{
		"limit":   float64(10),
		"removed": "gone",
		"nested":  map[string]interface{}{"a": 1, "b": 2},
	}
	after := map[string]interface{}{
		"limit":  float64(20),
		"added":  true,
		"nested": map[string]interface{}{"b": 2, "a": 1},
	}

	changes := DetectChanges(before, after)
	byField := map[string]Change{}
	for _, c := range changes {
		byField[c.Field] = c
	}

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %v", len(changes), changes)
	}
	if c := byField["limit"]; c.Kind != ChangeModified {
		t.Errorf("limit should be modified, got %s", c.Kind)
	}
	if c := byField["added"]; c.Kind != ChangeAdded {
		t.Errorf("added should be added, got %s", c.Kind)
	}
	if c := byField["removed"]; c.Kind != ChangeRemoved {
		t.Errorf("removed should be removed, got %s", c.Kind)
	}
	if _, ok := byField["nested"]; ok {
		t.Error("reordered map keys must not register as a change")
	}
}

func TestComplexityThresholds(t *testing.T) {
	clk := testClock()

	big := strings.Repeat("x", 6000)
	medium := strings.Repeat("x", 2000)

	tests := []struct {
		name  string
		entry *Entry
		want  Complexity
	}{
		{"request received always simple",
			&Entry{EventType: EventRequestReceived, Details: map[string]interface{}{"blob": big}},
			ComplexitySimple},
		{"security alert always complex",
			&Entry{EventType: EventSecurityAlert},
			ComplexityComplex},
		{"large details complex",
			&Entry{EventType: EventToolExecuted, Details: map[string]interface{}{"blob": big}},
			ComplexityComplex},
		{"medium details moderate",
			&Entry{EventType: EventToolExecuted, Details: map[string]interface{}{"blob": medium}},
			ComplexityModerate},
		{"small details simple",
			&Entry{EventType: EventToolExecuted, Details: map[string]interface{}{"k": "v"}},
			ComplexitySimple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Timestamp = clk.Now()
			if got := BuildView(tt.entry, nil, clk).Metadata.Complexity; got != tt.want {
				t.Errorf("complexity = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBatchView(t *testing.T) {
	clk := testClock()
	entries := []*Entry{
		{ID: "aud_1", TraceID: "trace_a", EventType: EventRequestReceived, Timestamp: clk.Now()},
		{ID: "aud_2", TraceID: "trace_a", EventType: EventSecurityAlert, Timestamp: clk.Now()},
		{ID: "aud_3", TraceID: "trace_a", EventType: EventHumanApprovalRequested, Timestamp: clk.Now()},
	}

	v := BuildBatchView(entries, clk)
	if v.Title != "Batch: 3 events" {
		t.Errorf("expected batch title, got %q", v.Title)
	}
	if v.Summary.Impact != ImpactCritical {
		t.Errorf("expected worst impact critical, got %s", v.Summary.Impact)
	}
	if v.Summary.Status != "pending" {
		t.Errorf("expected pending (unreviewed approval), got %s", v.Summary.Status)
	}
	if v.Metadata.EstimatedReadTimeSec != 6 {
		t.Errorf("expected read time 6, got %d", v.Metadata.EstimatedReadTimeSec)
	}

	// Read time caps at 30 seconds.
	many := make([]*Entry, 20)
	for i := range many {
		many[i] = &Entry{ID: "aud_x", TraceID: "trace_b", EventType: EventRequestReceived, Timestamp: clk.Now()}
	}
	if got := BuildBatchView(many, clk).Metadata.EstimatedReadTimeSec; got != 30 {
		t.Errorf("expected capped read time 30, got %d", got)
	}
}

func TestBatchStatusRejectedBeatsApproved(t *testing.T) {
	clk := testClock()
	entries := []*Entry{
		{ID: "aud_1", TraceID: "t", EventType: EventHumanApprovalRequested, Timestamp: clk.Now(),
			Review: &HumanReview{ReviewerID: "r", Decision: DecisionRejected}},
		{ID: "aud_2", TraceID: "t", EventType: EventHumanApprovalRequested, Timestamp: clk.Now(),
			Review: &HumanReview{ReviewerID: "r", Decision: DecisionApproved}},
	}
	if got := BuildBatchView(entries, clk).Summary.Status; got != "rejected" {
		t.Errorf("expected rejected, got %s", got)
	}
}

func TestEstimatedReadTimeFormula(t *testing.T) {
	clk := testClock()
	entry := &Entry{
		EventType: EventToolExecuted,
		Timestamp: clk.Now(),
		Actor:     "agent",
		Details:   map[string]interface{}{"tool": "search"},
	}
	v := BuildView(entry, nil, clk)
	if v.Metadata.EstimatedReadTimeSec < 1 {
		t.Errorf("read time should round up to at least 1s, got %d", v.Metadata.EstimatedReadTimeSec)
	}
	if v.Metadata.ComprehensionTargetSec != 5 {
		t.Errorf("expected comprehension target 5, got %d", v.Metadata.ComprehensionTargetSec)
	}
}

func containsString(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
