package cel

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func float64p(v float64) *float64 { return &v }
func int64p(v int64) *int64       { return &v }

func sampleTool() *tool.Definition {
	return &tool.Definition{
		ID:                "web_search",
		Name:              "Web Search",
		Description:       "search the web for current information",
		Protocol:          "mcp",
		CostEstimate:      float64p(0.5),
		LatencyEstimateMs: int64p(800),
		RiskLevel:         tool.RiskLevelMedium,
	}
}

func sampleIntent() *intent.NormalizedIntent {
	return &intent.NormalizedIntent{
		Category: intent.CategoryInformationRequest,
		Action:   "search",
		Target:   "news",
		Parameters: map[string]interface{}{
			"query": "golang generics",
		},
	}
}

func TestSatisfies(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		constraints []string
		want        bool
	}{
		{"no constraints", nil, true},
		{"cost bound holds", []string{"tool_cost < 1.0"}, true},
		{"cost bound fails", []string{"tool_cost < 0.1"}, false},
		{"latency bound", []string{"tool_latency_ms <= 1000"}, true},
		{"category match", []string{`intent_category == "information_request"`}, true},
		{"risk gate", []string{`tool_risk != "CRITICAL"`}, true},
		{"glob on id", []string{`glob("web_*", tool_id)`}, true},
		{"glob miss", []string{`glob("fs_*", tool_id)`}, false},
		{"param lookup", []string{`param(parameters, "query") == "golang generics"`}, true},
		{"param contains", []string{`param_contains(parameters, "golang")`}, true},
		{"all must hold", []string{"tool_cost < 1.0", "tool_latency_ms < 100"}, false},
		{"description search", []string{`tool_description.contains("web")`}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Satisfies(ctx, tt.constraints, sampleTool(), sampleIntent())
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSatisfiesFailsClosed(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	for _, expr := range []string{
		"tool_cost <",                // syntax error
		"nonexistent_var == 1",      // unknown variable
		"tool_cost",                 // non-boolean result
		"",                          // empty
		strings.Repeat("1 < 2 && ", 200) + "true", // over length cap
	} {
		if e.Satisfies(ctx, []string{expr}, sampleTool(), sampleIntent()) {
			t.Errorf("expression %q should fail closed", expr)
		}
	}
}

func TestValidate(t *testing.T) {
	e := newEvaluator(t)

	if err := e.Validate("tool_cost < 1.0"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := e.Validate(""); err == nil {
		t.Error("empty expression accepted")
	}
	deep := strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60)
	if err := e.Validate(deep); err == nil {
		t.Error("over-nested expression accepted")
	}
}

func TestResultCacheReuse(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()
	def := sampleTool()
	in := sampleIntent()

	if !e.Satisfies(ctx, []string{"tool_cost < 1.0"}, def, in) {
		t.Fatal("first evaluation failed")
	}
	key := resultKey("tool_cost < 1.0", def, in)
	if _, hit := e.results.get(key); !hit {
		t.Error("result not cached after evaluation")
	}

	// A different parameter value is a different cache entry.
	in2 := sampleIntent()
	in2.Parameters["query"] = "something else"
	if resultKey("tool_cost < 1.0", def, in2) == key {
		t.Error("distinct parameters must hash to distinct keys")
	}
}

func TestResultCacheEviction(t *testing.T) {
	c := newResultCache(2)
	c.put(1, true)
	c.put(2, true)
	c.put(3, true)
	if _, hit := c.get(1); hit {
		t.Error("oldest entry should be evicted")
	}
	if _, hit := c.get(3); !hit {
		t.Error("newest entry missing")
	}
}

func TestProgramCacheReuse(t *testing.T) {
	e := newEvaluator(t)

	p1, err := e.program("tool_cost < 1.0")
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	p2, err := e.program("tool_cost < 1.0")
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if p1 != p2 {
		t.Error("expected the compiled program to be reused")
	}
}
