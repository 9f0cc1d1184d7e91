package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/cel"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/memory"
	"github.com/Tool-Gate/Toolgate/internal/adapter/outbound/sandboxdrv"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/domain/ratelimit"
	"github.com/Tool-Gate/Toolgate/internal/domain/routing"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
	"github.com/Tool-Gate/Toolgate/internal/port/inbound"
	"github.com/Tool-Gate/Toolgate/internal/port/outbound"
)

// mcpCall is a tools/call payload whose normalized intent embeds to [1,0,0]
// in the fixtures below.
const mcpCall = `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"web_search","arguments":{"q":"weather"}}}`

// mcpIntentText is the embedding text the fixture's intent produces.
func mcpIntentText() string {
	return fmt.Sprintf("Action: %s\nCategory: %s\nTarget: %s\nParameters: %s",
		"web_search", intent.CategoryToolCall, "tool",
		intent.CanonicalJSON(map[string]interface{}{"q": "weather"}))
}

type gwFixture struct {
	provider *routeProvider
	driver   *sandboxdrv.Memory
	sink     *memory.AuditSink
	stream   *AuditService
	catalog  *memory.CatalogStore
	creds    *memory.CredentialStore
	gw       *GatewayService
}

func newGateway(t *testing.T, cfg GatewayConfig, routerCfg RouterConfig) *gwFixture {
	t.Helper()
	f := &gwFixture{
		provider: &routeProvider{vectors: map[string][]float64{mcpIntentText(): {1, 0, 0}}},
		driver:   sandboxdrv.NewMemory(),
		sink:     memory.NewAuditSink(1000),
		catalog:  memory.NewCatalogStore(),
	}
	creds, err := memory.NewCredentialStore(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewCredentialStore: %v", err)
	}
	f.creds = creds
	f.stream = newAuditStream(t, f.sink)

	eval, err := cel.NewEvaluator(testLogger())
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	emb := NewEmbeddingService(f.provider, testLogger())
	runtime := NewRuntimeService(f.driver, RuntimeConfig{}, testLogger(), nil)
	t.Cleanup(runtime.Stop)
	sessions := memory.NewSessionStore(nil, 0)
	t.Cleanup(sessions.Stop)

	f.gw = NewGatewayService(GatewayDeps{
		Dispatcher:  protocol.NewDispatcher(protocol.WithLogger(testLogger())),
		Router:      NewRouterService(emb, eval, routerCfg, testLogger(), nil),
		Runtime:     runtime,
		Catalog:     f.catalog,
		Credentials: NewCredentialService(f.creds, f.catalog, f.stream, "", testLogger()),
		Stream:      f.stream,
		Sessions:    sessions,
		Rate:        ratelimit.NewCounter(0, nil),
	}, cfg, testLogger())
	return f
}

// addTool registers a catalog entry whose embedding has the given cosine
// against the fixture intent.
func (f *gwFixture) addTool(t *testing.T, def *tool.Definition, sim float64) {
	t.Helper()
	f.provider.vectors[def.Name+": "+def.Description] = withSimilarity(sim)
	if err := f.catalog.Put(context.Background(), def); err != nil {
		t.Fatalf("catalog put: %v", err)
	}
}

func (f *gwFixture) auditedTypes(t *testing.T) []audit.EventType {
	t.Helper()
	entries, err := f.stream.Query(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	types := make([]audit.EventType, len(entries))
	for i, e := range entries {
		types[i] = e.EventType
	}
	return types
}

func TestProcessFullPipeline(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{})
	f.addTool(t, &tool.Definition{ID: "web_search", Name: "web_search", Description: "search the web"}, 0.95)

	res, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != inbound.StatusExecuted {
		t.Fatalf("expected executed, got %s", res.Status)
	}
	if res.Request.Protocol != "mcp" {
		t.Errorf("expected mcp detection, got %q", res.Request.Protocol)
	}
	if res.Decision == nil || res.Decision.SelectedTool.ID != "web_search" {
		t.Fatalf("unexpected decision: %+v", res.Decision)
	}
	if res.Execution == nil || !res.Execution.Success {
		t.Fatalf("execution should succeed: %+v", res.Execution)
	}

	want := []audit.EventType{
		audit.EventRequestReceived,
		audit.EventIntentClassified,
		audit.EventRoutingDecision,
		audit.EventSandboxCreated,
		audit.EventToolExecuted,
	}
	got := f.auditedTypes(t)
	if len(got) != len(want) {
		t.Fatalf("expected %d audit entries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Entries share the request's trace.
	entries, _ := f.stream.Query(context.Background(), audit.Filter{})
	trace := res.Request.Metadata.TraceID
	for _, e := range entries {
		if e.TraceID != trace {
			t.Errorf("entry %s not correlated to trace %s", e.EventType, trace)
		}
	}
}

func TestProcessUnknownPayload(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{})

	_, err := f.gw.Process(context.Background(), []byte("plain text"), "")
	var up *protocol.UnsupportedProtocolError
	if !errors.As(err, &up) {
		t.Errorf("expected UnsupportedProtocolError, got %v", err)
	}
}

func TestProcessNoMatchIsAudited(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{})
	f.addTool(t, &tool.Definition{ID: "unrelated", Name: "unrelated", Description: "something else"}, 0.40)

	_, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if !errors.Is(err, routing.ErrNoMatch) {
		t.Fatalf("expected no match, got %v", err)
	}

	entries, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventRoutingDecision},
	})
	if len(entries) != 1 || entries[0].Severity != audit.SeverityWarning {
		t.Errorf("failed routing should be audited at warning, got %v", entries)
	}
}

func TestProcessParksLowConfidenceDecision(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	// 0.86 × 0.95 × 0.95 ≈ 0.776 < 0.8
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	res, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != inbound.StatusPendingApproval {
		t.Fatalf("expected pending approval, got %s", res.Status)
	}
	if res.Execution != nil {
		t.Fatal("parked request must not execute")
	}
	if pending := f.gw.Pending(); len(pending) != 1 || pending[0] != res.Request.ID {
		t.Errorf("request not parked: %v", pending)
	}

	parked, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventHumanApprovalRequested},
	})
	if len(parked) != 1 {
		t.Fatalf("approval gate should be audited, got %d entries", len(parked))
	}
	if reason, _ := parked[0].Details["reason"].(string); !strings.Contains(reason, "%") {
		t.Errorf("gate entry should carry the confidence reason, got %q", reason)
	}
}

func TestApproveResumesExecution(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	parked, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	res, err := f.gw.Approve(context.Background(), parked.Request.ID, "reviewer_1", audit.DecisionApproved, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Status != inbound.StatusExecuted || res.Execution == nil || !res.Execution.Success {
		t.Fatalf("approved request should execute: %+v", res)
	}
	if len(f.gw.Pending()) != 0 {
		t.Error("approved request should leave the pending set")
	}

	reviews, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventHumanReviewCompleted},
	})
	if len(reviews) != 1 {
		t.Fatalf("review should be audited, got %d", len(reviews))
	}
	if reviews[0].Review == nil || reviews[0].Review.ReviewerID != "reviewer_1" {
		t.Errorf("review entry incomplete: %+v", reviews[0].Review)
	}

	// Replay is rejected.
	if _, err := f.gw.Approve(context.Background(), parked.Request.ID, "reviewer_1", audit.DecisionApproved, nil); !errors.Is(err, ErrUnknownPendingRequest) {
		t.Errorf("second approval should fail, got %v", err)
	}
}

func TestApproveRejection(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	parked, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	res, err := f.gw.Approve(context.Background(), parked.Request.ID, "reviewer_1", audit.DecisionRejected, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Status != inbound.StatusRejected {
		t.Fatalf("expected rejected, got %s", res.Status)
	}
	if res.Execution != nil {
		t.Error("rejected request must not execute")
	}
	if f.driver.Live() != 0 {
		t.Error("no sandbox should exist for a rejected request")
	}
}

func TestApproveModifiedAppliesParameterOverrides(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	var gotArgs map[string]interface{}
	f.driver.RunHook = func(toolID string, args map[string]interface{}) (*outbound.RunOutput, error) {
		gotArgs = args
		return &outbound.RunOutput{Output: "ok"}, nil
	}

	parked, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	mods := map[string]interface{}{"q": "rain", "limit": 3}
	res, err := f.gw.Approve(context.Background(), parked.Request.ID, "reviewer_1", audit.DecisionModified, mods)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Status != inbound.StatusExecuted || res.Execution == nil || !res.Execution.Success {
		t.Fatalf("modified approval should execute: %+v", res)
	}
	if gotArgs == nil {
		t.Fatal("tool never ran")
	}
	if gotArgs["q"] != "rain" {
		t.Errorf("reviewer override not applied, q=%v", gotArgs["q"])
	}
	if gotArgs["limit"] != 3 {
		t.Errorf("added parameter not applied, limit=%v", gotArgs["limit"])
	}

	reviews, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventHumanReviewCompleted},
	})
	if len(reviews) != 1 || reviews[0].Review == nil {
		t.Fatalf("review should be audited, got %v", reviews)
	}
	if reviews[0].Review.Modifications["q"] != "rain" {
		t.Errorf("modifications missing from the review record: %+v", reviews[0].Review)
	}
}

func TestApprovePlainIgnoresModifications(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	var gotArgs map[string]interface{}
	f.driver.RunHook = func(toolID string, args map[string]interface{}) (*outbound.RunOutput, error) {
		gotArgs = args
		return &outbound.RunOutput{Output: "ok"}, nil
	}

	parked, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Overrides on a plain approval are dropped, not silently applied.
	res, err := f.gw.Approve(context.Background(), parked.Request.ID, "reviewer_1", audit.DecisionApproved, map[string]interface{}{"q": "rain"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Status != inbound.StatusExecuted {
		t.Fatalf("expected executed, got %s", res.Status)
	}
	if gotArgs["q"] != "weather" {
		t.Errorf("plain approval must keep the original parameters, q=%v", gotArgs["q"])
	}

	reviews, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventHumanReviewCompleted},
	})
	if len(reviews) != 1 || reviews[0].Review == nil {
		t.Fatalf("review should be audited, got %v", reviews)
	}
	if reviews[0].Review.Modifications != nil {
		t.Errorf("plain approval should record no modifications: %+v", reviews[0].Review.Modifications)
	}
}

func TestAutoApproveExecutesDirectly(t *testing.T) {
	f := newGateway(t, GatewayConfig{AutoApprove: true}, RouterConfig{CostOptimization: true, LatencyOptimization: true})
	cost := 100.0
	latency := int64(1000)
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		CostEstimate: &cost, LatencyEstimateMs: &latency,
	}, 0.86)

	res, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Status != inbound.StatusExecuted {
		t.Errorf("auto-approve should execute, got %s", res.Status)
	}
}

func TestProcessFailsOnMissingCredential(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{})
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		RequiredCredentialIDs: []string{"search_api"},
	}, 0.95)

	_, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if !errors.Is(err, credential.ErrMissing) {
		t.Fatalf("expected missing credential, got %v", err)
	}
	if f.driver.Live() != 0 {
		t.Error("nothing should execute without credentials")
	}
}

func TestProcessRedactsLeakedSecrets(t *testing.T) {
	f := newGateway(t, GatewayConfig{}, RouterConfig{})
	f.addTool(t, &tool.Definition{
		ID: "web_search", Name: "web_search", Description: "search the web",
		RequiredCredentialIDs: []string{"search_api"},
	}, 0.95)
	if err := f.creds.Put(context.Background(), credential.Secret{ID: "search_api", Value: "sk-verysecret"}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	f.driver.RunHook = func(toolID string, args map[string]interface{}) (*outbound.RunOutput, error) {
		return &outbound.RunOutput{Output: map[string]interface{}{
			"body": "authorization: sk-verysecret",
		}}, nil
	}

	res, err := f.gw.Process(context.Background(), []byte(mcpCall), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	body := res.Execution.Output.(map[string]interface{})["body"].(string)
	if strings.Contains(body, "sk-verysecret") {
		t.Error("secret value leaked through the output scan")
	}
	if !strings.Contains(body, "***REDACTED***") {
		t.Errorf("leak should be masked, got %q", body)
	}

	alerts, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventSecurityAlert},
	})
	if len(alerts) != 1 || alerts[0].Severity != audit.SeverityCritical {
		t.Errorf("leak should raise a critical alert, got %v", alerts)
	}
}

func TestProcessEmitsAlertForCriticalTool(t *testing.T) {
	f := newGateway(t, GatewayConfig{AutoApprove: true}, RouterConfig{})
	f.provider.vectors[mcpIntentText()] = []float64{1, 0, 0}
	// The fixture intent targets web_search; register a critical-risk tool
	// under that id so routing selects it.
	f.addTool(t, &tool.Definition{ID: "web_search", Name: "web_search", Description: "delete files remotely"}, 0.95)

	// Force the classifier to see a destructive name.
	def, _ := f.catalog.Get(context.Background(), "web_search")
	def.Name = "file_delete web_search"
	_ = f.catalog.Put(context.Background(), def)
	f.provider.vectors[def.Name+": "+def.Description] = withSimilarity(0.95)

	if _, err := f.gw.Process(context.Background(), []byte(mcpCall), ""); err != nil {
		t.Fatalf("Process: %v", err)
	}
	alerts, _ := f.stream.Query(context.Background(), audit.Filter{
		EventTypes: []audit.EventType{audit.EventSecurityAlert},
	})
	if len(alerts) != 1 {
		t.Fatalf("critical tool selection should raise one alert, got %d", len(alerts))
	}
	if alerts[0].Severity != audit.SeverityCritical {
		t.Errorf("expected critical severity, got %s", alerts[0].Severity)
	}
}
