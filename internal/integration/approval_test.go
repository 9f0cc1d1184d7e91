package integration

import (
	"fmt"
	"math"
	"testing"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/service"
)

// approvalHarness assembles a stack whose only tool scores below the
// approval threshold once cost and latency adjustment kick in:
// 0.86 similarity × 0.95 × 0.95 ≈ 0.78.
func approvalHarness(t *testing.T) *harness {
	t.Helper()
	sim := 0.86
	return newHarness(t, harnessConfig{
		Provider: &mappedProvider{vectors: map[string][]float64{
			catchAllEmbedText(): {math.Sqrt(1 - sim*sim), 0, sim},
		}},
		Router: service.RouterConfig{
			CostOptimization:    true,
			LatencyOptimization: true,
		},
		CatalogYAML: "tools:\n" +
			"  - id: " + catchAllID + "\n" +
			"    name: " + catchAllID + "\n" +
			"    description: " + catchAllDesc + "\n" +
			"    cost_estimate: 100\n" +
			"    latency_estimate_ms: 1000\n",
	})
}

func reviewLine(requestID, decision string) string {
	return fmt.Sprintf(`{"toolgate":"approve","request_id":%q,"reviewer_id":"reviewer_1","decision":%q}`,
		requestID, decision)
}

func TestApprovalRoundTripOverStdio(t *testing.T) {
	h := approvalHarness(t)
	defer h.close()

	responses := h.serve(payloadMCP + "\n")
	if len(responses) != 1 {
		t.Fatalf("expected 1 result line, got %d", len(responses))
	}
	parked := responses[0]
	if parked.Status != "pending_approval" {
		t.Fatalf("expected pending_approval, got %s (error: %+v)", parked.Status, parked.Error)
	}
	if parked.Execution != nil {
		t.Fatal("parked request must not execute")
	}
	if parked.Decision == nil || !parked.Decision.RequiresApproval {
		t.Fatalf("decision should flag approval, got %+v", parked.Decision)
	}
	if got := h.auditCount(audit.EventHumanApprovalRequested); got != 1 {
		t.Errorf("expected 1 approval_requested audit entry, got %d", got)
	}

	// A reviewer verdict arrives as a control line on the same stream.
	responses = h.serve(reviewLine(parked.RequestID, "approved") + "\n")
	if len(responses) != 1 {
		t.Fatalf("expected 1 result line for the verdict, got %d", len(responses))
	}
	resumed := responses[0]
	if resumed.Status != "executed" {
		t.Fatalf("approved request should execute, got %s (error: %+v)", resumed.Status, resumed.Error)
	}
	if resumed.RequestID != parked.RequestID {
		t.Errorf("resumed id %s does not match parked id %s", resumed.RequestID, parked.RequestID)
	}
	if resumed.Execution == nil || !resumed.Execution.Success {
		t.Fatalf("execution should succeed: %+v", resumed.Execution)
	}
	if got := h.auditCount(audit.EventHumanReviewCompleted); got != 1 {
		t.Errorf("expected 1 review_completed audit entry, got %d", got)
	}
}

func TestModifiedVerdictOverridesParameters(t *testing.T) {
	h := approvalHarness(t)
	defer h.close()

	responses := h.serve(payloadMCP + "\n")
	if len(responses) != 1 || responses[0].Status != "pending_approval" {
		t.Fatalf("expected parked request, got %+v", responses)
	}
	requestID := responses[0].RequestID

	line := fmt.Sprintf(`{"toolgate":"approve","request_id":%q,"reviewer_id":"reviewer_1","decision":"modified","modifications":{"query":"rain"}}`,
		requestID)
	responses = h.serve(line + "\n")
	if len(responses) != 1 || responses[0].Status != "executed" {
		t.Fatalf("modified verdict should execute, got %+v", responses)
	}

	// The in-memory driver echoes its arguments, exposing what actually ran.
	output, ok := responses[0].Execution.Output.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected execution output: %+v", responses[0].Execution.Output)
	}
	args, ok := output["args"].(map[string]interface{})
	if !ok {
		t.Fatalf("execution output carries no args: %+v", output)
	}
	if args["query"] != "rain" {
		t.Errorf("reviewer override not applied, query=%v", args["query"])
	}
}

func TestRejectionOverStdio(t *testing.T) {
	h := approvalHarness(t)
	defer h.close()

	responses := h.serve(payloadMCP + "\n")
	if len(responses) != 1 || responses[0].Status != "pending_approval" {
		t.Fatalf("expected parked request, got %+v", responses)
	}
	requestID := responses[0].RequestID

	responses = h.serve(reviewLine(requestID, "rejected") + "\n")
	if len(responses) != 1 {
		t.Fatalf("expected 1 result line, got %d", len(responses))
	}
	if responses[0].Status != "rejected" {
		t.Fatalf("expected rejected, got %s", responses[0].Status)
	}
	if responses[0].Execution != nil {
		t.Error("rejected request must not execute")
	}

	// The verdict is final: a replayed command is an error line, not a rerun.
	responses = h.serve(reviewLine(requestID, "approved") + "\n")
	if len(responses) != 1 || responses[0].Status != "error" {
		t.Fatalf("expected error on replayed verdict, got %+v", responses)
	}
}
