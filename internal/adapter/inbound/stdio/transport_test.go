package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/Tool-Gate/Toolgate/internal/ctxkey"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/port/inbound"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubGateway implements inbound.Gateway with function hooks.
type stubGateway struct {
	processFunc func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error)
	approveFunc func(ctx context.Context, requestID, reviewerID string, decision audit.ReviewDecision, modifications map[string]interface{}) (*inbound.PipelineResult, error)
}

func (s *stubGateway) DetectProtocol(raw []byte) (protocol.Tag, bool) {
	return protocol.TagMCP, true
}

func (s *stubGateway) Convert(ctx context.Context, raw []byte, tag protocol.Tag) (*intent.NormalizedRequest, error) {
	return nil, nil
}

func (s *stubGateway) Process(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
	return s.processFunc(ctx, raw, tag)
}

func (s *stubGateway) Approve(ctx context.Context, requestID, reviewerID string, decision audit.ReviewDecision, modifications map[string]interface{}) (*inbound.PipelineResult, error) {
	return s.approveFunc(ctx, requestID, reviewerID, decision, modifications)
}

var _ inbound.Gateway = (*stubGateway)(nil)

func executedResult(id string) *inbound.PipelineResult {
	return &inbound.PipelineResult{
		Status:  inbound.StatusExecuted,
		Request: &intent.NormalizedRequest{ID: id, Protocol: "mcp"},
	}
}

func decodeLines(t *testing.T, out *bytes.Buffer) []Response {
	t.Helper()
	var responses []Response
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		var resp Response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response line %q: %v", sc.Text(), err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func TestServeProcessesEachLine(t *testing.T) {
	var seen [][]byte
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			seen = append(seen, raw)
			return executedResult("req_1"), nil
		},
	}

	in := strings.NewReader(`{"a":1}` + "\n\n" + `{"b":2}` + "\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 payloads (blank line skipped), got %d", len(seen))
	}

	responses := decodeLines(t, &out)
	if len(responses) != 2 {
		t.Fatalf("expected 2 response lines, got %d", len(responses))
	}
	for _, resp := range responses {
		if resp.Status != "executed" || resp.RequestID != "req_1" || resp.Protocol != "mcp" {
			t.Errorf("unexpected response: %+v", resp)
		}
	}
}

func TestServeSharesOneSessionID(t *testing.T) {
	var sessions []string
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			sid, _ := ctx.Value(ctxkey.SessionIDKey{}).(string)
			sessions = append(sessions, sid)
			return executedResult("req_1"), nil
		},
	}

	in := strings.NewReader(`{"a":1}` + "\n" + `{"b":2}` + "\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(sessions))
	}
	if sessions[0] == "" || !strings.HasPrefix(sessions[0], "ses_") {
		t.Errorf("session id not set: %q", sessions[0])
	}
	if sessions[0] != sessions[1] {
		t.Errorf("lines of one connection should share a session: %q vs %q", sessions[0], sessions[1])
	}
}

func TestServeWritesErrorLine(t *testing.T) {
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			return nil, &protocol.UnsupportedProtocolError{Protocol: "unknown"}
		},
	}

	in := strings.NewReader("garbage\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	responses := decodeLines(t, &out)
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	resp := responses[0]
	if resp.Status != "error" || resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != "UNSUPPORTED_PROTOCOL" {
		t.Errorf("expected code UNSUPPORTED_PROTOCOL, got %q", resp.Error.Code)
	}
}

func TestServeRoutesApproveCommand(t *testing.T) {
	var gotRequest, gotReviewer string
	var gotDecision audit.ReviewDecision
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			t.Error("command line must not reach Process")
			return executedResult("req_x"), nil
		},
		approveFunc: func(ctx context.Context, requestID, reviewerID string, decision audit.ReviewDecision, modifications map[string]interface{}) (*inbound.PipelineResult, error) {
			gotRequest, gotReviewer, gotDecision = requestID, reviewerID, decision
			if modifications != nil {
				t.Errorf("plain rejection should carry no modifications: %v", modifications)
			}
			res := executedResult("req_42")
			res.Status = inbound.StatusRejected
			return res, nil
		},
	}

	line := `{"toolgate":"approve","request_id":"req_42","reviewer_id":"alice","decision":"rejected"}`
	in := strings.NewReader(line + "\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if gotRequest != "req_42" || gotReviewer != "alice" || gotDecision != audit.DecisionRejected {
		t.Errorf("unexpected review call: %q %q %q", gotRequest, gotReviewer, gotDecision)
	}

	responses := decodeLines(t, &out)
	if len(responses) != 1 || responses[0].Status != "rejected" {
		t.Errorf("unexpected responses: %+v", responses)
	}
}

func TestServePassesReviewModifications(t *testing.T) {
	var gotMods map[string]interface{}
	gw := &stubGateway{
		approveFunc: func(ctx context.Context, requestID, reviewerID string, decision audit.ReviewDecision, modifications map[string]interface{}) (*inbound.PipelineResult, error) {
			gotMods = modifications
			return executedResult("req_7"), nil
		},
	}

	line := `{"toolgate":"approve","request_id":"req_7","reviewer_id":"alice","decision":"modified","modifications":{"query":"rain","limit":3}}`
	in := strings.NewReader(line + "\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if gotMods == nil {
		t.Fatal("modifications not passed through")
	}
	if gotMods["query"] != "rain" {
		t.Errorf("expected query override, got %v", gotMods["query"])
	}
	if n, ok := gotMods["limit"].(float64); !ok || n != 3 {
		t.Errorf("expected limit override 3, got %v", gotMods["limit"])
	}
}

func TestHandleOne(t *testing.T) {
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			if sid, _ := ctx.Value(ctxkey.SessionIDKey{}).(string); sid == "" {
				t.Error("expected a session id on one-shot runs")
			}
			return executedResult("req_9"), nil
		},
	}

	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(strings.NewReader(""), &out))

	if err := tr.HandleOne(context.Background(), []byte(`{"a":1}`+"\n")); err != nil {
		t.Fatalf("HandleOne: %v", err)
	}
	responses := decodeLines(t, &out)
	if len(responses) != 1 || responses[0].RequestID != "req_9" {
		t.Errorf("unexpected responses: %+v", responses)
	}
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	gw := &stubGateway{
		processFunc: func(ctx context.Context, raw []byte, tag protocol.Tag) (*inbound.PipelineResult, error) {
			return executedResult("req_1"), nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := strings.NewReader(`{"a":1}` + "\n")
	var out bytes.Buffer
	tr := NewTransport(gw, testLogger(), WithStreams(in, &out))

	if err := tr.Serve(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("cancelled serve should not process lines, wrote %q", out.String())
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"parse error carries its code", &protocol.ParseError{Code: "MISSING_METHOD", Message: "m"}, "MISSING_METHOD"},
		{"normalize error carries its code", &protocol.NormalizeError{Code: "NO_INTENT", Message: "m"}, "NO_INTENT"},
		{"coded error", &credential.MissingError{ID: "github_api"}, "CREDENTIAL_MISSING"},
		{"unsupported protocol", &protocol.UnsupportedProtocolError{Protocol: "x"}, "UNSUPPORTED_PROTOCOL"},
		{"deadline", context.DeadlineExceeded, "TIMEOUT"},
		{"unknown", io.ErrUnexpectedEOF, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorCode(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
