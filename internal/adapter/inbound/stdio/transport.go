// Package stdio provides the line-delimited transport that connects the
// gateway pipeline to stdin/stdout. One JSON payload per line in, one JSON
// result per line out.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Tool-Gate/Toolgate/internal/ctxkey"
	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/domain/routing"
	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
	"github.com/Tool-Gate/Toolgate/internal/ident"
	"github.com/Tool-Gate/Toolgate/internal/port/inbound"
)

// Scanner sizing. The dispatcher caps payloads at 10 MiB; the line buffer
// leaves headroom so oversized payloads reach the dispatcher and get a
// proper rejection instead of a scan error.
const (
	initialLineBytes = 256 * 1024
	maxLineBytes     = 12 << 20
)

// Transport reads newline-delimited JSON payloads, runs each through the
// gateway, and writes one JSON result line per payload.
type Transport struct {
	gateway inbound.Gateway
	logger  *slog.Logger
	in      io.Reader

	mu  sync.Mutex // serializes result lines
	out io.Writer
}

// Option configures the transport.
type Option func(*Transport)

// WithStreams replaces stdin/stdout, used by tests and the one-shot command.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(t *Transport) {
		t.in = in
		t.out = out
	}
}

// NewTransport creates a transport over os.Stdin/os.Stdout.
func NewTransport(gateway inbound.Gateway, logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		gateway: gateway,
		logger:  logger,
		in:      os.Stdin,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Response is the line written back for each payload.
type Response struct {
	// Status is the pipeline result status, or "error".
	Status string `json:"status"`
	// RequestID identifies the normalized request when one was produced.
	RequestID string `json:"request_id,omitempty"`
	// Protocol is the detected wire protocol.
	Protocol string `json:"protocol,omitempty"`
	// Decision is the routing decision, when routing succeeded.
	Decision *routing.Decision `json:"decision,omitempty"`
	// Execution is the sandbox result, when the tool ran.
	Execution *sandbox.ExecutionResult `json:"execution,omitempty"`
	// Error describes the failure for status "error".
	Error *ResponseError `json:"error,omitempty"`
}

// ResponseError is the wire form of a pipeline failure.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// command is the control envelope for reviewer verdicts on parked requests.
// Any line carrying the toolgate marker is treated as a command instead of
// an agent payload.
type command struct {
	Toolgate   string               `json:"toolgate"`
	RequestID  string               `json:"request_id"`
	ReviewerID string               `json:"reviewer_id"`
	Decision   audit.ReviewDecision `json:"decision"`
	// Modifications carries parameter overrides for a "modified" decision.
	Modifications map[string]interface{} `json:"modifications,omitempty"`
}

// Serve reads payloads until EOF or context cancellation. All lines of one
// connection share a generated session id so the enricher can thread
// conversation history through the pipeline.
func (t *Transport) Serve(ctx context.Context) error {
	ctx = context.WithValue(ctx, ctxkey.SessionIDKey{}, ident.SessionID())

	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, initialLineBytes), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raw := append([]byte(nil), line...)
		if err := t.handleLine(ctx, raw); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("scan input: %w", err)
	}
	return ctx.Err()
}

// HandleOne runs a single payload and writes its result line. Used by the
// one-shot command.
func (t *Transport) HandleOne(ctx context.Context, raw []byte) error {
	ctx = context.WithValue(ctx, ctxkey.SessionIDKey{}, ident.SessionID())
	return t.handleLine(ctx, bytes.TrimSpace(raw))
}

func (t *Transport) handleLine(ctx context.Context, raw []byte) error {
	if cmd, ok := parseCommand(raw); ok {
		res, err := t.gateway.Approve(ctx, cmd.RequestID, cmd.ReviewerID, cmd.Decision, cmd.Modifications)
		if err != nil {
			t.logger.Warn("review command failed", "request_id", cmd.RequestID, "error", err)
			return t.writeError(err)
		}
		return t.writeResult(res)
	}

	res, err := t.gateway.Process(ctx, raw, "")
	if err != nil {
		t.logger.Warn("pipeline failed", "error", err)
		return t.writeError(err)
	}
	return t.writeResult(res)
}

// parseCommand reports whether the line is a control command.
func parseCommand(raw []byte) (*command, bool) {
	var cmd command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, false
	}
	if cmd.Toolgate != "approve" {
		return nil, false
	}
	return &cmd, true
}

func (t *Transport) writeResult(res *inbound.PipelineResult) error {
	resp := Response{Status: string(res.Status)}
	if res.Request != nil {
		resp.RequestID = res.Request.ID
		resp.Protocol = res.Request.Protocol
	}
	resp.Decision = res.Decision
	resp.Execution = res.Execution
	return t.writeLine(&resp)
}

func (t *Transport) writeError(err error) error {
	return t.writeLine(&Response{
		Status: "error",
		Error: &ResponseError{
			Code:    errorCode(err),
			Message: err.Error(),
		},
	})
}

func (t *Transport) writeLine(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(data); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if _, err := t.out.Write([]byte("\n")); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// errorCode maps pipeline errors to stable wire codes.
func errorCode(err error) string {
	var parseErr *protocol.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Code
	}
	var normErr *protocol.NormalizeError
	if errors.As(err, &normErr) {
		return normErr.Code
	}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	switch {
	case errors.Is(err, protocol.ErrUnsupportedProtocol):
		return "UNSUPPORTED_PROTOCOL"
	case errors.Is(err, protocol.ErrParse):
		return "PARSE_FAILED"
	case errors.Is(err, protocol.ErrNormalize):
		return "NORMALIZE_FAILED"
	case errors.Is(err, context.DeadlineExceeded):
		return "TIMEOUT"
	}
	return "INTERNAL"
}
