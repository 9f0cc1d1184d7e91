package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Tool-Gate/Toolgate/internal/clock"
	"github.com/Tool-Gate/Toolgate/internal/ctxkey"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/ident"
	"github.com/Tool-Gate/Toolgate/internal/telemetry"
)

const (
	// DefaultMaxPayloadBytes caps inbound payload size before any parse.
	DefaultMaxPayloadBytes = 10 << 20
	// DefaultBudget is the per-call parse+normalize latency budget.
	DefaultBudget = 5 * time.Millisecond
)

// Dispatcher owns the adapter set. It detects which protocol a payload
// speaks and converts payloads into normalized requests.
type Dispatcher struct {
	adapters map[Tag]Adapter
	order    []Tag
	clk      clock.Clock
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	budget   time.Duration
	maxBytes int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the clock used for durations and request timestamps.
func WithClock(clk clock.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		if clk != nil {
			d.clk = clk
		}
	}
}

// WithMetrics wires the shared metric set into the dispatcher.
func WithMetrics(m *telemetry.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBudget overrides the parse+normalize latency budget.
func WithBudget(budget time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if budget > 0 {
			d.budget = budget
		}
	}
}

// WithMaxPayloadBytes overrides the inbound payload size cap.
func WithMaxPayloadBytes(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// NewDispatcher builds a dispatcher with all six protocol adapters
// registered in detection order.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[Tag]Adapter),
		order:    DetectionOrder(),
		clk:      clock.System(),
		logger:   slog.Default(),
		budget:   DefaultBudget,
		maxBytes: DefaultMaxPayloadBytes,
	}
	for _, a := range []Adapter{
		&MCPAdapter{},
		&A2AAdapter{},
		&UCPAdapter{},
		&ACPAdapter{},
		&V1Adapter{},
		&V2Adapter{},
	} {
		d.adapters[a.Tag()] = a
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectProtocol runs each adapter's parse in detection order and returns
// the tag of the first that succeeds. Oversized payloads never match.
func (d *Dispatcher) DetectProtocol(raw []byte) (Tag, bool) {
	if len(raw) > d.maxBytes {
		return "", false
	}
	for _, tag := range d.order {
		if _, err := d.adapters[tag].Parse(raw); err == nil {
			return tag, true
		}
	}
	return "", false
}

// Convert parses raw as the given protocol and assembles the normalized
// request. The trace id is taken from the context when present, otherwise
// from the active span, otherwise generated.
func (d *Dispatcher) Convert(ctx context.Context, raw []byte, tag Tag) (*intent.NormalizedRequest, error) {
	adapter, ok := d.adapters[tag]
	if !ok {
		return nil, &UnsupportedProtocolError{Protocol: string(tag)}
	}
	if len(raw) > d.maxBytes {
		return nil, &ParseError{
			Code:    "PAYLOAD_TOO_LARGE",
			Message: fmt.Sprintf("payload is %d bytes, limit %d", len(raw), d.maxBytes),
		}
	}

	parseStart := d.clk.Now()
	po, err := adapter.Parse(raw)
	if err != nil {
		return nil, err
	}
	parseDur := d.clk.Since(parseStart)

	normStart := d.clk.Now()
	no, err := adapter.Normalize(po)
	if err != nil {
		return nil, err
	}
	no.ParseDuration = parseDur
	no.NormalizeDuration = d.clk.Since(normStart)

	if total := no.ParseDuration + no.NormalizeDuration; total > d.budget {
		d.logger.Warn("adapter exceeded latency budget",
			"protocol", tag,
			"took", total,
			"budget", d.budget)
		if d.metrics != nil {
			d.metrics.AdapterBudgetOverruns.Inc()
		}
	}

	no.Intent.ID = ident.IntentID()

	req := &intent.NormalizedRequest{
		ID:        ident.RequestID(),
		CreatedAt: d.clk.Now(),
		Protocol:  tag.String(),
		Raw:       raw,
		Intent:    no.Intent,
		Context:   no.Context,
		Metadata:  no.Metadata,
	}
	req.Metadata.TraceID = traceIDFrom(ctx)
	if sid, ok := ctx.Value(ctxkey.SessionIDKey{}).(string); ok && sid != "" && req.Context.SessionID == "" {
		req.Context.SessionID = sid
	}
	return req, nil
}

// traceIDFrom resolves the trace id for a request: explicit context value
// first, then the active otel span, then a fresh id.
func traceIDFrom(ctx context.Context) string {
	if tid, ok := ctx.Value(ctxkey.TraceIDKey{}).(string); ok && tid != "" {
		return tid
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ident.TraceID()
}
