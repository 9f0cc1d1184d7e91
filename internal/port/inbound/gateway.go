// Package inbound defines the inbound port of the gateway core. Inbound
// adapters (stdio, the HTTP front door) call these interfaces.
package inbound

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/protocol"
	"github.com/Tool-Gate/Toolgate/internal/domain/routing"
	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
)

// ResultStatus describes how a pipeline run ended.
type ResultStatus string

const (
	// StatusExecuted means the selected tool ran to completion.
	StatusExecuted ResultStatus = "executed"
	// StatusPendingApproval means the request is parked at the approval gate.
	StatusPendingApproval ResultStatus = "pending_approval"
	// StatusRejected means a reviewer rejected the parked request.
	StatusRejected ResultStatus = "rejected"
)

// PipelineResult is the gateway's answer for one raw payload.
type PipelineResult struct {
	// Status describes how the run ended.
	Status ResultStatus `json:"status"`
	// Request is the normalized request the adapters produced.
	Request *intent.NormalizedRequest `json:"request"`
	// Decision is the routing decision, nil when routing failed.
	Decision *routing.Decision `json:"decision,omitempty"`
	// Execution is the sandbox result; nil when not executed.
	Execution *sandbox.ExecutionResult `json:"execution,omitempty"`
}

// Gateway is the single entry point of the request pipeline.
type Gateway interface {
	// DetectProtocol reports which protocol the payload speaks, if any.
	DetectProtocol(raw []byte) (protocol.Tag, bool)

	// Convert normalizes a protocol-tagged payload without executing it.
	Convert(ctx context.Context, raw []byte, tag protocol.Tag) (*intent.NormalizedRequest, error)

	// Process runs the full pipeline: convert, route, resolve credentials,
	// execute, audit. A decision that requires approval parks the request
	// and returns StatusPendingApproval without executing.
	Process(ctx context.Context, raw []byte, tag protocol.Tag) (*PipelineResult, error)

	// Approve resumes one parked request after a reviewer decision. For a
	// modified decision, modifications override the request's intent
	// parameters before execution; they are ignored otherwise.
	Approve(ctx context.Context, requestID, reviewerID string, review audit.ReviewDecision, modifications map[string]interface{}) (*PipelineResult, error)
}
