// Package pipeline runs normalized requests through ordered processing
// stages: session enrichment before routing, risk classification after
// routing, and output scanning after execution. Stages may annotate the
// state with security alerts; the gateway turns those into audit entries.
package pipeline

import (
	"context"

	"github.com/Tool-Gate/Toolgate/internal/domain/audit"
	"github.com/Tool-Gate/Toolgate/internal/domain/credential"
	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/routing"
	"github.com/Tool-Gate/Toolgate/internal/domain/sandbox"
)

// Alert is a security finding raised by a stage.
type Alert struct {
	// Summary is the one-line finding.
	Summary string
	// Severity grades the finding.
	Severity audit.Severity
	// Details carries finding-specific context.
	Details map[string]interface{}
}

// State carries one request through the stages. Enrichment stages complete
// the request's construction; after the pre-routing chain finishes the
// request is immutable.
type State struct {
	// Request is the normalized request being processed.
	Request *intent.NormalizedRequest
	// Decision is the routing decision, nil before routing.
	Decision *routing.Decision
	// Secrets are the credentials resolved for the selected tool.
	Secrets []credential.Secret
	// Execution is the sandbox result, nil before execution.
	Execution *sandbox.ExecutionResult
	// Alerts accumulates security findings across stages.
	Alerts []Alert
}

// AddAlert appends one finding to the state.
func (s *State) AddAlert(a Alert) {
	s.Alerts = append(s.Alerts, a)
}

// Stage is one processing step. Returning an error aborts the chain and
// fails the request.
type Stage interface {
	// Name identifies the stage in logs and audit details.
	Name() string
	// Process inspects and annotates the state.
	Process(ctx context.Context, st *State) error
}

// StageFunc adapts an ordinary function into a named Stage.
type StageFunc struct {
	// StageName is returned by Name.
	StageName string
	// Fn is invoked by Process.
	Fn func(ctx context.Context, st *State) error
}

// Name returns the stage name.
func (f StageFunc) Name() string {
	return f.StageName
}

// Process calls the wrapped function.
func (f StageFunc) Process(ctx context.Context, st *State) error {
	return f.Fn(ctx, st)
}

// Compile-time check that StageFunc implements Stage.
var _ Stage = StageFunc{}
