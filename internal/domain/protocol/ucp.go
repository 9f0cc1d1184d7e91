package protocol

import (
	"encoding/json"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// UCPAdapter handles universal context protocol payloads: a context id plus
// an operation verb against an optional resource.
type UCPAdapter struct{}

type ucpPayload struct {
	ContextID string                 `json:"context_id"`
	Operation string                 `json:"operation"`
	Resource  string                 `json:"resource,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

var _ Adapter = (*UCPAdapter)(nil)

// Tag returns TagUCP.
func (a *UCPAdapter) Tag() Tag { return TagUCP }

// Parse requires context_id and operation.
func (a *UCPAdapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var p ucpPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	if p.ContextID == "" {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "ucp payload has no context_id"}
	}
	if p.Operation == "" {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "ucp payload has no operation"}
	}

	return &ParseOutcome{Protocol: TagUCP, Value: &p, RawBytes: len(raw)}, nil
}

// Normalize maps the operation verb onto a category. Unknown verbs fall back
// to conversation.
func (a *UCPAdapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	p, ok := po.Value.(*ucpPayload)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry a ucp payload"}
	}

	norm := &intent.NormalizedIntent{
		Action:     p.Operation,
		Target:     p.Resource,
		Parameters: p.Data,
	}

	switch p.Operation {
	case "read":
		norm.Category = intent.CategoryDataRetrieval
		norm.Confidence = 0.95
	case "write", "update", "delete":
		norm.Category = intent.CategoryActionExecution
		norm.Confidence = 0.95
	case "query", "search":
		norm.Category = intent.CategoryInformationRequest
		norm.Confidence = 0.90
	case "analyze":
		norm.Category = intent.CategoryAnalysis
		norm.Confidence = 0.90
	case "generate":
		norm.Category = intent.CategoryCodeGeneration
		norm.Confidence = 0.90
	default:
		norm.Category = intent.CategoryConversation
		norm.Confidence = 0.70
	}

	return &NormalizeOutcome{
		Intent:  norm,
		Context: intent.RequestContext{SessionID: p.ContextID},
	}, nil
}
