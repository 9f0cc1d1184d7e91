package protocol

import (
	"encoding/json"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// ACPAdapter handles agent communication protocol payloads: a typed header
// plus a free-form body.
type ACPAdapter struct{}

type acpEnvelope struct {
	Header *acpHeader             `json:"header"`
	Body   map[string]interface{} `json:"body"`
}

type acpHeader struct {
	MessageType string `json:"message_type,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

var _ Adapter = (*ACPAdapter)(nil)

// Tag returns TagACP.
func (a *ACPAdapter) Tag() Tag { return TagACP }

// Parse requires both header and body objects.
func (a *ACPAdapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var env acpEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	if env.Header == nil {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "acp envelope has no header"}
	}
	if env.Body == nil {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "acp envelope has no body"}
	}

	return &ParseOutcome{Protocol: TagACP, Value: &env, RawBytes: len(raw)}, nil
}

// Normalize switches on header.message_type. Commands execute, queries ask,
// anything else converses.
func (a *ACPAdapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	env, ok := po.Value.(*acpEnvelope)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry an acp envelope"}
	}

	norm := &intent.NormalizedIntent{}

	switch env.Header.MessageType {
	case "command":
		cmd := getString(env.Body, "command")
		if cmd == "" {
			return nil, &NormalizeError{Code: "MISSING_COMMAND", Message: "command message has no body.command"}
		}
		norm.Category = intent.CategoryActionExecution
		norm.Action = cmd
		norm.Target = getString(env.Body, "target")
		if args := getMap(env.Body, "args"); args != nil {
			norm.Parameters = args
		} else {
			norm.Parameters = env.Body
		}
		norm.Confidence = 0.95

	case "query":
		norm.Category = intent.CategoryInformationRequest
		norm.Action = getString(env.Body, "query")
		if norm.Action == "" {
			norm.Action = "query"
		}
		norm.Parameters = env.Body
		norm.Confidence = 0.90

	default:
		norm.Category = intent.CategoryConversation
		norm.Action = env.Header.MessageType
		if norm.Action == "" {
			norm.Action = "message"
		}
		norm.Parameters = env.Body
		norm.Confidence = 0.70
	}

	return &NormalizeOutcome{
		Intent: norm,
		Context: intent.RequestContext{
			SessionID: env.Header.SessionID,
			UserID:    env.Header.Sender,
		},
	}, nil
}
