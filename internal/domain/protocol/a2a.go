package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// A2AAdapter handles agent-to-agent envelopes: sender and recipient agent
// ids wrapped around either a task to run or a message to relay.
type A2AAdapter struct{}

type a2aEnvelope struct {
	ID        string                 `json:"id"`
	Sender    string                 `json:"sender"`
	Recipient string                 `json:"recipient"`
	Task      *a2aTask               `json:"task,omitempty"`
	Message   *a2aMessage            `json:"message,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type a2aTask struct {
	Type   string                 `json:"type,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

type a2aMessage struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
}

var _ Adapter = (*A2AAdapter)(nil)

// Tag returns TagA2A.
func (a *A2AAdapter) Tag() Tag { return TagA2A }

// Parse requires id, sender and recipient; task and message are optional.
func (a *A2AAdapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var env a2aEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	for field, val := range map[string]string{"id": env.ID, "sender": env.Sender, "recipient": env.Recipient} {
		if val == "" {
			return nil, &ParseError{
				Code:    "MISSING_FIELD",
				Message: fmt.Sprintf("a2a envelope has no %s", field),
			}
		}
	}

	return &ParseOutcome{Protocol: TagA2A, Value: &env, RawBytes: len(raw)}, nil
}

// Normalize maps a task to action_execution and a message to either an
// information request or plain conversation.
func (a *A2AAdapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	env, ok := po.Value.(*a2aEnvelope)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry an a2a envelope"}
	}

	norm := &intent.NormalizedIntent{Target: env.Recipient}

	switch {
	case env.Task != nil:
		norm.Category = intent.CategoryActionExecution
		norm.Action = env.Task.Type
		if norm.Action == "" {
			norm.Action = "execute_task"
		}
		norm.Parameters = env.Task.Params
		norm.Confidence = 0.95

	case env.Message != nil:
		if env.Message.Type == "request" {
			norm.Category = intent.CategoryInformationRequest
			norm.Action = "answer_request"
			norm.Confidence = 0.90
		} else {
			norm.Category = intent.CategoryConversation
			norm.Action = "converse"
			norm.Confidence = 0.85
		}
		if env.Message.Content != "" {
			norm.Parameters = map[string]interface{}{"content": env.Message.Content}
		}

	default:
		norm.Category = intent.CategoryConversation
		norm.Action = "converse"
		norm.Confidence = 0.70
		norm.Alternatives = []intent.Alternative{
			{Action: "a2a_discovery", Confidence: 0.3, Reason: "envelope carries neither task nor message"},
		}
	}

	return &NormalizeOutcome{
		Intent:  norm,
		Context: intent.RequestContext{UserID: env.Sender},
	}, nil
}
