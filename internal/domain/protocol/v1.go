package protocol

import (
	"encoding/json"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// V1Adapter handles OpenAI-style chat completion payloads. Assistant
// messages carrying tool_calls map to tool invocations; everything else is
// conversation.
type V1Adapter struct{}

type v1Request struct {
	Model       string      `json:"model"`
	Messages    []v1Message `json:"messages"`
	Tools       []v1ToolDef `json:"tools,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	User        string      `json:"user,omitempty"`
}

type v1Message struct {
	Role      string       `json:"role"`
	Content   interface{}  `json:"content,omitempty"`
	ToolCalls []v1ToolCall `json:"tool_calls,omitempty"`
}

type v1ToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON string
	} `json:"function"`
}

type v1ToolDef struct {
	Type     string `json:"type,omitempty"`
	Function struct {
		Name        string      `json:"name"`
		Description string      `json:"description,omitempty"`
		Parameters  interface{} `json:"parameters,omitempty"`
	} `json:"function"`
}

var _ Adapter = (*V1Adapter)(nil)

// Tag returns TagV1.
func (a *V1Adapter) Tag() Tag { return TagV1 }

// Parse requires model and a non-empty messages array.
func (a *V1Adapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var req v1Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	if req.Model == "" {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "chat request has no model"}
	}
	if len(req.Messages) == 0 {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "chat request has no messages"}
	}

	return &ParseOutcome{Protocol: TagV1, Value: &req, RawBytes: len(raw)}, nil
}

// Normalize scans for an assistant tool call; the first one found wins.
func (a *V1Adapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	req, ok := po.Value.(*v1Request)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry a v1 request"}
	}

	out := &NormalizeOutcome{
		Context: intent.RequestContext{UserID: req.User},
	}

	for _, msg := range req.Messages {
		if msg.Role != "assistant" || len(msg.ToolCalls) == 0 {
			continue
		}
		tc := msg.ToolCalls[0]
		if tc.Function.Name == "" {
			return nil, &NormalizeError{Code: "MISSING_TOOL_NAME", Message: "tool call has no function name"}
		}
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &NormalizeError{Code: "INVALID_TOOL_ARGUMENTS", Message: err.Error()}
			}
		}
		out.Intent = &intent.NormalizedIntent{
			Category:   intent.CategoryToolCall,
			Action:     tc.Function.Name,
			Target:     "tool",
			Parameters: args,
			Confidence: 1.0,
		}
		return out, nil
	}

	norm := &intent.NormalizedIntent{
		Category:   intent.CategoryConversation,
		Action:     "chat_completion",
		Target:     req.Model,
		Confidence: 0.70,
	}
	if len(req.Tools) > 0 {
		norm.Alternatives = append(norm.Alternatives, intent.Alternative{
			Action: "tool_call", Confidence: 0.4, Reason: "tools offered in request",
		})
	}
	if req.Temperature != nil && *req.Temperature < 0.3 {
		norm.Alternatives = append(norm.Alternatives, intent.Alternative{
			Action: "deterministic_completion", Confidence: 0.2, Reason: "low temperature",
		})
	}
	if prompt := lastUserText(req.Messages); prompt != "" {
		norm.Parameters = map[string]interface{}{"prompt": prompt}
	}

	out.Intent = norm
	return out, nil
}

// lastUserText returns the content of the most recent user message when it
// is a plain string.
func lastUserText(messages []v1Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		if s, ok := messages[i].Content.(string); ok {
			return s
		}
		return ""
	}
	return ""
}
