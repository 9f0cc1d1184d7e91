package protocol

import (
	"encoding/json"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
)

// V2Adapter handles Anthropic-style messages payloads. Content blocks of
// type tool_use map to tool invocations.
type V2Adapter struct{}

type v2Request struct {
	Model     string      `json:"model"`
	Messages  []v2Message `json:"messages"`
	MaxTokens int         `json:"max_tokens"`
	System    interface{} `json:"system,omitempty"`
	Tools     []v2ToolDef `json:"tools,omitempty"`
	Metadata  *v2Metadata `json:"metadata,omitempty"`
}

type v2Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or array of blocks
}

type v2ToolDef struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"input_schema,omitempty"`
}

type v2Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

var _ Adapter = (*V2Adapter)(nil)

// Tag returns TagV2.
func (a *V2Adapter) Tag() Tag { return TagV2 }

// Parse requires model, a non-empty messages array and a positive
// max_tokens.
func (a *V2Adapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var req v2Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	if req.Model == "" {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "messages request has no model"}
	}
	if len(req.Messages) == 0 {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "messages request has no messages"}
	}
	if req.MaxTokens <= 0 {
		return nil, &ParseError{Code: "MISSING_FIELD", Message: "messages request has no max_tokens"}
	}

	return &ParseOutcome{Protocol: TagV2, Value: &req, RawBytes: len(raw)}, nil
}

// Normalize scans content blocks for tool_use; the first one found wins.
func (a *V2Adapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	req, ok := po.Value.(*v2Request)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry a v2 request"}
	}

	out := &NormalizeOutcome{}
	if req.Metadata != nil {
		out.Context.UserID = req.Metadata.UserID
	}

	for _, msg := range req.Messages {
		blocks, ok := msg.Content.([]interface{})
		if !ok {
			continue
		}
		for _, b := range blocks {
			block, ok := b.(map[string]interface{})
			if !ok || getString(block, "type") != "tool_use" {
				continue
			}
			name := getString(block, "name")
			if name == "" {
				return nil, &NormalizeError{Code: "MISSING_TOOL_NAME", Message: "tool_use block has no name"}
			}
			out.Intent = &intent.NormalizedIntent{
				Category:   intent.CategoryToolCall,
				Action:     name,
				Target:     "tool",
				Parameters: getMap(block, "input"),
				Confidence: 1.0,
			}
			return out, nil
		}
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
	if req.System != nil {
		norm.Alternatives = append(norm.Alternatives, intent.Alternative{
			Action: "guided_conversation", Confidence: 0.2, Reason: "system prompt present",
		})
	}

	out.Intent = norm
	return out, nil
}
