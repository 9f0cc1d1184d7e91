package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/pkg/mcp"
)

// MCPAdapter handles Model Context Protocol payloads: JSON-RPC 2.0 requests
// with methods like tools/call, resources/read and prompts/get.
type MCPAdapter struct{}

// mcpProbe is the minimal JSON-RPC shape checked before the full decode, so
// shape violations get precise codes instead of a generic decode failure.
type mcpProbe struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

var _ Adapter = (*MCPAdapter)(nil)

// Tag returns TagMCP.
func (a *MCPAdapter) Tag() Tag { return TagMCP }

// Parse validates the JSON-RPC 2.0 envelope and decodes it through the MCP
// codec.
func (a *MCPAdapter) Parse(raw []byte) (*ParseOutcome, error) {
	body, perr := jsonBody(raw)
	if perr != nil {
		return nil, perr
	}

	var probe mcpProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &ParseError{Code: "INVALID_JSON", Message: err.Error()}
	}
	if probe.JSONRPC != "2.0" {
		return nil, &ParseError{
			Code:    "UNSUPPORTED_JSONRPC_VERSION",
			Message: fmt.Sprintf("jsonrpc version %q, want 2.0", probe.JSONRPC),
		}
	}
	if probe.Method == "" {
		return nil, &ParseError{Code: "MISSING_METHOD", Message: "request has no method"}
	}

	msg, err := mcp.WrapMessage(body)
	if err != nil {
		return nil, &ParseError{Code: "INVALID_JSONRPC", Message: err.Error()}
	}

	return &ParseOutcome{Protocol: TagMCP, Value: msg, RawBytes: len(raw)}, nil
}

// Normalize maps the decoded JSON-RPC request onto an intent. tools/call
// maps with full confidence; resource and prompt reads map to retrieval
// categories; everything else is treated as conversation.
func (a *MCPAdapter) Normalize(po *ParseOutcome) (*NormalizeOutcome, error) {
	msg, ok := po.Value.(*mcp.Message)
	if !ok {
		return nil, &NormalizeError{Code: "INTERNAL", Message: "parse outcome does not carry an mcp message"}
	}

	norm := &intent.NormalizedIntent{}
	params := msg.ParseParams()

	switch msg.Method() {
	case "tools/call":
		name := getString(params, "name")
		if name == "" {
			return nil, &NormalizeError{Code: "MISSING_TOOL_NAME", Message: "tools/call params have no name"}
		}
		norm.Category = intent.CategoryToolCall
		norm.Action = name
		norm.Target = "tool"
		norm.Parameters = getMap(params, "arguments")
		norm.Confidence = 1.0

	case "resources/read":
		uri := getString(params, "uri")
		norm.Category = intent.CategoryDataRetrieval
		norm.Action = "read_resource"
		norm.Target = uri
		if uri != "" {
			norm.Parameters = map[string]interface{}{"uri": uri}
		}
		norm.Confidence = 0.95

	case "prompts/get":
		norm.Category = intent.CategoryInformationRequest
		norm.Action = "get_prompt"
		norm.Target = getString(params, "name")
		norm.Parameters = getMap(params, "arguments")
		norm.Confidence = 0.95

	default:
		norm.Category = intent.CategoryConversation
		norm.Action = msg.Method()
		norm.Confidence = 0.70
		norm.Alternatives = []intent.Alternative{
			{Action: "help", Confidence: 0.2, Reason: "unrecognized method"},
		}
	}

	return &NormalizeOutcome{Intent: norm}, nil
}
