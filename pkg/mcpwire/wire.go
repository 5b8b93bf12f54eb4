// Package mcpwire defines the JSON-RPC 2.0 envelope and MCP protocol
// constants shared by the stdio and SSE session managers.
package mcpwire

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// ProtocolVersion is the MCP protocol version this host negotiates during
// initialize.
const ProtocolVersion = "2024-11-05"

// ClientName/ClientVersion identify this host to MCP servers during the
// initialize handshake.
const (
	ClientName    = "mcphost"
	ClientVersion = "1.0.0"
)

// Standard JSON-RPC error codes, plus the MCP-specific -32001 the sampling
// service uses for "request accepted, pending human review."
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNeedsReview    = -32001
)

// Request is an outbound or inbound JSON-RPC request/notification. ID is nil
// for notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response envelope: exactly one of Result/Error is
// populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// NewRequest builds a request envelope with the standard jsonrpc version.
func NewRequest(id any, method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// IsNotification reports whether r carries no ID (a one-way notification).
func (r *Request) IsNotification() bool { return r.ID == nil }

// InitializeParams is the outbound params for the "initialize" method.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      ClientInfo     `json:"clientInfo"`
}

// ClientInfo identifies this host.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDescriptor is an MCP tool's advertised shape, as returned by
// tools/list and aggregated by pkg/toolcatalog.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// NormalizeInputSchema decodes a server-advertised input schema through
// mcp-go's canonical mcp.ToolInputSchema before handing it back out as a
// plain map, the same shape convertSchema produces for a stdio-fetched
// mcp.Tool. A schema that doesn't round-trip through the real MCP tool
// schema type is treated as absent rather than passed through untyped.
func NormalizeInputSchema(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var schema mcp.ToolInputSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil
	}
	out, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(out, &result); err != nil {
		return nil
	}
	return result
}

// ToolCallParams is the params for a tools/call request.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ContentBlock is a single piece of MCP content (text, for this host).
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallResult is the result payload of a tools/call response.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextBlocks returns the text of every "text"-typed content block, passed
// through mcp-go's mcp.TextContent. Blocks of any other type are skipped;
// a text block's Text is returned as is, empty or not.
func (r *ToolCallResult) TextBlocks() []string {
	var out []string
	for _, block := range r.Content {
		if block.Type != "text" {
			continue
		}
		tc := mcp.TextContent{Type: block.Type, Text: block.Text}
		out = append(out, tc.Text)
	}
	return out
}

// SamplingCreateMessageParams is the params a server sends for the
// server-initiated sampling/createMessage request.
type SamplingCreateMessageParams struct {
	Messages         []SamplingMessage `json:"messages"`
	ModelPreferences map[string]any    `json:"modelPreferences,omitempty"`
	SystemPrompt     string            `json:"systemPrompt,omitempty"`
	MaxTokens        int               `json:"maxTokens"`
}

// SamplingMessage is one message in a sampling request.
type SamplingMessage struct {
	Role    string `json:"role"`
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// SamplingCreateMessageResult is the result returned for an approved/
// auto-approved sampling request.
type SamplingCreateMessageResult struct {
	Role       string `json:"role"`
	Content    any    `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stopReason,omitempty"`
}

// RootsListResult is the result of a roots/list request a server issues.
type RootsListResult struct {
	Roots []RootDescriptor `json:"roots"`
}

// RootDescriptor is one root as advertised over the wire (file:// URI).
type RootDescriptor struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}
