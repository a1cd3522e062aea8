// Package mcpserver implements an MCP protocol adapter: JSON-RPC 2.0 over
// stdio, exposing a fixed tool and resource catalog that translates into
// CommandRouter calls. Hand-rolled rather than built on mark3labs/mcp-go,
// since that library's server package has no Resources registration API
// and drone://status/{drone_id} and system://status are both required
// surfaces.
package mcpserver

import "encoding/json"

// Request is a JSON-RPC 2.0 request envelope, decoded rather than
// constructed here — this side only ever reads requests off the wire.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error response's code, message and data.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes for MCP tool/resource failures.
const (
	ErrCodeValidation = -32001
	ErrCodeState       = -32002
	ErrCodeSafety      = -32003
	ErrCodeTransport   = -32004
	ErrCodeInternal    = -32005
	ErrCodeParse       = -32700
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
)

// ProtocolVersion is advertised in the initialize response.
const ProtocolVersion = "2024-11-05"

// ToolDescriptor is one entry in the static tools/list catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ResourceDescriptor is one entry in the static resources/list catalog.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ToolContent is one element of a tool call result's content array:
// {type: "text", text: ...}.
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult wraps a tool call's content array.
type ToolCallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// ResourceContent is one element of a resource read result.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ResourceReadResult wraps a resource read's contents array.
type ResourceReadResult struct {
	Contents []ResourceContent `json:"contents"`
}
