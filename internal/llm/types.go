// Package llm provides reasoning oracle client implementations.
package llm

import "time"

// Message represents a chat message exchanged with the oracle.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-result messages
}

// ToolCall is a structured tool request from the oracle. ID is the
// provider-assigned correlation id; results must echo it back so the
// oracle can match results to requests even when handlers complete
// out of order.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef describes one callable tool to the oracle.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// ChatResponse is the unified response from any oracle provider. Wire
// format conversion happens at provider boundaries (anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	InputTokens  int
	OutputTokens int
}

// TokenCallback receives incremental text tokens during streaming.
type TokenCallback func(token string)
