package llm

import "context"

// Client is the interface every oracle provider must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If onToken is non-nil,
	// text tokens are delivered to it as they arrive.
	ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, onToken TokenCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
