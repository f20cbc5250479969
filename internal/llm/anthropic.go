package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slyngg/adpilot/internal/config"
	"github.com/slyngg/adpilot/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. Responses can take
// significant time before headers arrive (long prompts, thinking), so
// the transport uses a generous response header timeout and no overall
// client timeout — ctx deadlines control cancellation.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		apiKey: apiKey,
		logger: logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

type anthropicContent struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"` // for tool_result
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SSE event types for streaming
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicContent  `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Chat sends a non-streaming chat completion request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	return c.ChatStream(ctx, model, messages, tools, nil)
}

// ChatStream sends a chat request, optionally streaming tokens via onToken.
func (c *AnthropicClient) ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, onToken TokenCallback) (*ChatResponse, error) {
	stream := onToken != nil

	anthropicMsgs, systemPrompt := convertToAnthropic(messages)

	req := anthropicRequest{
		Model:     model,
		Messages:  anthropicMsgs,
		System:    systemPrompt,
		MaxTokens: 4096,
		Stream:    stream,
		Tools:     convertToolsToAnthropic(tools),
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(anthropicMsgs),
		"tools", len(req.Tools),
		"stream", stream,
	)

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body)
	}
	return c.handleStreaming(ctx, resp.Body, onToken)
}

// Ping verifies the API key with a minimal one-token request; Anthropic
// has no dedicated health endpoint.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	req := anthropicRequest{
		Model:     "claude-haiku-3-20240307",
		Messages:  []anthropicMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status from Anthropic API: %d", resp.StatusCode)
	}
	return nil
}

func (c *AnthropicClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *AnthropicClient) handleNonStreaming(ctx context.Context, body io.Reader) (*ChatResponse, error) {
	var resp anthropicResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result := convertFromAnthropic(&resp)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

func (c *AnthropicClient) handleStreaming(ctx context.Context, body io.Reader, onToken TokenCallback) (*ChatResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		contentBuilder strings.Builder
		toolCalls      []ToolCall
		currentTool    *anthropicContent // in-progress tool_use block
		toolJSONBuf    strings.Builder
		usage          anthropicUsage
		model          string
	)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "event: <type>" followed by "data: <json>"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue // skip malformed events
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				model = event.Message.Model
				usage = event.Message.Usage
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				currentTool = event.ContentBlock
				toolJSONBuf.Reset()
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				contentBuilder.WriteString(event.Delta.Text)
				if onToken != nil {
					onToken(event.Delta.Text)
				}
			case "input_json_delta":
				toolJSONBuf.WriteString(event.Delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				var args map[string]any
				if toolJSONBuf.Len() > 0 {
					if err := json.Unmarshal([]byte(toolJSONBuf.String()), &args); err != nil {
						args = map[string]any{"_raw": toolJSONBuf.String()}
					}
				}
				toolCalls = append(toolCalls, ToolCall{
					ID:        currentTool.ID,
					Name:      currentTool.Name,
					Arguments: args,
				})
				currentTool = nil
			}

		case "message_delta":
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	resp := &ChatResponse{
		Model: model,
		Message: Message{
			Role:      "assistant",
			Content:   contentBuilder.String(),
			ToolCalls: toolCalls,
		},
		Done:         true,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}

	c.logger.Debug("stream complete",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"content_len", len(resp.Message.Content),
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, config.LevelTrace, "stream final content", "content", resp.Message.Content)

	return resp, nil
}

// convertToAnthropic converts internal messages to Anthropic format,
// extracting system messages into a separate system prompt.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemParts = append(systemParts, msg.Content)

		case "assistant":
			if len(msg.ToolCalls) == 0 {
				result = append(result, anthropicMessage{Role: "assistant", Content: msg.Content})
				continue
			}
			// Assistant message with tool calls → content blocks
			var blocks []anthropicContent
			if msg.Content != "" {
				blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
			}
			for i, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				id := tc.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%s_%d", tc.Name, i)
				}
				blocks = append(blocks, anthropicContent{
					Type:  "tool_use",
					ID:    id,
					Name:  tc.Name,
					Input: args,
				})
			}
			result = append(result, anthropicMessage{Role: "assistant", Content: blocks})

		case "tool":
			// Tool results travel back as user-role tool_result blocks.
			// Consecutive results from one round-trip are bundled into a
			// single message, preserving request order, so the provider
			// sees one result bundle per assistant tool_use turn.
			block := anthropicContent{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(result); n > 0 {
				if blocks, ok := result[n-1].Content.([]anthropicContent); ok && result[n-1].Role == "user" && len(blocks) > 0 && blocks[0].Type == "tool_result" {
					result[n-1].Content = append(blocks, block)
					continue
				}
			}
			result = append(result, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{block},
			})

		case "user":
			result = append(result, anthropicMessage{Role: "user", Content: msg.Content})
		}
	}

	return result, strings.Join(systemParts, "\n\n")
}

func convertToolsToAnthropic(tools []ToolDef) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		schema := any(t.InputSchema)
		if t.InputSchema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return result
}

// convertFromAnthropic converts an Anthropic response to our internal format.
func convertFromAnthropic(resp *anthropicResponse) *ChatResponse {
	var content string
	var toolCalls []ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return &ChatResponse{
		Model: resp.Model,
		Message: Message{
			Role:      resp.Role,
			Content:   content,
			ToolCalls: toolCalls,
		},
		Done:         true,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
