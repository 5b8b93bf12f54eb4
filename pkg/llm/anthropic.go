package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chrisyu/mcphost/pkg/httpclient"
)

// AnthropicConfig configures an Anthropic Messages API client.
type AnthropicConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// AnthropicOption customizes an AnthropicConfig.
type AnthropicOption func(*AnthropicConfig)

func WithAnthropicModel(model string) AnthropicOption { return func(c *AnthropicConfig) { c.Model = model } }

// AnthropicClient calls the `/messages` surface: the system prompt is a top
// level field (extracted out of the message list), and tool_use content
// blocks become tool calls.
type AnthropicClient struct {
	cfg    AnthropicConfig
	client *httpclient.Client
}

// NewAnthropic constructs a client with x-api-key auth.
func NewAnthropic(apiKey string, opts ...AnthropicOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: anthropic requires an API key")
	}
	cfg := AnthropicConfig{
		APIKey:     apiKey,
		Model:      "claude-sonnet-4-20250514",
		BaseURL:    "https://api.anthropic.com/v1",
		Timeout:    120 * time.Second,
		MaxRetries: 5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &AnthropicClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string                `json:"role"`
	Content []anthropicContentBlk `json:"content"`
}

type anthropicContentBlk struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlk `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		StopSeqs:    req.Stop,
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContentBlk{{Type: "text", Text: m.Content}},
		})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapHTTPError("anthropic", err)
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode anthropic response: %w", err)
	}

	var textParts string
	var toolCalls []ToolCall
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			textParts += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}

	return &Response{
		Content:      textParts,
		ToolCalls:    toolCalls,
		FinishReason: mapAnthropicStopReason(parsed.StopReason),
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

func mapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishMaxTokens
	case "stop_sequence":
		return FinishStopSequence
	case "end_turn":
		return FinishStop
	default:
		return FinishStop
	}
}
