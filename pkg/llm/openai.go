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

// OpenAIConfig configures an OpenAI-compatible client. Zhipu and Qwen have
// their own config types but reuse this file's chat-completions wire types;
// Ollama has its own.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// OpenAIOption customizes an OpenAIConfig.
type OpenAIOption func(*OpenAIConfig)

func WithOpenAIModel(model string) OpenAIOption    { return func(c *OpenAIConfig) { c.Model = model } }
func WithOpenAIBaseURL(url string) OpenAIOption     { return func(c *OpenAIConfig) { c.BaseURL = url } }
func WithOpenAITimeout(d time.Duration) OpenAIOption { return func(c *OpenAIConfig) { c.Timeout = d } }

// OpenAIClient calls the classic `/chat/completions` surface: tool-call
// arguments arrive as a JSON-encoded string the caller must parse.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *httpclient.Client
}

// NewOpenAI constructs a client with this package's defaults: base URL
// api.openai.com/v1, model gpt-4o, 120s timeout, 5 retries.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: openai requires an API key")
	}
	cfg := OpenAIConfig{
		APIKey:     apiKey,
		Model:      "gpt-4o",
		BaseURL:    "https://api.openai.com/v1",
		Timeout:    120 * time.Second,
		MaxRetries: 5,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAIClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}, nil
}

type chatCompletionsRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Tools       []chatTool      `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements Provider.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body := buildChatRequest(c.cfg.Model, req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapHTTPError("openai", err)
	}
	defer resp.Body.Close()

	var parsed chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode openai response: %w", err)
	}
	return toResponse(parsed)
}

func buildChatRequest(model string, req Request) chatCompletionsRequest {
	messages := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	out := chatCompletionsRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if len(req.Tools) > 0 {
		out.ToolChoice = "auto"
		for _, t := range req.Tools {
			out.Tools = append(out.Tools, chatTool{
				Type: "function",
				Function: chatFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
	}
	return out
}

func toResponse(parsed chatCompletionsResponse) (*Response, error) {
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: no choices in response")
	}
	choice := parsed.Choices[0]

	var toolCalls []ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("llm: tool_call arguments not valid JSON: %w", err)
			}
		}
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason, len(toolCalls) > 0),
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func mapOpenAIFinishReason(reason string, hasToolCalls bool) FinishReason {
	switch reason {
	case "tool_calls":
		return FinishToolCalls
	case "length":
		return FinishMaxTokens
	case "stop":
		if hasToolCalls {
			return FinishToolCalls
		}
		return FinishStop
	default:
		return FinishStop
	}
}
