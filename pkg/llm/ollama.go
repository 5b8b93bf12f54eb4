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

// OllamaConfig configures a local Ollama `/api/chat` client.
type OllamaConfig struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OllamaClient calls Ollama's `/api/chat` surface, unauthenticated, with
// stream:false and OpenAI-shaped tool support.
type OllamaClient struct {
	cfg    OllamaConfig
	client *httpclient.Client
}

// NewOllama constructs a client pointed at a local Ollama daemon by default.
func NewOllama(opts ...func(*OllamaConfig)) *OllamaClient {
	cfg := OllamaConfig{Model: "llama3.1", BaseURL: "http://localhost:11434", Timeout: 120 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OllamaClient{
		cfg:    cfg,
		client: httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})),
	}
}

func WithOllamaModel(model string) func(*OllamaConfig) { return func(c *OllamaConfig) { c.Model = model } }
func WithOllamaBaseURL(url string) func(*OllamaConfig)  { return func(c *OllamaConfig) { c.BaseURL = url } }

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature,omitempty"`
	} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Complete implements Provider.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body := ollamaRequest{Model: c.cfg.Model, Stream: false}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID})
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, chatTool{Type: "function", Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}
	body.Options.Temperature = req.Temperature

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapHTTPError("ollama", err)
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode ollama response: %w", err)
	}

	var toolCalls []ToolCall
	for _, tc := range parsed.Message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	finish := FinishStop
	if len(toolCalls) > 0 {
		finish = FinishToolCalls
	}

	return &Response{
		Content:      parsed.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: finish,
	}, nil
}
