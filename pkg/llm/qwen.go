package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chrisyu/mcphost/pkg/httpclient"
)

// QwenConfig configures a Qwen client, local or hosted (DashScope).
type QwenConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// QwenClient is OpenAI-compatible, but disables function-calling when the
// base URL doesn't look like a hosted DashScope/Aliyun endpoint — a local
// deployment's OpenAI-compatible shim frequently doesn't implement tool use.
type QwenClient struct {
	cfg    QwenConfig
	client *httpclient.Client
}

// NewQwen constructs a client. A local deployment requires a Model header
// since many local servers route purely on that header rather than path.
func NewQwen(apiKey string, opts ...func(*QwenConfig)) (*QwenClient, error) {
	cfg := QwenConfig{
		Model:   "qwen-plus",
		BaseURL: "http://localhost:8000/v1",
		Timeout: 120 * time.Second,
	}
	cfg.APIKey = apiKey
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := []httpclient.Option{httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})}
	if isHostedDashscope(cfg.BaseURL) {
		// DashScope's OpenAI-compatible mode mirrors OpenAI's rate-limit
		// header shape; a local deployment has no such headers to parse.
		clientOpts = append(clientOpts, httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders))
	}
	return &QwenClient{
		cfg:    cfg,
		client: httpclient.New(clientOpts...),
	}, nil
}

func WithQwenModel(model string) func(*QwenConfig)   { return func(c *QwenConfig) { c.Model = model } }
func WithQwenBaseURL(url string) func(*QwenConfig)    { return func(c *QwenConfig) { c.BaseURL = url } }

// isHostedDashscope reports whether the base URL identifies a hosted
// DashScope/Aliyun deployment rather than a local one.
func isHostedDashscope(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	return strings.Contains(lower, "dashscope") || strings.Contains(lower, "aliyun")
}

// Complete implements Provider.
func (c *QwenClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if !isHostedDashscope(c.cfg.BaseURL) {
		// Local deployments don't reliably support function-calling; drop
		// any tools rather than send a request the server can't honor.
		req.Tools = nil
	}

	body := buildChatRequest(c.cfg.Model, req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode qwen request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Model", c.cfg.Model)
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, wrapHTTPError("qwen", err)
	}
	defer resp.Body.Close()

	var parsed chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: decode qwen response: %w", err)
	}
	return toResponse(parsed)
}
