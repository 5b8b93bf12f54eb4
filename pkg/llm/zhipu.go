package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chrisyu/mcphost/pkg/ratelimit"
)

// ZhipuConfig configures the Zhipu client.
type ZhipuConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// zhipuSemaphore is process-wide: Zhipu's surface tolerates only one
// in-flight call at a time across the whole host, not per-client, since the
// vendor's own rate limiting is shared across API keys issued to one org.
var zhipuSemaphore = semaphore.NewWeighted(1)

// ZhipuClient is an OpenAI-compatible client with Zhipu's stricter
// safeguards: a process-wide concurrency-1 semaphore, a minimum 6s
// inter-call interval, and a ≤8-calls/60s sliding window, plus bespoke
// 429 retry/backoff (Retry-After if present, else 5s, 10s, 20s; 3 attempts).
// This dialect talks to the raw *http.Client directly rather than going
// through pkg/httpclient's generic retrier: the generic retrier resets its
// backoff state per call, which can't express Zhipu's own escalating
// 5/10/20s sequence layered on top of the inter-call spacing below.
type ZhipuClient struct {
	cfg    ZhipuConfig
	http   *http.Client
	window *ratelimit.Window

	mu       sync.Mutex
	lastCall time.Time
}

// NewZhipu constructs a Zhipu client.
func NewZhipu(apiKey string, opts ...func(*ZhipuConfig)) (*ZhipuClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: zhipu requires an API key")
	}
	cfg := ZhipuConfig{
		APIKey:  apiKey,
		Model:   "glm-4",
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Timeout: 120 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ZhipuClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		window: ratelimit.NewWindow(60*time.Second, 8),
	}, nil
}

func WithZhipuModel(model string) func(*ZhipuConfig) { return func(c *ZhipuConfig) { c.Model = model } }

const minInterCallInterval = 6 * time.Second

// Complete implements Provider.
func (c *ZhipuClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := zhipuSemaphore.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("llm: zhipu semaphore: %w", err)
	}
	defer zhipuSemaphore.Release(1)

	if err := c.waitForSlot(ctx); err != nil {
		return nil, err
	}
	if !c.window.AllowAndRecord("zhipu") {
		return nil, fmt.Errorf("llm: zhipu sliding-window rate limit exceeded (8/60s)")
	}

	backoff := 5 * time.Second
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		resp, retryAfter, rateLimited, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !rateLimited {
			return nil, err
		}
		wait := retryAfter
		if wait <= 0 {
			wait = backoff
		}
		backoff *= 2
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (c *ZhipuClient) waitForSlot(ctx context.Context) error {
	c.mu.Lock()
	elapsed := time.Since(c.lastCall)
	var wait time.Duration
	if !c.lastCall.IsZero() && elapsed < minInterCallInterval {
		wait = minInterCallInterval - elapsed
	}
	c.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// doOnce performs a single HTTP attempt. rateLimited reports whether the
// response was a 429, independent of whether retryAfter could be parsed
// from a Retry-After header — a 429 with no header still means "back off",
// it just leaves the caller to pick its own exponential fallback rather
// than a genuine non-429 failure, which is not retryable at all.
func (c *ZhipuClient) doOnce(ctx context.Context, req Request) (resp *Response, retryAfter time.Duration, rateLimited bool, err error) {
	c.mu.Lock()
	c.lastCall = time.Now()
	c.mu.Unlock()

	body := buildChatRequest(c.cfg.Model, req)
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, 0, false, fmt.Errorf("llm: encode zhipu request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, 0, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, false, fmt.Errorf("llm: zhipu request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusTooManyRequests {
		var wait time.Duration
		if ra := httpResp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, wait, true, fmt.Errorf("llm: zhipu rate limited (429)")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, 0, false, fmt.Errorf("llm: zhipu HTTP %d", httpResp.StatusCode)
	}

	var parsed chatCompletionsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, 0, false, fmt.Errorf("llm: decode zhipu response: %w", err)
	}
	result, err := toResponse(parsed)
	return result, 0, false, err
}
