// Package llm implements the uniform complete() operation across
// five vendor dialects: OpenAI-compatible, Anthropic, Ollama, Zhipu and
// Qwen-local. Each dialect is built on this codebase's shared httpclient-based
// provider clients, exposing one non-streaming complete() contract.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/chrisyu/mcphost/pkg/httpclient"
)

// FinishReason is the uniform reason a completion stopped.
type FinishReason string

const (
	FinishStop         FinishReason = "stop"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishToolCalls    FinishReason = "tool_calls"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishError        FinishReason = "error"
)

// Message is one chat-history entry.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCallID string     // set on role=="tool"
	ToolName   string
	ToolCalls  []ToolCall // set on role=="assistant" when the model requested tool calls
}

// ToolSpec describes a callable tool advertised to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage reports token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Request is the uniform input to complete().
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Response is the uniform output of complete().
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// Provider completes one request against a specific vendor dialect.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Backend dispatches complete() calls to a named provider, so callers (the
// ReAct engine, the sampling service) don't need to know which dialect is
// behind a given provider name.
type Backend interface {
	Complete(ctx context.Context, provider string, req Request) (*Response, error)
}

// wrapHTTPError normalizes a failed httpclient.Client.Do call into the
// host's typed error taxonomy when it is an httpclient.RetryableError, and
// otherwise falls back to a plain wrapped error (transport failures,
// non-retryable HTTP statuses, and other errors Client.Do returns as is).
func wrapHTTPError(dialect string, err error) error {
	var retryErr *httpclient.RetryableError
	if errors.As(err, &retryErr) {
		return retryErr.AsHerror()
	}
	return fmt.Errorf("llm: %s request failed: %w", dialect, err)
}

// ErrUnknownProvider is returned when a registry has no provider under the
// requested name.
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Registry is a Backend implementation that looks providers up by name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

// NewRegistry builds an empty registry. fallback names the provider used
// when a caller passes an empty provider name.
func NewRegistry(fallback string) *Registry {
	return &Registry{providers: make(map[string]Provider), fallback: fallback}
}

// Register adds a provider under name.
func (r *Registry) Register(name string, p Provider) {
	r.providers[name] = p
}

// Complete implements Backend.
func (r *Registry) Complete(ctx context.Context, provider string, req Request) (*Response, error) {
	if provider == "" {
		provider = r.fallback
	}
	p, ok := r.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p.Complete(ctx, req)
}
