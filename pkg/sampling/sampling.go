// Package sampling implements the inbound sampling/createMessage pipeline
// server permission checks, dual sliding-window rate limiting, token
// clamping, content filtering, and the auto-approve/queue-for-review
// decision.
package sampling

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chrisyu/mcphost/pkg/llm"
	"github.com/chrisyu/mcphost/pkg/mcpwire"
	"github.com/chrisyu/mcphost/pkg/ratelimit"
)

// Decision classifies how a sampling request was disposed.
type Decision string

const (
	DecisionAutoApproved Decision = "auto_approved"
	DecisionQueued       Decision = "queued"
	DecisionDenied       Decision = "denied"
)

// Policy configures the sampling pipeline's security posture.
type Policy struct {
	BlockedServers       map[string]bool
	AllowedServers       map[string]bool // if non-empty, acts as an allow-list
	GlobalRatePerMinute  int
	ServerRatePerMinute  int
	MaxTokensLimit       int
	DefaultMaxTokens     int
	ContentFilterEnabled bool
	BlockedKeywords      []string
	RequireApproval      bool
	AutoApproveThreshold int
	ApprovalTimeout      time.Duration
	DefaultModel         string
	DefaultProvider      string
}

// DefaultPolicy matches sampling_service.py's defaults.
func DefaultPolicy() Policy {
	return Policy{
		BlockedServers:       map[string]bool{},
		AllowedServers:       map[string]bool{},
		GlobalRatePerMinute:  60,
		ServerRatePerMinute:  10,
		MaxTokensLimit:       4096,
		DefaultMaxTokens:     1024,
		AutoApproveThreshold: 100,
		RequireApproval:      true,
		ApprovalTimeout:      5 * time.Minute,
	}
}

// Request is one sampling/createMessage request received from a server.
type Request struct {
	ID           string
	ServerKey    string
	Messages     []mcpwire.SamplingMessage
	SystemPrompt string
	MaxTokens    int
	ModelHint    string
	ProviderHint string
	Decision     Decision
	DenyReason   string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Result is the completed sampling response, delivered once execution runs
// (either immediately for an auto-approved request, or after a human
// approves a queued one).
type Result struct {
	Content    string
	Model      string
	StopReason string
}

// DeniedError is returned by Handle when a request is not executed: it was
// rejected (blocked server, rate limit, content filter), or it was queued
// for human review (Reason "needs human review").
type DeniedError struct{ Reason string }

func (e *DeniedError) Error() string { return e.Reason }

// Service runs the sampling pipeline and holds the pending-approval queue.
// Approval is fire-and-forget from the originating server's perspective:
// once a request is queued, the -32001 response is already sent, and there
// is no callback back onto the MCP connection — matching the original
// Python service, which never re-opens a channel to the server after a
// human approves. The eventual completion is returned only to the caller
// of Approve.
type Service struct {
	mu           sync.Mutex
	policy       Policy
	globalWindow *ratelimit.Window
	serverWindow *ratelimit.Window
	pending      map[string]*Request
	completed    map[string]*Result
	backend      llm.Backend
	onRateLimited func(serverKey string)
}

// NewService constructs a sampling service bound to an LLM backend dispatcher.
func NewService(policy Policy, backend llm.Backend) *Service {
	return &Service{
		policy:       policy,
		globalWindow: ratelimit.NewWindow(time.Minute, policy.GlobalRatePerMinute),
		serverWindow: ratelimit.NewWindow(time.Minute, policy.ServerRatePerMinute),
		pending:      make(map[string]*Request),
		completed:    make(map[string]*Result),
		backend:      backend,
	}
}

// Handle runs the full pipeline for one inbound sampling/createMessage call.
// On success it either executes immediately (auto-approved) or returns
// (nil, req, *DeniedError) with a "needs human review" reason the caller
// maps to mcpwire.CodeNeedsReview; the request itself is now queued.
func (s *Service) Handle(ctx context.Context, serverKey string, params mcpwire.SamplingCreateMessageParams) (*Result, *Request, error) {
	if err := s.checkServerPermission(serverKey); err != nil {
		return nil, nil, err
	}
	if err := s.checkRateLimit(serverKey); err != nil {
		return nil, nil, err
	}

	maxTokens := s.clampTokens(params.MaxTokens)

	if err := s.checkContentFilter(params.Messages); err != nil {
		return nil, nil, err
	}

	req := &Request{
		ID:           uuid.NewString(),
		ServerKey:    serverKey,
		Messages:     params.Messages,
		SystemPrompt: params.SystemPrompt,
		MaxTokens:    maxTokens,
		CreatedAt:    time.Now(),
		ExpiresAt:    time.Now().Add(s.policy.ApprovalTimeout),
	}
	if hint, ok := params.ModelPreferences["hints"]; ok {
		if hints, ok := hint.([]any); ok && len(hints) > 0 {
			if m, ok := hints[0].(map[string]any); ok {
				if name, ok := m["name"].(string); ok {
					req.ModelHint = name
				}
			}
		}
	}

	if !s.policy.RequireApproval || maxTokens <= s.policy.AutoApproveThreshold {
		req.Decision = DecisionAutoApproved
		result, err := s.execute(ctx, req)
		if err != nil {
			return nil, req, err
		}
		return result, req, nil
	}

	req.Decision = DecisionQueued
	s.mu.Lock()
	s.pending[req.ID] = req
	s.mu.Unlock()
	return nil, req, &DeniedError{Reason: "needs human review"}
}

func (s *Service) checkServerPermission(serverKey string) error {
	if s.policy.BlockedServers[serverKey] {
		return &DeniedError{Reason: "server " + serverKey + " is blocked from sampling"}
	}
	if len(s.policy.AllowedServers) > 0 && !s.policy.AllowedServers[serverKey] {
		return &DeniedError{Reason: "server " + serverKey + " is not in the sampling allow-list"}
	}
	return nil
}

func (s *Service) checkRateLimit(serverKey string) error {
	if !s.globalWindow.AllowAndRecord("global") {
		if s.onRateLimited != nil {
			s.onRateLimited(serverKey)
		}
		return &DeniedError{Reason: "global sampling rate limit exceeded"}
	}
	if !s.serverWindow.AllowAndRecord(serverKey) {
		if s.onRateLimited != nil {
			s.onRateLimited(serverKey)
		}
		return &DeniedError{Reason: "server " + serverKey + " sampling rate limit exceeded"}
	}
	return nil
}

// OnRateLimited registers a callback invoked every time a request is denied
// for exceeding the global or per-server rate limit, used to feed the
// host's own metrics without this package depending on a metrics library.
func (s *Service) OnRateLimited(fn func(serverKey string)) {
	s.onRateLimited = fn
}

func (s *Service) clampTokens(requested int) int {
	if requested <= 0 {
		return s.policy.DefaultMaxTokens
	}
	if requested > s.policy.MaxTokensLimit {
		return s.policy.MaxTokensLimit
	}
	return requested
}

func (s *Service) checkContentFilter(messages []mcpwire.SamplingMessage) error {
	if !s.policy.ContentFilterEnabled {
		return nil
	}
	for _, msg := range messages {
		text := strings.ToLower(msg.Content.Text)
		for _, kw := range s.policy.BlockedKeywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return &DeniedError{Reason: "content blocked by keyword: " + kw}
			}
		}
	}
	return nil
}

// execute dispatches the request to the configured LLM backend.
func (s *Service) execute(ctx context.Context, req *Request) (*Result, error) {
	provider := req.ProviderHint
	if provider == "" {
		provider = s.policy.DefaultProvider
	}
	model := req.ModelHint
	if model == "" {
		model = s.policy.DefaultModel
	}

	llmMessages := make([]llm.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		llmMessages = append(llmMessages, llm.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		llmMessages = append(llmMessages, llm.Message{Role: m.Role, Content: m.Content.Text})
	}

	resp, err := s.backend.Complete(ctx, provider, llm.Request{
		Model:     model,
		Messages:  llmMessages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		Content:    resp.Content,
		Model:      model,
		StopReason: mapFinishReason(resp.FinishReason),
	}
	s.mu.Lock()
	s.completed[req.ID] = result
	s.mu.Unlock()
	return result, nil
}

func mapFinishReason(reason llm.FinishReason) string {
	switch reason {
	case llm.FinishStop, llm.FinishToolCalls:
		return "endTurn"
	case llm.FinishMaxTokens:
		return "maxTokens"
	case llm.FinishStopSequence:
		return "stopSequence"
	default:
		return "error"
	}
}

// Approve runs a queued request through execute(), as if a human had
// reviewed it out of band.
func (s *Service) Approve(ctx context.Context, requestID string) (*Result, error) {
	s.mu.Lock()
	req, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, &DeniedError{Reason: "sampling request not found or already resolved"}
	}
	return s.execute(ctx, req)
}

// Reject discards a queued request without executing it. It reports an
// error if requestID is unknown or was already approved/rejected, mirroring
// Approve's not-found handling.
func (s *Service) Reject(requestID string) error {
	s.mu.Lock()
	_, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return &DeniedError{Reason: "sampling request not found or already resolved"}
	}
	return nil
}

// PendingRequests returns the current approval queue.
func (s *Service) PendingRequests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Request, 0, len(s.pending))
	for _, r := range s.pending {
		out = append(out, r)
	}
	return out
}

// SweepExpired discards pending requests past their approval timeout.
func (s *Service) SweepExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, req := range s.pending {
		if now.After(req.ExpiresAt) {
			delete(s.pending, id)
		}
	}
}
