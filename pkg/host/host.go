// Package host implements the Host facade: a thin aggregator over
// roots, risk, HITL, the stdio/SSE session managers, the tool catalog, the
// sampling service, the LLM registry and the ReAct engine. prepare_tool_call
// is the single point where risk classification, path extraction and path
// validation run; execute_tool_call re-validates paths by default.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/hitl"
	"github.com/chrisyu/mcphost/pkg/llm"
	"github.com/chrisyu/mcphost/pkg/mcpsse"
	"github.com/chrisyu/mcphost/pkg/mcpstdio"
	"github.com/chrisyu/mcphost/pkg/mcpwire"
	"github.com/chrisyu/mcphost/pkg/observability"
	"github.com/chrisyu/mcphost/pkg/react"
	"github.com/chrisyu/mcphost/pkg/risk"
	"github.com/chrisyu/mcphost/pkg/roots"
	"github.com/chrisyu/mcphost/pkg/sampling"
	"github.com/chrisyu/mcphost/pkg/toolcatalog"
)

// dispatchTracer traces every MCP tool dispatch.
var dispatchTracer = observability.GetTracer("mcphost/host")

// Session is one Host session: a conversation, pending
// confirmations, a results map, and activity timestamps. Identity is a
// UUID assigned at creation.
type Session struct {
	ID                string
	SystemPrompt      string
	CreatedAt         time.Time
	LastActivity      time.Time
	Provider          string
	Model             string

	mu                  sync.Mutex
	pendingConfirmations map[string]bool
	results              map[string]react.ToolCallResult
}

func newSession(id, systemPrompt, provider, model string) *Session {
	return &Session{
		ID:                   id,
		SystemPrompt:         systemPrompt,
		CreatedAt:            time.Now(),
		LastActivity:         time.Now(),
		Provider:             provider,
		Model:                model,
		pendingConfirmations: make(map[string]bool),
		results:              make(map[string]react.ToolCallResult),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// Facade wires together every component subsystem behind the contracts
// named above.
type Facade struct {
	Roots     *roots.Registry
	Risk      risk.Policy
	HITL      *hitl.Gate
	Sampling  *sampling.Service
	LLM       *llm.Registry
	React     *react.Engine

	mu     sync.RWMutex
	stdio  map[string]*mcpstdio.Session
	sse    map[string]*mcpsse.Session

	sessMu   sync.RWMutex
	sessions map[string]*Session
}

// New constructs a Facade. The caller registers stdio/SSE sessions via
// AddStdioSession/AddSSESession once they've completed their handshake.
func New(rootsRegistry *roots.Registry, riskPolicy risk.Policy, hitlGate *hitl.Gate, samplingSvc *sampling.Service, llmRegistry *llm.Registry) *Facade {
	f := &Facade{
		Roots:    rootsRegistry,
		Risk:     riskPolicy,
		HITL:     hitlGate,
		Sampling: samplingSvc,
		LLM:      llmRegistry,
		stdio:    make(map[string]*mcpstdio.Session),
		sse:      make(map[string]*mcpsse.Session),
		sessions: make(map[string]*Session),
	}
	f.React = react.NewEngine(f, llmRegistryAdapter{llmRegistry})
	return f
}

// llmRegistryAdapter narrows *llm.Registry to react.LLMCaller.
type llmRegistryAdapter struct{ r *llm.Registry }

func (a llmRegistryAdapter) Complete(ctx context.Context, provider string, req llm.Request) (*llm.Response, error) {
	return a.r.Complete(ctx, provider, req)
}

// AddStdioSession registers a ready stdio session under its server_key.
func (f *Facade) AddStdioSession(serverKey string, session *mcpstdio.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stdio[serverKey] = session
}

// AddSSESession registers a ready SSE session under its server_key.
func (f *Facade) AddSSESession(serverKey string, session *mcpsse.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sse[serverKey] = session
}

// RemoveStdioSession stops and unregisters a stdio session, if present.
func (f *Facade) RemoveStdioSession(serverKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stdio[serverKey]
	if !ok {
		return false
	}
	s.Stop()
	delete(f.stdio, serverKey)
	return true
}

// RemoveSSESession stops and unregisters an SSE session, if present.
func (f *Facade) RemoveSSESession(serverKey string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sse[serverKey]
	if !ok {
		return false
	}
	s.Stop()
	delete(f.sse, serverKey)
	return true
}

// GetStdioSession looks up a registered stdio session by server_key.
func (f *Facade) GetStdioSession(serverKey string) (*mcpstdio.Session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.stdio[serverKey]
	return s, ok
}

// GetSSESession looks up a registered SSE session by server_key.
func (f *Facade) GetSSESession(serverKey string) (*mcpsse.Session, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sse[serverKey]
	return s, ok
}

// ServerInfo is the GET /servers projection of one registered MCP
// server.
type ServerInfo struct {
	ServerKey string
	Transport string
	Connected bool
}

// ListServers reports every registered stdio and SSE server and its current
// connection state.
func (f *Facade) ListServers() []ServerInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ServerInfo, 0, len(f.stdio)+len(f.sse))
	for key, s := range f.stdio {
		out = append(out, ServerInfo{ServerKey: key, Transport: "stdio", Connected: s.Connected()})
	}
	for key, s := range f.sse {
		out = append(out, ServerInfo{ServerKey: key, Transport: "sse", Connected: s.Connected()})
	}
	return out
}

// Counts reports the aggregate figures the GET /health endpoint needs.
type Counts struct {
	StdioSessions       int
	StdioConnected      int
	SSESessions         int
	SSEConnected        int
	HITLPending         int
	SamplingPending     int
	HostSessions        int
}

// AggregateCounts computes the live counts behind GET /health, derived
// entirely from read-only views so health checks never block mutators.
func (f *Facade) AggregateCounts() Counts {
	f.mu.RLock()
	var c Counts
	c.StdioSessions = len(f.stdio)
	for _, s := range f.stdio {
		if s.Connected() {
			c.StdioConnected++
		}
	}
	c.SSESessions = len(f.sse)
	for _, s := range f.sse {
		if s.Connected() {
			c.SSEConnected++
		}
	}
	f.mu.RUnlock()

	c.HITLPending = len(f.HITL.ListPending(""))
	c.SamplingPending = len(f.Sampling.PendingRequests())

	f.sessMu.RLock()
	c.HostSessions = len(f.sessions)
	f.sessMu.RUnlock()
	return c
}

// CreateSession creates (or, if id is given and already exists, returns) a
// Host session.
func (f *Facade) CreateSession(id, systemPrompt, provider, model string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	if existing, ok := f.sessions[id]; ok {
		return existing
	}
	s := newSession(id, systemPrompt, provider, model)
	f.sessions[id] = s
	return s
}

// GetSession looks up a Host session by id.
func (f *Facade) GetSession(id string) (*Session, bool) {
	f.sessMu.RLock()
	defer f.sessMu.RUnlock()
	s, ok := f.sessions[id]
	return s, ok
}

// DeleteSession removes a Host session, reporting whether it existed.
func (f *Facade) DeleteSession(id string) bool {
	f.sessMu.Lock()
	defer f.sessMu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return false
	}
	delete(f.sessions, id)
	return true
}

// ListSessions returns every Host session, most recently created first.
func (f *Facade) ListSessions() []*Session {
	f.sessMu.RLock()
	defer f.sessMu.RUnlock()
	out := make([]*Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// GetAggregatedTools returns the current fused tool catalogue.
func (f *Facade) GetAggregatedTools() []toolcatalog.Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stdioSrc := make(map[string]toolcatalog.StdioSource, len(f.stdio))
	for k, v := range f.stdio {
		stdioSrc[k] = v
	}
	sseSrc := make(map[string]toolcatalog.SSESource, len(f.sse))
	for k, v := range f.sse {
		sseSrc[k] = v
	}
	return toolcatalog.Catalog(stdioSrc, sseSrc)
}

// ToolSchemas renders the aggregated tools into the shape the ReAct engine
// wants for system-prompt synthesis.
func (f *Facade) ToolSchemas() []react.ToolSchema {
	entries := f.GetAggregatedTools()
	out := make([]react.ToolSchema, 0, len(entries))
	for _, e := range entries {
		out = append(out, react.ToolSchema{PublicName: e.PublicName, Description: e.Description, Parameters: e.Parameters})
	}
	return out
}

// PrepareToolCall is the single point where risk classification, path
// extraction and path validation run, and where the confirmation need is
// decided above.
func (f *Facade) PrepareToolCall(ctx context.Context, sessionID, publicName string, arguments map[string]any) (react.ToolCallRequest, error) {
	_, localName, err := toolcatalog.Parse(publicName)
	if err != nil {
		return react.ToolCallRequest{}, herrors.Validation("prepare_tool_call: malformed public tool name", err)
	}

	level := risk.Classify(localName)

	pathsOK, results := f.Roots.ValidateToolCall(sessionID, arguments)
	if !pathsOK {
		level = risk.Critical
	}
	_ = results

	needsConfirmation := f.Risk.RequiresConfirmation(localName, level)

	return react.ToolCallRequest{
		SessionID:         sessionID,
		PublicName:        publicName,
		Arguments:         arguments,
		RiskLevel:         level.String(),
		NeedsConfirmation: needsConfirmation,
	}, nil
}

// ExecuteToolCall dispatches a prepared call to its owning transport.
// Path validation is re-run by default even if PrepareToolCall already
// consulted it; skipPathValidation is only honored when force is also set,
// as a consequence of an explicit human approval.
func (f *Facade) ExecuteToolCall(ctx context.Context, request react.ToolCallRequest, force, skipPathValidation bool) (react.ToolCallResult, error) {
	ctx, span := dispatchTracer.Start(ctx, "mcp.dispatch", trace.WithAttributes(
		attribute.String("mcp.tool", request.PublicName),
		attribute.String("mcp.session_id", request.SessionID),
	))
	defer span.End()

	serverKey, localName, err := toolcatalog.Parse(request.PublicName)
	if err != nil {
		span.RecordError(err)
		return react.ToolCallResult{}, herrors.Validation("execute_tool_call: malformed public tool name", err)
	}

	if !(force && skipPathValidation) {
		if ok, _ := f.Roots.ValidateToolCall(request.SessionID, request.Arguments); !ok {
			return react.ToolCallResult{}, herrors.Policy("execute_tool_call: path validation denied this call", nil)
		}
	}

	f.mu.RLock()
	stdioSession, isStdio := f.stdio[serverKey]
	sseSession, isSSE := f.sse[serverKey]
	f.mu.RUnlock()

	span.SetAttributes(attribute.String("mcp.server", serverKey))

	var result *mcpwire.ToolCallResult
	switch {
	case isStdio:
		result, err = stdioSession.CallTool(ctx, localName, request.Arguments)
	case isSSE:
		result, err = sseSession.CallTool(ctx, localName, request.Arguments)
	default:
		return react.ToolCallResult{}, react.ErrMissingServer(serverKey)
	}
	if err != nil {
		span.RecordError(err)
		return react.ToolCallResult{Success: false, Observation: err.Error()}, nil
	}

	span.SetAttributes(attribute.Bool("mcp.success", !result.IsError))
	return react.ToolCallResult{Success: !result.IsError, Observation: stringifyContent(result)}, nil
}

func stringifyContent(result *mcpwire.ToolCallResult) string {
	texts := result.TextBlocks()
	if len(texts) == 1 && len(result.Content) == 1 {
		return texts[0]
	}
	raw, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("%v", result.Content)
	}
	return string(raw)
}

// RequestConfirmation creates a HITL confirmation request for a prepared
// call that needs one.
func (f *Facade) RequestConfirmation(ctx context.Context, sessionID string, request react.ToolCallRequest) (string, error) {
	level := risk.Low
	switch request.RiskLevel {
	case "medium":
		level = risk.Medium
	case "high":
		level = risk.High
	case "critical":
		level = risk.Critical
	}
	req := f.HITL.Create(sessionID, request.PublicName, request.Arguments, level, nil)

	if session, ok := f.GetSession(sessionID); ok {
		session.mu.Lock()
		session.pendingConfirmations[req.ID] = true
		session.mu.Unlock()
	}
	return req.ID, nil
}

// ConfirmToolCall is the combined "HITL.approve + execute" operation.
func (f *Facade) ConfirmToolCall(ctx context.Context, sessionID, requestID string, approved bool, modifiedArgs map[string]any) (react.ToolCallResult, error) {
	if !approved {
		if _, err := f.HITL.Reject(requestID, "user", "rejected via confirm_tool_call"); err != nil {
			return react.ToolCallResult{}, err
		}
		return react.ToolCallResult{Success: false, Observation: "user rejected this tool call"}, nil
	}

	req, err := f.HITL.Approve(requestID, "user", modifiedArgs)
	if err != nil {
		return react.ToolCallResult{}, err
	}

	args := req.Arguments
	if req.ModifiedArgs != nil {
		args = req.ModifiedArgs
	}
	return f.ExecuteToolCall(ctx, react.ToolCallRequest{SessionID: sessionID, PublicName: req.ToolName, Arguments: args}, true, true)
}

// SamplingHandler adapts the sampling service into the callback shape both
// mcpstdio.NewSession and mcpsse.NewSession expect for server-initiated
// sampling/createMessage requests.
func (f *Facade) SamplingHandler(ctx context.Context, serverKey string, params mcpwire.SamplingCreateMessageParams) (*mcpwire.SamplingCreateMessageResult, error) {
	result, _, err := f.Sampling.Handle(ctx, serverKey, params)
	if err != nil {
		if _, ok := err.(*sampling.DeniedError); ok {
			return nil, &mcpwire.RPCError{Code: mcpwire.CodeNeedsReview, Message: err.Error()}
		}
		return nil, err
	}
	return &mcpwire.SamplingCreateMessageResult{
		Role:       "assistant",
		Content:    map[string]any{"type": "text", "text": result.Content},
		Model:      result.Model,
		StopReason: result.StopReason,
	}, nil
}

// RootsListHandler adapts the roots registry into the callback shape both
// session managers expect for server-initiated roots/list requests. Global
// roots apply to every server; there is no per-server session concept in
// the roots registry, so this reports the global set.
func (f *Facade) RootsListHandler(serverKey string) mcpwire.RootsListResult {
	global := f.Roots.GlobalRoots()
	out := make([]mcpwire.RootDescriptor, 0, len(global))
	for _, r := range global {
		out = append(out, mcpwire.RootDescriptor{URI: r.URI(), Name: r.Name})
	}
	return mcpwire.RootsListResult{Roots: out}
}

// CleanupAll stops every stdio session, closes every SSE session, and stops
// the HITL sweep. Sampling and roots state are not cleared.
func (f *Facade) CleanupAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stdio {
		s.Stop()
	}
	for _, s := range f.sse {
		s.Stop()
	}
	f.HITL.Stop()
}
