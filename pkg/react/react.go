// Package react implements the ReAct reasoning loop: reason, call
// tools, observe, repeat — with a suspend point whenever a tool call needs
// human confirmation, and resumption via ContinueAfterConfirmation.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/llm"
	"github.com/chrisyu/mcphost/pkg/observability"
)

// iterationTracer traces one span per ReAct reasoning iteration.
var iterationTracer = observability.GetTracer("mcphost/react")

// State is the ReAct context's current phase.
type State string

const (
	StateIdle                State = "idle"
	StateReasoning            State = "reasoning"
	StatePendingConfirmation  State = "pending_confirmation"
	StateExecutingTool        State = "executing_tool"
	StateGenerating           State = "generating"
	StateCompleted            State = "completed"
	StateError                State = "error"
)

// EventKind names the events emitted over the course of a run.
type EventKind string

const (
	EventStateReasoning       EventKind = "state:reasoning"
	EventToolCallPreparing    EventKind = "tool_call:preparing"
	EventToolCallExecuting    EventKind = "tool_call:executing"
	EventToolResult           EventKind = "tool_result"
	EventConfirmationRequired EventKind = "confirmation_required"
	EventFinal                EventKind = "final"
	EventError                EventKind = "error"
)

// Event is one item in the asynchronous event sequence Run/Resume emit.
type Event struct {
	Kind        EventKind
	ToolName    string
	RequestID   string
	Risk        string
	Arguments   map[string]any
	Success     bool
	Observation string
	ElapsedMS   int64
	Content     string
	Err         error
}

// ToolCallRequest is the prepared, risk-classified shape of one tool call,
// produced by the single preparation point a Host facade exposes.
type ToolCallRequest struct {
	SessionID         string
	ToolCallID        string
	PublicName        string
	Arguments         map[string]any
	RiskLevel         string
	NeedsConfirmation bool
}

// ToolCallResult is the outcome of executing a prepared tool call.
type ToolCallResult struct {
	Success     bool
	Observation string
	ElapsedMS   int64
	Err         error
}

// ToolHost is the subset of the Host facade the engine depends on. Kept as
// an interface here (rather than importing pkg/host) since pkg/host itself
// depends on this package to drive the loop.
type ToolHost interface {
	PrepareToolCall(ctx context.Context, sessionID, publicName string, arguments map[string]any) (ToolCallRequest, error)
	ExecuteToolCall(ctx context.Context, request ToolCallRequest, force, skipPathValidation bool) (ToolCallResult, error)
	RequestConfirmation(ctx context.Context, sessionID string, request ToolCallRequest) (requestID string, err error)
}

// ToolSchema describes one tool the catalogue renders into the system
// prompt and offers to the LLM backend.
type ToolSchema struct {
	PublicName  string
	Description string
	Parameters  map[string]any
}

// CatalogProvider returns the current fused tool set (a snapshot
// operation, so this is called fresh at the start of every turn).
type CatalogProvider func() []ToolSchema

// LLMCaller is the subset of pkg/llm.Registry the engine needs.
type LLMCaller interface {
	Complete(ctx context.Context, provider string, req llm.Request) (*llm.Response, error)
}

const defaultMaxIterations = 10

// pendingToolCall captures everything needed to resume a suspended turn
// after a human verdict: the request awaiting confirmation, the remaining
// tool calls in this turn, the iteration count so far, and the turn's full
// tool-call list. The conversation itself stays in Context.Messages.
type pendingToolCall struct {
	request      ToolCallRequest
	remaining    []llm.ToolCall
	iteration    int
	toolCallsLog []llm.ToolCall // the full set the assistant emitted this turn, for the assistant message
}

// Context is one session's ReAct state.
type Context struct {
	SessionID    string
	SystemPrompt string
	Messages     []llm.Message
	State        State
	Provider     string
	Model        string
	MaxIterations int

	mu      sync.Mutex
	pending map[string]*pendingToolCall // by request_id
}

// NewContext builds a fresh ReAct context, synthesizing the system prompt
// from the current tool catalogue.
func NewContext(sessionID string, tools []ToolSchema, provider, model string) *Context {
	return &Context{
		SessionID:     sessionID,
		SystemPrompt:  renderSystemPrompt(tools),
		Messages:      nil,
		State:         StateIdle,
		Provider:      provider,
		Model:         model,
		MaxIterations: defaultMaxIterations,
		pending:       make(map[string]*pendingToolCall),
	}
}

func renderSystemPrompt(tools []ToolSchema) string {
	var b strings.Builder
	b.WriteString("You are an assistant with access to the following tools. ")
	b.WriteString("Tools classified as high or critical risk require explicit human confirmation before they run; ")
	b.WriteString("if a call is paused for confirmation, wait for the result before continuing.\n\n")
	for _, t := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n  parameters: %v\n", t.PublicName, t.Description, t.Parameters))
	}
	return b.String()
}

// Engine drives the ReAct loop for any number of concurrent sessions.
type Engine struct {
	host ToolHost
	llm  LLMCaller

	mu       sync.Mutex
	sessions map[string]*Context
}

// NewEngine constructs an Engine.
func NewEngine(host ToolHost, caller LLMCaller) *Engine {
	return &Engine{host: host, llm: caller, sessions: make(map[string]*Context)}
}

// GetOrCreate returns the existing ReAct context for a session, or creates
// one by rendering the given tool catalogue into its system prompt.
func (e *Engine) GetOrCreate(sessionID string, tools []ToolSchema, provider, model string) *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx, ok := e.sessions[sessionID]; ok {
		return ctx
	}
	ctx := NewContext(sessionID, tools, provider, model)
	e.sessions[sessionID] = ctx
	return ctx
}

// Run appends the user's message and drives the loop until a final answer,
// a suspend-for-confirmation point, iteration exhaustion, or an error.
// Events are delivered to emit as they occur; Run returns once the turn
// reaches a terminal or suspended point.
func (e *Engine) Run(ctx context.Context, rc *Context, userInput string, emit func(Event)) {
	rc.mu.Lock()
	rc.Messages = append(rc.Messages, llm.Message{Role: "user", Content: userInput})
	rc.State = StateReasoning
	rc.mu.Unlock()
	emit(Event{Kind: EventStateReasoning})

	e.loop(ctx, rc, 0, emit)
}

// ContinueAfterConfirmation resumes a suspended turn after a human verdict
// on requestID: approved (possibly with modifiedArgs) or rejected.
func (e *Engine) ContinueAfterConfirmation(ctx context.Context, rc *Context, requestID string, approved bool, modifiedArgs map[string]any, emit func(Event)) {
	rc.mu.Lock()
	pc, ok := rc.pending[requestID]
	if ok {
		delete(rc.pending, requestID)
	}
	rc.mu.Unlock()

	if !ok {
		return // run already terminated; resume is a no-op per the cancellation contract
	}

	var result ToolCallResult
	if approved {
		req := pc.request
		if modifiedArgs != nil {
			req.Arguments = modifiedArgs
		}
		result = e.executeWithTiming(ctx, req, true, true)
	} else {
		result = ToolCallResult{Success: false, Observation: "user rejected this tool call"}
	}

	rc.mu.Lock()
	rc.Messages = append(rc.Messages, llm.Message{
		Role:       "tool",
		Content:    result.Observation,
		ToolCallID: pc.request.ToolCallID,
	})
	rc.mu.Unlock()

	emit(Event{Kind: EventToolResult, ToolName: pc.request.PublicName, Success: result.Success, Observation: result.Observation, ElapsedMS: result.ElapsedMS})

	e.continueRemaining(ctx, rc, pc, emit)
}

// continueRemaining executes any further tool calls the LLM emitted in the
// same turn before re-entering the reasoning loop.
func (e *Engine) continueRemaining(ctx context.Context, rc *Context, pc *pendingToolCall, emit func(Event)) {
	for i, tc := range pc.remaining {
		suspended, requestID := e.runOneToolCall(ctx, rc, pc.iteration, tc, emit)
		if suspended {
			rc.mu.Lock()
			if next, ok := rc.pending[requestID]; ok {
				next.remaining = pc.remaining[i+1:]
			}
			rc.mu.Unlock()
			return
		}
	}
	e.loop(ctx, rc, pc.iteration+1, emit)
}

// loop runs the reason→tool-call→observe cycle starting at the given
// iteration count, up to rc.MaxIterations.
func (e *Engine) loop(ctx context.Context, rc *Context, startIteration int, emit func(Event)) {
	for iteration := startIteration; iteration < rc.MaxIterations; iteration++ {
		iterCtx, span := iterationTracer.Start(ctx, "react.iteration", trace.WithAttributes(
			attribute.Int("react.iteration", iteration),
		))

		select {
		case <-ctx.Done():
			rc.mu.Lock()
			rc.State = StateError
			rc.mu.Unlock()
			emit(Event{Kind: EventError, Err: ctx.Err()})
			span.RecordError(ctx.Err())
			span.End()
			return
		default:
		}

		rc.mu.Lock()
		req := llm.Request{
			Messages:    append([]llm.Message{{Role: "system", Content: rc.SystemPrompt}}, rc.Messages...),
			Temperature: 0,
		}
		rc.mu.Unlock()

		resp, err := e.llm.Complete(iterCtx, rc.Provider, req)
		if err != nil {
			rc.mu.Lock()
			rc.State = StateError
			rc.mu.Unlock()
			emit(Event{Kind: EventError, Err: err})
			span.RecordError(err)
			span.End()
			return
		}

		if len(resp.ToolCalls) == 0 {
			rc.mu.Lock()
			rc.Messages = append(rc.Messages, llm.Message{Role: "assistant", Content: resp.Content})
			rc.State = StateCompleted
			rc.mu.Unlock()
			emit(Event{Kind: EventFinal, Content: resp.Content})
			span.End()
			return
		}

		rc.mu.Lock()
		rc.Messages = append(rc.Messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		rc.mu.Unlock()

		suspendedThisIteration := false
		for i, tc := range resp.ToolCalls {
			suspended, requestID := e.runOneToolCall(iterCtx, rc, iteration, tc, emit)
			if suspended {
				rc.mu.Lock()
				if pc, ok := rc.pending[requestID]; ok {
					pc.remaining = resp.ToolCalls[i+1:]
				}
				rc.mu.Unlock()
				suspendedThisIteration = true
				break
			}
		}
		span.End()
		if suspendedThisIteration {
			return
		}
	}

	rc.mu.Lock()
	rc.State = StateError
	rc.mu.Unlock()
	emit(Event{Kind: EventError, Err: fmt.Errorf("react: exhausted %d iterations without a final answer", rc.MaxIterations)})
}

// runOneToolCall prepares and, unless confirmation is required, executes one
// tool call. Returns whether the turn suspended for human confirmation and,
// if so, the confirmation request_id.
func (e *Engine) runOneToolCall(ctx context.Context, rc *Context, iteration int, tc llm.ToolCall, emit func(Event)) (bool, string) {
	emit(Event{Kind: EventToolCallPreparing, ToolName: tc.Name, Arguments: tc.Arguments})

	prepared, err := e.host.PrepareToolCall(ctx, rc.SessionID, tc.Name, tc.Arguments)
	if err != nil {
		e.appendObservation(rc, tc.ID, fmt.Sprintf("error preparing call: %v", err))
		emit(Event{Kind: EventToolResult, ToolName: tc.Name, Success: false, Observation: err.Error()})
		return false, ""
	}
	prepared.ToolCallID = tc.ID

	if prepared.NeedsConfirmation {
		requestID, err := e.host.RequestConfirmation(ctx, rc.SessionID, prepared)
		if err != nil {
			e.appendObservation(rc, tc.ID, fmt.Sprintf("error requesting confirmation: %v", err))
			emit(Event{Kind: EventToolResult, ToolName: tc.Name, Success: false, Observation: err.Error()})
			return false, ""
		}
		rc.mu.Lock()
		rc.State = StatePendingConfirmation
		rc.pending[requestID] = &pendingToolCall{request: prepared, iteration: iteration}
		rc.mu.Unlock()

		argsJSON, _ := json.Marshal(prepared.Arguments)
		emit(Event{Kind: EventConfirmationRequired, RequestID: requestID, ToolName: tc.Name, Risk: prepared.RiskLevel, Arguments: prepared.Arguments, Observation: string(argsJSON)})
		return true, requestID
	}

	emit(Event{Kind: EventToolCallExecuting, ToolName: tc.Name})
	result := e.executeWithTiming(ctx, prepared, false, false)
	e.appendObservation(rc, tc.ID, result.Observation)
	emit(Event{Kind: EventToolResult, ToolName: tc.Name, Success: result.Success, Observation: result.Observation, ElapsedMS: result.ElapsedMS})
	return false, ""
}

func (e *Engine) executeWithTiming(ctx context.Context, req ToolCallRequest, force, skipPathValidation bool) ToolCallResult {
	start := nowFunc()
	result, err := e.host.ExecuteToolCall(ctx, req, force, skipPathValidation)
	elapsed := nowFunc().Sub(start).Milliseconds()
	if err != nil {
		return ToolCallResult{Success: false, Observation: err.Error(), ElapsedMS: elapsed}
	}
	result.ElapsedMS = elapsed
	return result
}

func (e *Engine) appendObservation(rc *Context, toolCallID, observation string) {
	rc.mu.Lock()
	rc.Messages = append(rc.Messages, llm.Message{Role: "tool", Content: observation, ToolCallID: toolCallID})
	rc.mu.Unlock()
}

// nowFunc is a seam for deterministic elapsed-time tests.
var nowFunc = time.Now

// ErrMissingServer is the well-typed error a Host facade returns when a
// tool call names a server_key with no live session.
func ErrMissingServer(serverKey string) error {
	return herrors.NotFound(fmt.Sprintf("react: no live session for server %q", serverKey), nil)
}
