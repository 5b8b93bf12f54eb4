package react

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/chrisyu/mcphost/pkg/llm"
)

type fakeHost struct {
	prepared  map[string]ToolCallRequest
	needsConf map[string]bool
	results   map[string]ToolCallResult
	confirmID string
	confirmErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		prepared:  make(map[string]ToolCallRequest),
		needsConf: make(map[string]bool),
		results:   make(map[string]ToolCallResult),
	}
}

func (h *fakeHost) PrepareToolCall(ctx context.Context, sessionID, publicName string, arguments map[string]any) (ToolCallRequest, error) {
	req := ToolCallRequest{
		SessionID:         sessionID,
		PublicName:        publicName,
		Arguments:         arguments,
		RiskLevel:         "low",
		NeedsConfirmation: h.needsConf[publicName],
	}
	h.prepared[publicName] = req
	return req, nil
}

func (h *fakeHost) ExecuteToolCall(ctx context.Context, request ToolCallRequest, force, skipPathValidation bool) (ToolCallResult, error) {
	if result, ok := h.results[request.PublicName]; ok {
		return result, nil
	}
	return ToolCallResult{Success: true, Observation: "ok:" + request.PublicName}, nil
}

func (h *fakeHost) RequestConfirmation(ctx context.Context, sessionID string, request ToolCallRequest) (string, error) {
	if h.confirmErr != nil {
		return "", h.confirmErr
	}
	if h.confirmID != "" {
		return h.confirmID, nil
	}
	return "confirm-1", nil
}

type fakeLLM struct {
	responses []*llm.Response
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, provider string, req llm.Request) (*llm.Response, error) {
	if f.calls >= len(f.responses) {
		return &llm.Response{Content: "done"}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func collectEvents(events *[]Event) func(Event) {
	return func(e Event) { *events = append(*events, e) }
}

func TestRun_FinishesWithoutToolCalls(t *testing.T) {
	host := newFakeHost()
	fllm := &fakeLLM{responses: []*llm.Response{{Content: "hello there"}}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.Run(context.Background(), rc, "hi", collectEvents(&events))

	assert.Equal(t, StateCompleted, rc.State)
	last := events[len(events)-1]
	assert.Equal(t, EventFinal, last.Kind)
	assert.Equal(t, "hello there", last.Content)
}

func TestRun_ExecutesToolCallThenFinishes(t *testing.T) {
	host := newFakeHost()
	fllm := &fakeLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "srv__read_file", Arguments: map[string]any{"path": "/tmp/a"}}}},
		{Content: "final answer"},
	}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.Run(context.Background(), rc, "read the file", collectEvents(&events))

	assert.Equal(t, StateCompleted, rc.State)
	var sawToolResult bool
	for _, e := range events {
		if e.Kind == EventToolResult {
			sawToolResult = true
			assert.True(t, e.Success)
		}
	}
	assert.True(t, sawToolResult)
}

func TestRun_SuspendsForConfirmation(t *testing.T) {
	host := newFakeHost()
	host.needsConf["srv__delete_file"] = true
	host.confirmID = "req-42"
	fllm := &fakeLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "srv__delete_file", Arguments: map[string]any{"path": "/tmp/a"}}}},
	}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.Run(context.Background(), rc, "delete the file", collectEvents(&events))

	assert.Equal(t, StatePendingConfirmation, rc.State)
	require.Contains(t, rc.pending, "req-42")

	var sawConfirmation bool
	for _, e := range events {
		if e.Kind == EventConfirmationRequired {
			sawConfirmation = true
			assert.Equal(t, "req-42", e.RequestID)
		}
	}
	assert.True(t, sawConfirmation)
}

func TestContinueAfterConfirmation_ApprovedResumesLoop(t *testing.T) {
	host := newFakeHost()
	host.needsConf["srv__delete_file"] = true
	host.confirmID = "req-42"
	fllm := &fakeLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "srv__delete_file", Arguments: map[string]any{"path": "/tmp/a"}}}},
		{Content: "deleted"},
	}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.Run(context.Background(), rc, "delete the file", collectEvents(&events))
	require.Equal(t, StatePendingConfirmation, rc.State)

	events = nil
	engine.ContinueAfterConfirmation(context.Background(), rc, "req-42", true, nil, collectEvents(&events))

	assert.Equal(t, StateCompleted, rc.State)
	last := events[len(events)-1]
	assert.Equal(t, EventFinal, last.Kind)
	assert.Equal(t, "deleted", last.Content)
}

func TestContinueAfterConfirmation_RejectedSkipsExecution(t *testing.T) {
	host := newFakeHost()
	host.needsConf["srv__delete_file"] = true
	host.confirmID = "req-42"
	fllm := &fakeLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "srv__delete_file", Arguments: map[string]any{"path": "/tmp/a"}}}},
		{Content: "ok, not deleted"},
	}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.Run(context.Background(), rc, "delete the file", collectEvents(&events))
	require.Equal(t, StatePendingConfirmation, rc.State)

	events = nil
	engine.ContinueAfterConfirmation(context.Background(), rc, "req-42", false, nil, collectEvents(&events))

	assert.Equal(t, StateCompleted, rc.State)
	var toolResult Event
	for _, e := range events {
		if e.Kind == EventToolResult {
			toolResult = e
		}
	}
	assert.False(t, toolResult.Success)
	assert.Contains(t, toolResult.Observation, "rejected")
}

func TestContinueAfterConfirmation_UnknownRequestIsNoop(t *testing.T) {
	host := newFakeHost()
	fllm := &fakeLLM{}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")

	var events []Event
	engine.ContinueAfterConfirmation(context.Background(), rc, "nonexistent", true, nil, collectEvents(&events))
	assert.Empty(t, events)
}

func TestLoop_ExhaustsIterationsWithoutFinalAnswer(t *testing.T) {
	host := newFakeHost()
	fllm := &fakeLLM{responses: []*llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "srv__loop_tool", Arguments: map[string]any{}}}},
		{ToolCalls: []llm.ToolCall{{ID: "tc2", Name: "srv__loop_tool", Arguments: map[string]any{}}}},
	}}
	engine := NewEngine(host, fllm)
	rc := NewContext("sess-1", nil, "openai", "gpt-4o")
	rc.MaxIterations = 2

	var events []Event
	engine.Run(context.Background(), rc, "loop forever", collectEvents(&events))

	assert.Equal(t, StateError, rc.State)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Kind)
	require.Error(t, last.Err)
}

func TestGetOrCreate_ReturnsSameContextForSession(t *testing.T) {
	host := newFakeHost()
	engine := NewEngine(host, &fakeLLM{})

	rc1 := engine.GetOrCreate("sess-1", nil, "openai", "gpt-4o")
	rc2 := engine.GetOrCreate("sess-1", nil, "openai", "gpt-4o")
	assert.Same(t, rc1, rc2)
}

func TestErrMissingServer_IsNotFoundKind(t *testing.T) {
	err := ErrMissingServer("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
	assert.Equal(t, herrors.KindNotFound, herrors.KindOf(err))
}
