package sampling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisyu/mcphost/pkg/llm"
	"github.com/chrisyu/mcphost/pkg/mcpwire"
)

type fakeBackend struct {
	resp *llm.Response
	err  error
	got  llm.Request
}

func (f *fakeBackend) Complete(ctx context.Context, provider string, req llm.Request) (*llm.Response, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func paramsWithText(text string, maxTokens int) mcpwire.SamplingCreateMessageParams {
	msg := mcpwire.SamplingMessage{Role: "user"}
	msg.Content.Type = "text"
	msg.Content.Text = text
	return mcpwire.SamplingCreateMessageParams{Messages: []mcpwire.SamplingMessage{msg}, MaxTokens: maxTokens}
}

func TestHandle_AutoApprovesUnderThreshold(t *testing.T) {
	backend := &fakeBackend{resp: &llm.Response{Content: "hello", FinishReason: llm.FinishStop}}
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 100
	svc := NewService(policy, backend)

	result, req, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 50))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "hello", result.Content)
	assert.Equal(t, DecisionAutoApproved, req.Decision)
	assert.Empty(t, svc.PendingRequests())
}

func TestHandle_QueuesWhenOverThreshold(t *testing.T) {
	backend := &fakeBackend{resp: &llm.Response{Content: "hello", FinishReason: llm.FinishStop}}
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 10
	policy.RequireApproval = true
	svc := NewService(policy, backend)

	result, req, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 500))
	require.Nil(t, result)
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, DecisionQueued, req.Decision)
	assert.Len(t, svc.PendingRequests(), 1)
}

func TestHandle_BlockedServerDenied(t *testing.T) {
	backend := &fakeBackend{}
	policy := DefaultPolicy()
	policy.BlockedServers = map[string]bool{"evil": true}
	svc := NewService(policy, backend)

	_, _, err := svc.Handle(context.Background(), "evil", paramsWithText("hi", 10))
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
}

func TestHandle_AllowListExcludesUnlisted(t *testing.T) {
	backend := &fakeBackend{}
	policy := DefaultPolicy()
	policy.AllowedServers = map[string]bool{"trusted": true}
	svc := NewService(policy, backend)

	_, _, err := svc.Handle(context.Background(), "untrusted", paramsWithText("hi", 10))
	require.Error(t, err)
}

func TestHandle_RateLimitExceeded(t *testing.T) {
	backend := &fakeBackend{resp: &llm.Response{Content: "ok"}}
	policy := DefaultPolicy()
	policy.GlobalRatePerMinute = 1
	policy.ServerRatePerMinute = 100
	policy.AutoApproveThreshold = 1000
	svc := NewService(policy, backend)

	_, _, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 10))
	require.NoError(t, err)

	_, _, err = svc.Handle(context.Background(), "srv1", paramsWithText("hi", 10))
	require.Error(t, err)
}

func TestClampTokens(t *testing.T) {
	policy := DefaultPolicy()
	policy.DefaultMaxTokens = 1024
	policy.MaxTokensLimit = 4096
	svc := NewService(policy, &fakeBackend{})

	assert.Equal(t, 1024, svc.clampTokens(0))
	assert.Equal(t, 4096, svc.clampTokens(10_000))
	assert.Equal(t, 2000, svc.clampTokens(2000))
}

func TestContentFilter_BlocksKeyword(t *testing.T) {
	policy := DefaultPolicy()
	policy.ContentFilterEnabled = true
	policy.BlockedKeywords = []string{"secret"}
	policy.AutoApproveThreshold = 1000
	svc := NewService(policy, &fakeBackend{resp: &llm.Response{Content: "ok"}})

	_, _, err := svc.Handle(context.Background(), "srv1", paramsWithText("tell me the SECRET plan", 10))
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
}

func TestApprove_ExecutesQueuedRequest(t *testing.T) {
	backend := &fakeBackend{resp: &llm.Response{Content: "approved output", FinishReason: llm.FinishStop}}
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 0
	svc := NewService(policy, backend)

	_, req, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 500))
	require.Error(t, err)

	result, err := svc.Approve(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, "approved output", result.Content)
	assert.Empty(t, svc.PendingRequests())
}

func TestApprove_UnknownRequestDenied(t *testing.T) {
	svc := NewService(DefaultPolicy(), &fakeBackend{})
	_, err := svc.Approve(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestReject_DiscardsQueuedRequest(t *testing.T) {
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 0
	svc := NewService(policy, &fakeBackend{})

	_, req, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 500))
	require.Error(t, err)
	require.Len(t, svc.PendingRequests(), 1)

	require.NoError(t, svc.Reject(req.ID))
	assert.Empty(t, svc.PendingRequests())
}

func TestReject_UnknownOrAlreadyResolvedReturnsNotFound(t *testing.T) {
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 0
	svc := NewService(policy, &fakeBackend{})

	_, req, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 500))
	require.Error(t, err)

	require.NoError(t, svc.Reject(req.ID))
	assert.Error(t, svc.Reject(req.ID), "rejecting an already-rejected id must report not-found")
	assert.Error(t, svc.Reject("nonexistent"))
}

func TestSweepExpired_RemovesPastDeadline(t *testing.T) {
	policy := DefaultPolicy()
	policy.AutoApproveThreshold = 0
	policy.ApprovalTimeout = -1 * time.Second // already expired
	svc := NewService(policy, &fakeBackend{})

	_, _, err := svc.Handle(context.Background(), "srv1", paramsWithText("hi", 500))
	require.Error(t, err)
	require.Len(t, svc.PendingRequests(), 1)

	svc.SweepExpired()
	assert.Empty(t, svc.PendingRequests())
}

func TestMapFinishReason_CoversTheFourWayWireVocabulary(t *testing.T) {
	cases := []struct {
		in   llm.FinishReason
		want string
	}{
		{llm.FinishStop, "endTurn"},
		{llm.FinishToolCalls, "endTurn"},
		{llm.FinishMaxTokens, "maxTokens"},
		{llm.FinishStopSequence, "stopSequence"},
		{llm.FinishError, "error"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, mapFinishReason(c.in), "mapping %s", c.in)
	}
}
