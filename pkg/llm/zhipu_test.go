package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestZhipuClient(t *testing.T, baseURL string) *ZhipuClient {
	t.Helper()
	client, err := NewZhipu("test-key", func(c *ZhipuConfig) { c.BaseURL = baseURL })
	require.NoError(t, err)
	return client
}

func TestZhipuDoOnce_429WithRetryAfterHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestZhipuClient(t, srv.URL)
	_, retryAfter, rateLimited, err := client.doOnce(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, rateLimited)
	assert.Equal(t, 3*time.Second, retryAfter)
}

func TestZhipuDoOnce_429WithoutRetryAfterHeaderFallsBackToExponentialBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestZhipuClient(t, srv.URL)
	_, retryAfter, rateLimited, err := client.doOnce(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, rateLimited, "a 429 with no Retry-After header must still be treated as rate limited, not a fatal error")
	assert.Zero(t, retryAfter, "no header means the caller falls back to its own exponential backoff")
}

func TestZhipuDoOnce_NonRateLimitErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestZhipuClient(t, srv.URL)
	_, retryAfter, rateLimited, err := client.doOnce(context.Background(), Request{})
	require.Error(t, err)
	assert.False(t, rateLimited)
	assert.Zero(t, retryAfter)
}

func TestZhipuDoOnce_SuccessParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := newTestZhipuClient(t, srv.URL)
	resp, retryAfter, rateLimited, err := client.doOnce(context.Background(), Request{})
	require.NoError(t, err)
	assert.False(t, rateLimited)
	assert.Zero(t, retryAfter)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, FinishStop, resp.FinishReason)
}

// TestZhipuComplete_AbortsImmediatelyOnNonRateLimitError exercises the
// public Complete() path end to end for the one case that doesn't touch
// the multi-second backoff/inter-call timers: a genuine failure must not
// be retried at all, so this returns well within the test timeout.
func TestZhipuComplete_AbortsImmediatelyOnNonRateLimitError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := newTestZhipuClient(t, srv.URL)
	_, err := client.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-429 error must not be retried")
}
