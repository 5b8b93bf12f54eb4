package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	c := New()
	assert.Equal(t, 5, c.maxRetries)
	assert.Equal(t, 2*time.Second, c.baseDelay)
	assert.Equal(t, 120*time.Second, c.client.Timeout)
	assert.NotNil(t, c.strategyFunc)
}

func TestNew_OptionsApplyInOrder(t *testing.T) {
	c := New(
		WithMaxRetries(2),
		WithBaseDelay(1*time.Second),
		WithHTTPClient(&http.Client{Timeout: 10 * time.Second}),
		WithHeaderParser(func(h http.Header) RateLimitInfo {
			return RateLimitInfo{RetryAfter: 10 * time.Second}
		}),
		WithRetryStrategy(func(statusCode int) RetryStrategy { return SmartRetry }),
	)
	assert.Equal(t, 2, c.maxRetries)
	assert.Equal(t, 1*time.Second, c.baseDelay)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
	require.NotNil(t, c.headerParser)
	assert.Equal(t, 10*time.Second, c.headerParser(http.Header{}).RetryAfter)
	assert.Equal(t, SmartRetry, c.strategyFunc(500))
}

func TestDefaultStrategy(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		want       RetryStrategy
	}{
		{"rate_limit_429", http.StatusTooManyRequests, SmartRetry},
		{"service_unavailable_503", http.StatusServiceUnavailable, SmartRetry},
		{"request_timeout_408", http.StatusRequestTimeout, ConservativeRetry},
		{"internal_server_error_500", http.StatusInternalServerError, ConservativeRetry},
		{"bad_gateway_502", http.StatusBadGateway, ConservativeRetry},
		{"gateway_timeout_504", http.StatusGatewayTimeout, ConservativeRetry},
		{"success_200", http.StatusOK, NoRetry},
		{"not_found_404", http.StatusNotFound, NoRetry},
		{"bad_request_400", http.StatusBadRequest, NoRetry},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultStrategy(tt.statusCode))
		})
	}
}

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	}))
	defer server.Close()

	client := New(WithHTTPClient(server.Client()))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClient_Do_NetworkErrorIsNotRetryable(t *testing.T) {
	client := New(WithHTTPClient(&http.Client{Timeout: 1 * time.Millisecond}))
	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:1", nil)

	resp, err := client.Do(req)
	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestClient_Do_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithBaseDelay(5*time.Millisecond),
	)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, attempts)
}

func TestClient_Do_MaxRetriesExceededReturnsRetryableError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(2),
		WithBaseDelay(5*time.Millisecond),
	)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := client.Do(req)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var retryErr *RetryableError
	require.ErrorAs(t, err, &retryErr)
	assert.Equal(t, http.StatusInternalServerError, retryErr.StatusCode)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestClient_Do_RateLimitWaitsOutRetryAfter(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(3),
		WithHeaderParser(ParseOpenAIHeaders),
	)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, attempts)
	assert.GreaterOrEqual(t, elapsed, 1*time.Second)
}

func TestClient_Do_ConservativeRetryStopsAfterTwoRetries(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithHTTPClient(server.Client()),
		WithMaxRetries(5),
		WithBaseDelay(5*time.Millisecond),
	)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := client.Do(req)
	assert.Error(t, err)
	assert.Equal(t, 3, attempts) // ConservativeRetry caps at attempt>=2
}

func TestClient_attemptRequest(t *testing.T) {
	cases := []struct {
		name         string
		respond      func(w http.ResponseWriter)
		wantErr      bool
		wantCode     int
		wantStrategy RetryStrategy
	}{
		{"success", func(w http.ResponseWriter) { w.WriteHeader(http.StatusOK) }, false, http.StatusOK, NoRetry},
		{"rate_limited", func(w http.ResponseWriter) { w.WriteHeader(http.StatusTooManyRequests) }, true, http.StatusTooManyRequests, SmartRetry},
		{"server_error", func(w http.ResponseWriter) { w.WriteHeader(http.StatusInternalServerError) }, true, http.StatusInternalServerError, ConservativeRetry},
		{"client_error", func(w http.ResponseWriter) { w.WriteHeader(http.StatusBadRequest) }, true, http.StatusBadRequest, NoRetry},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { tt.respond(w) }))
			defer server.Close()

			client := New(WithHTTPClient(server.Client()))
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, strategy, _, err := client.attemptRequest(req)
			assert.Equal(t, tt.wantErr, err != nil)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantStrategy, strategy)
		})
	}
}

func TestClient_calculateDelay(t *testing.T) {
	client := New(WithBaseDelay(1 * time.Second))

	assert.Zero(t, client.calculateDelay(NoRetry, 0, RateLimitInfo{}))
	assert.Equal(t, 5*time.Second, client.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 5 * time.Second}))

	withReset := client.calculateDelay(SmartRetry, 0, RateLimitInfo{ResetTime: time.Now().Add(3 * time.Second).Unix()})
	assert.InDelta(t, 3*time.Second, withReset, float64(1*time.Second))

	assert.Equal(t, 2*time.Second, client.calculateDelay(ConservativeRetry, 0, RateLimitInfo{}))
	assert.Equal(t, 3*time.Second, client.calculateDelay(ConservativeRetry, 1, RateLimitInfo{}))
	assert.Zero(t, client.calculateDelay(ConservativeRetry, 2, RateLimitInfo{}))
}
