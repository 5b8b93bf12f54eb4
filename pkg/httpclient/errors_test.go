package httpclient

import (
	"errors"
	"testing"
	"time"

	"github.com/chrisyu/mcphost/pkg/herrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableError_Error(t *testing.T) {
	cases := []struct {
		name string
		err  *RetryableError
		want string
	}{
		{
			name: "with_retry_after",
			err:  &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 30 * time.Second},
			want: "HTTP 429: rate limited (retry after 30s)",
		},
		{
			name: "without_retry_after",
			err:  &RetryableError{StatusCode: 500, Message: "server error"},
			want: "HTTP 500: server error",
		},
		{
			name: "zero_status_code",
			err:  &RetryableError{StatusCode: 0, Message: "transport exhausted", RetryAfter: 5 * time.Second},
			want: "HTTP 0: transport exhausted (retry after 5s)",
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestRetryableError_Unwrap(t *testing.T) {
	root := errors.New("underlying error")
	err := &RetryableError{StatusCode: 429, Err: root}
	assert.Equal(t, root, err.Unwrap())
	assert.True(t, errors.Is(err, root))
}

func TestRetryableError_IsRetryable(t *testing.T) {
	assert.True(t, (&RetryableError{StatusCode: 429}).IsRetryable())
	assert.True(t, (&RetryableError{StatusCode: 0}).IsRetryable())
}

func TestRetryableError_AsHerror_NonzeroStatusIsUpstream(t *testing.T) {
	err := &RetryableError{StatusCode: 503, Message: "service unavailable", Err: errors.New("HTTP 503")}
	herr := err.AsHerror()
	require.NotNil(t, herr)
	assert.Equal(t, herrors.KindUpstream, herr.Kind())
	assert.True(t, errors.Is(herr, err), "AsHerror must keep the RetryableError reachable via errors.Is/As")
}

func TestRetryableError_AsHerror_ZeroStatusIsTimeout(t *testing.T) {
	err := &RetryableError{StatusCode: 0, Message: "max retries exceeded after 5 attempts"}
	herr := err.AsHerror()
	require.NotNil(t, herr)
	assert.Equal(t, herrors.KindTimeout, herr.Kind())
}

func TestRetryableError_ErrorAs(t *testing.T) {
	root := errors.New("network timeout")
	err := &RetryableError{StatusCode: 408, Message: "request timeout", RetryAfter: 5 * time.Second, Err: root}

	var asRetryErr *RetryableError
	require.ErrorAs(t, err, &asRetryErr)
	assert.Equal(t, 408, asRetryErr.StatusCode)
}
