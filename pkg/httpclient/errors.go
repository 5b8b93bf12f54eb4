package httpclient

import (
	"fmt"
	"time"

	"github.com/chrisyu/mcphost/pkg/herrors"
)

// RetryableError represents an error that may be retried. Client.Do returns
// one when every retry attempt against an upstream (an LLM provider's chat
// endpoint) was exhausted.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}

// AsHerror classifies a RetryableError into the host's typed error taxonomy.
// Client.Do returns transport failures (dial, TLS, context deadline) as plain
// errors without retrying, so a zero StatusCode comes only from Client.Do's
// fallback return after its loop, with no HTTP response recorded; it maps to
// KindTimeout. A nonzero StatusCode means an upstream HTTP server
// itself kept rejecting the request, which maps to KindUpstream so the HTTP
// surface reports 502 rather than 504.
func (e *RetryableError) AsHerror() *herrors.Error {
	if e.StatusCode == 0 {
		return herrors.Timeout(e.Message, e)
	}
	return herrors.Upstream(e.Message, e)
}
