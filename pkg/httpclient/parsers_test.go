package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseOpenAIHeaders(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    RateLimitInfo
	}{
		{"empty", map[string]string{}, RateLimitInfo{}},
		{
			"retry_after",
			map[string]string{"Retry-After": "30"},
			RateLimitInfo{RetryAfter: 30 * time.Second},
		},
		{
			"retry_after_invalid",
			map[string]string{"Retry-After": "not-a-number"},
			RateLimitInfo{},
		},
		{
			"token_reset_takes_priority_over_request_reset",
			map[string]string{
				"x-ratelimit-reset-tokens":   "1640995200",
				"x-ratelimit-reset-requests": "1640995300",
			},
			RateLimitInfo{ResetTime: 1640995200},
		},
		{
			"remaining_counters",
			map[string]string{
				"x-ratelimit-remaining-requests": "100",
				"x-ratelimit-remaining-tokens":   "50000",
			},
			RateLimitInfo{RequestsRemaining: 100, TokensRemaining: 50000},
		},
		{
			"complete_set",
			map[string]string{
				"Retry-After":                    "60",
				"x-ratelimit-reset-tokens":       "1640995200",
				"x-ratelimit-remaining-requests": "50",
				"x-ratelimit-remaining-tokens":   "25000",
			},
			RateLimitInfo{RetryAfter: 60 * time.Second, ResetTime: 1640995200, RequestsRemaining: 50, TokensRemaining: 25000},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			got := ParseOpenAIHeaders(headers)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnthropicHeaders(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		want    RateLimitInfo
	}{
		{"empty", map[string]string{}, RateLimitInfo{}},
		{
			"retry_after",
			map[string]string{"retry-after": "45"},
			RateLimitInfo{RetryAfter: 45 * time.Second},
		},
		{
			"reset_time_rfc3339",
			map[string]string{"anthropic-ratelimit-requests-reset": "2024-01-01T00:00:00Z"},
			RateLimitInfo{ResetTime: 1704067200},
		},
		{
			"remaining_counters",
			map[string]string{
				"anthropic-ratelimit-requests-remaining":      "10",
				"anthropic-ratelimit-input-tokens-remaining":  "1000",
				"anthropic-ratelimit-output-tokens-remaining": "500",
			},
			RateLimitInfo{RequestsRemaining: 10, InputTokensRemaining: 1000, OutputTokensRemaining: 500},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			for k, v := range tt.headers {
				headers.Set(k, v)
			}
			got := ParseAnthropicHeaders(headers)
			assert.Equal(t, tt.want, got)
		})
	}
}
