package forward

import (
	"github.com/agentflow/llmgate/ratelimit"
)

// RateLimitError means the rate-limit guard refused to admit the
// request. It escapes immediately; no provider was ever tried.
type RateLimitError struct {
	Exceeded *ratelimit.Exceeded
}

func (e *RateLimitError) Error() string { return "forward: rate limit exceeded" }

// ClientAbortError means the client closed the connection mid-attempt.
// It escapes immediately and is never recorded against any breaker.
type ClientAbortError struct{}

func (e *ClientAbortError) Error() string { return "forward: client aborted request" }

// NonRetryableClientError means the request itself violates an upstream
// hard constraint. It escapes immediately, carrying the upstream's
// verbatim status and body for the caller to render unmodified.
type NonRetryableClientError struct {
	StatusCode int
	Body       []byte
}

func (e *NonRetryableClientError) Error() string { return "forward: non-retryable client error" }

// AllProvidersUnavailableError means the outer loop exhausted every
// provider (or hit MAX_PROVIDER_SWITCHES) without a success. Callers
// must never attach a provider identity to the message they render for
// this error.
type AllProvidersUnavailableError struct{}

func (e *AllProvidersUnavailableError) Error() string {
	return "forward: all providers unavailable"
}
