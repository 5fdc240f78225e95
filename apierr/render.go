package apierr

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentflow/llmgate/ratelimit"
)

// WriteJSON writes v as the response body with the given status code.
// Grounded on the teacher's api/handlers/common.go WriteJSON helper.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteEnvelope writes e's envelope as the JSON body, using e.Status as
// the HTTP status code.
func WriteEnvelope(w http.ResponseWriter, e Envelope) {
	WriteJSON(w, e.Status, e)
}

// WriteRateLimit renders a 429 for an exceeded ratelimit check, setting
// Retry-After and a body carrying the limit's detail alongside the
// standard envelope.
func WriteRateLimit(w http.ResponseWriter, exceeded *ratelimit.Exceeded) {
	retryAfter := time.Until(exceeded.ResetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	w.Header().Set("Retry-After", formatSeconds(retryAfter))

	body := struct {
		Envelope
		RateLimitDetail
	}{
		Envelope: New(KindRateLimit, rateLimitMessage(exceeded), http.StatusTooManyRequests),
		RateLimitDetail: RateLimitDetail{
			LimitType:    string(exceeded.Type),
			CurrentUsage: exceeded.Current,
			LimitValue:   exceeded.Limit,
			ResetTime:    exceeded.ResetAt.UTC().Format(time.RFC3339),
		},
	}
	WriteJSON(w, http.StatusTooManyRequests, body)
}

func rateLimitMessage(exceeded *ratelimit.Exceeded) string {
	return "rate limit exceeded: " + string(exceeded.Type)
}

func formatSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs < 0 {
		secs = 0
	}
	return itoa(secs)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// WriteClientAbort records a 499 disposition for logging purposes. Per
// the requirements, the client has already disconnected by the time this
// disposition is reached, so there is ordinarily nothing left to write;
// this exists so handlers have a single place to attempt the write
// without special-casing the taxonomy.
func WriteClientAbort(w http.ResponseWriter) {
	WriteEnvelope(w, New(KindClientAbort, "client closed request", 499))
}

// WriteClientInputError passes an upstream's verbatim message through to
// the client for a non-retryable client error (4xx other than 429/404).
func WriteClientInputError(w http.ResponseWriter, status int, upstreamBody []byte) {
	message, _ := ParseUpstreamMessage(upstreamBody)
	WriteEnvelope(w, New(KindClientInputError, message, status))
}

// WriteResourceNotFound renders a 404 once a provider's retry budget for
// a missing resource is exhausted.
func WriteResourceNotFound(w http.ResponseWriter, upstreamBody []byte) {
	message, _ := ParseUpstreamMessage(upstreamBody)
	if message == "" {
		message = "resource not found"
	}
	WriteEnvelope(w, New(KindResourceNotFound, message, http.StatusNotFound))
}

// WriteTimeout renders a 504 for a single-endpoint timeout surfaced
// directly to the client (outside the forwarder's own retry/failover
// handling, e.g. a probe request).
func WriteTimeout(w http.ResponseWriter) {
	WriteEnvelope(w, New(KindTimeoutError, "upstream request timed out", http.StatusGatewayTimeout))
}

// WriteAllProvidersUnavailable renders the fixed 503 body for full
// provider exhaustion. It never includes the last provider's identity or
// error message.
func WriteAllProvidersUnavailable(w http.ResponseWriter) {
	WriteEnvelope(w, AllProvidersUnavailable())
}
