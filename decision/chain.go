package decision

import (
	"time"

	"github.com/agentflow/llmgate/breaker"
)

// Reason enumerates the decision-chain entry reasons. Exactly one
// terminal entry per request determines the final disposition.
type Reason string

const (
	RequestSuccess              Reason = "request_success"
	RetrySuccess                Reason = "retry_success"
	RetryFailed                 Reason = "retry_failed"
	SystemErrorReason           Reason = "system_error"
	ResourceNotFound            Reason = "resource_not_found"
	ClientErrorNonRetryable     Reason = "client_error_non_retryable"
	StrictBlockedLegacyFallback Reason = "strict_blocked_legacy_fallback"
	HTTP2Fallback               Reason = "http2_fallback"
)

// Entry is one append-only record. At most one entry exists per
// (AttemptNumber, ProviderID) pair.
type Entry struct {
	Timestamp     time.Time
	ProviderID    string
	EndpointID    string
	Reason        Reason
	AttemptNumber int
	StatusCode    int
	ErrorMessage  string
	CircuitState  breaker.Snapshot
	ErrorDetails  map[string]any
}

// Chain is one request's ordered, append-only decision trail.
type Chain struct {
	sessionID string
	entries   []Entry
}

// New starts an empty chain for one session.
func New(sessionID string) *Chain {
	return &Chain{sessionID: sessionID}
}

// Append adds e to the chain. The caller is the forwarder's single
// cooperative flow, so no locking is needed.
func (c *Chain) Append(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.entries = append(c.entries, e)
}

// Entries returns the chain in append order.
func (c *Chain) Entries() []Entry {
	return c.entries
}

// Terminal returns the chain's last entry and true, or a zero Entry and
// false if the chain is empty.
func (c *Chain) Terminal() (Entry, bool) {
	if len(c.entries) == 0 {
		return Entry{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// SessionID returns the session this chain belongs to.
func (c *Chain) SessionID() string {
	return c.sessionID
}
