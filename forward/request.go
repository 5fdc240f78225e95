package forward

import (
	"io"
	"net/http"

	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/decision"
	"github.com/agentflow/llmgate/rectify"
)

// Request is one normalized inbound call to forward. Handlers build this
// from the wire request before handing it to Engine.Forward.
type Request struct {
	SessionID    string
	ProviderType string // "anthropic" | "gemini" | "openai_compat" | "codex"
	Model        string
	ClientAgent  string
	Method       string
	Path         string // appended to the chosen endpoint's base URL
	Headers      http.Header
	Body         map[string]any

	Key  config.Key
	User config.User

	// Probe marks a request that must never write to a breaker or
	// rate-limit counter (count_tokens and health-probe calls).
	Probe bool

	// MCPPassthrough requests never consult the vendor-type breaker —
	// the requirements carve out MCP passthrough calls as always-try.
	MCPPassthrough bool

	// ModelSupports1M feeds the context-1m rectifier's "inherit" branch.
	ModelSupports1M bool

	// CountTokens marks a /v1/messages/count_tokens call: on any error,
	// throw immediately with no retry, no provider switching, and no
	// breaker writes.
	CountTokens bool

	// Streaming marks a request declared as SSE by the client (the body's
	// `stream: true`). It selects the first-byte-streaming response
	// timeout over the total-non-streaming one; actual streaming is
	// confirmed from the upstream response's content-type.
	Streaming bool
}

// Result is a completed forward's success outcome.
type Result struct {
	StatusCode      int
	Headers         http.Header
	Body            []byte
	ProviderChain   []string
	SpecialSettings []rectify.Entry
	Chain           *decision.Chain

	// Streaming marks a deferred-finalization result: Stream carries the
	// live upstream body instead of Body, and Finalize must be called
	// exactly once after the caller finishes draining it (nil err for a
	// clean end-of-stream, non-nil for a read error or an observed
	// terminal SSE error event) before the provider's success/failure is
	// recorded against any breaker or persisted.
	Streaming bool
	Stream    io.ReadCloser
	Finalize  func(err error)
}
