package forward

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentflow/llmgate/transport"
)

// streamTimeouts carries the two timeout dimensions a streaming attempt
// observes: firstByte bounds the wait for response headers, idle bounds
// the gap between subsequent body reads. A non-streaming attempt ignores
// both — its ctx already carries the total-elapsed deadline.
type streamTimeouts struct {
	streaming bool
	firstByte time.Duration
	idle      time.Duration
}

// outbound is one fully-rectified HTTP exchange to perform.
type outbound struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// attemptOutcome normalizes every way an attempt can end — success,
// upstream error status, transport failure, or timeout — into the shape
// classify.Input is built from.
type attemptOutcome struct {
	StatusCode    int
	Headers       http.Header
	Body          []byte
	TimedOut      bool // ctx deadline exceeded on our own per-attempt budget
	ClientAborted bool // the caller's own context was canceled
	ErrName       string
	ErrMessage    string
	HTTP2Fallback bool

	// Streaming marks a server-sent-event response: BodyStream carries
	// the live, unbuffered upstream body instead of Body, and the
	// forwarder must defer success until the stream actually completes.
	Streaming  bool
	BodyStream io.ReadCloser
}

// isSSE reports whether resp's content-type marks a server-sent-event
// response, per the spec's detection rule.
func isSSE(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "text/event-stream")
}

// Transport performs one outbound exchange against an endpoint's agent
// pool entry, transparently retrying once on HTTP/2 and marking that
// agent unhealthy, per the pool's documented fallback contract.
type Transport struct {
	pool *transport.Pool
}

// NewTransport builds a Transport over pool.
func NewTransport(pool *transport.Pool) *Transport {
	return &Transport{pool: pool}
}

// Do executes ob against key, retrying once over HTTP/1.1 if an HTTP/2
// protocol-level error is observed on an HTTP/2-enabled key.
func (t *Transport) Do(ctx context.Context, ob outbound, key transport.Key, callerCtx context.Context, st streamTimeouts) attemptOutcome {
	out := t.doOnce(ctx, ob, key, callerCtx, st)
	if out.HTTP2Fallback && key.HTTP2Enabled {
		t.pool.MarkUnhealthy(key, "http2 protocol error")
		return t.doOnce(ctx, ob, key.Fallback(), callerCtx, st)
	}
	return out
}

func (t *Transport) doOnce(ctx context.Context, ob outbound, key transport.Key, callerCtx context.Context, st streamTimeouts) attemptOutcome {
	client, err := t.pool.Get(key)
	if err != nil {
		return attemptOutcome{ErrName: "PoolError", ErrMessage: err.Error()}
	}

	reqCtx := ctx
	var stopFirstByte func()
	if st.streaming && st.firstByte > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithCancel(ctx)
		timer := time.AfterFunc(st.firstByte, cancel)
		stopFirstByte = func() { timer.Stop() }
		defer func() {
			if stopFirstByte != nil {
				stopFirstByte()
			}
		}()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, ob.Method, ob.URL, bytes.NewReader(ob.Body))
	if err != nil {
		return attemptOutcome{ErrName: "BuildRequestError", ErrMessage: err.Error()}
	}
	httpReq.Header = ob.Headers

	resp, err := client.Do(httpReq)
	if err != nil {
		return classifyTransportError(err, callerCtx, key)
	}
	// Headers are in hand: the first-byte-streaming deadline no longer
	// applies to the remainder of this exchange.
	if stopFirstByte != nil {
		stopFirstByte()
	}

	if st.streaming && resp.StatusCode >= 200 && resp.StatusCode < 300 && isSSE(resp.Header) {
		body := resp.Body
		if st.idle > 0 {
			body = newIdleTimeoutReader(body, st.idle)
		}
		return attemptOutcome{StatusCode: resp.StatusCode, Headers: resp.Header, Streaming: true, BodyStream: body}
	}

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(err, callerCtx, key)
	}

	return attemptOutcome{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}
}

// classifyTransportError distinguishes the caller's own cancellation
// (client abort) from our per-attempt timeout (synthetic 524) from a
// genuine HTTP/2 protocol fault (fallback candidate) from everything
// else (system error).
func classifyTransportError(err error, callerCtx context.Context, key transport.Key) attemptOutcome {
	if callerCtx != nil && callerCtx.Err() != nil {
		return attemptOutcome{ClientAborted: true, ErrName: "AbortError", ErrMessage: err.Error()}
	}
	if isDeadlineExceeded(err) {
		return attemptOutcome{TimedOut: true, StatusCode: 524, ErrName: "Timeout", ErrMessage: err.Error()}
	}
	if key.HTTP2Enabled && isHTTP2ProtocolError(err) {
		return attemptOutcome{HTTP2Fallback: true, ErrName: "HTTP2ProtocolError", ErrMessage: err.Error()}
	}
	return attemptOutcome{ErrName: "SystemError", ErrMessage: err.Error()}
}

func isDeadlineExceeded(err error) bool {
	return strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded")
}

func isHTTP2ProtocolError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "http2:") || strings.Contains(msg, "HTTP/2")
}

// endpointKey derives the agent-pool key for one endpoint/provider pair.
func endpointKey(endpointURL, proxyURL string, http2Enabled bool) (transport.Key, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return transport.Key{}, err
	}
	return transport.Key{Origin: u.Scheme + "://" + u.Host, ProxyURL: proxyURL, HTTP2Enabled: http2Enabled}, nil
}
