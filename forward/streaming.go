package forward

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentflow/llmgate/breaker"
)

// errStreamIdleTimeout is returned from idleTimeoutReader.Read when no
// bytes arrive within the configured gap. The streaming Result's Finalize
// callback records it as a system-error decision-chain entry.
var errStreamIdleTimeout = errors.New("stream idle timeout")

// idleTimeoutReader enforces a maximum gap between successive reads of
// an upstream SSE body. Each Read races the underlying reader against a
// timer reset on every call; a fired timer surfaces as an error instead
// of silently hanging the attempt.
type idleTimeoutReader struct {
	rc   io.ReadCloser
	idle time.Duration
}

func newIdleTimeoutReader(rc io.ReadCloser, idle time.Duration) io.ReadCloser {
	return &idleTimeoutReader{rc: rc, idle: idle}
}

type readResult struct {
	n   int
	err error
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	done := make(chan readResult, 1)
	go func() {
		n, err := r.rc.Read(p)
		done <- readResult{n, err}
	}()
	timer := time.NewTimer(r.idle)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, errStreamIdleTimeout
	}
}

func (r *idleTimeoutReader) Close() error { return r.rc.Close() }

// sseTerminalErrorSniffer wraps a stream body, scanning each chunk for an
// SSE `event: error` line or a `"type":"error"` JSON marker so the caller
// can tell, at stream end, whether the upstream sent a terminal error
// event mid-stream (which must not be recorded as a provider success).
type sseTerminalErrorSniffer struct {
	rc      io.ReadCloser
	sawErr  bool
	scanBuf bytes.Buffer
}

func newSSETerminalErrorSniffer(rc io.ReadCloser) *sseTerminalErrorSniffer {
	return &sseTerminalErrorSniffer{rc: rc}
}

func (s *sseTerminalErrorSniffer) Read(p []byte) (int, error) {
	n, err := s.rc.Read(p)
	if n > 0 {
		s.scanBuf.Write(p[:n])
		if bytes.Contains(s.scanBuf.Bytes(), []byte("event: error")) ||
			bytes.Contains(s.scanBuf.Bytes(), []byte(`"type":"error"`)) {
			s.sawErr = true
		}
		// Bound the scan window; only the tail matters for a running
		// match against a marker shorter than this.
		if s.scanBuf.Len() > 256 {
			tail := s.scanBuf.Bytes()[s.scanBuf.Len()-128:]
			s.scanBuf.Reset()
			s.scanBuf.Write(tail)
		}
	}
	return n, err
}

func (s *sseTerminalErrorSniffer) Close() error { return s.rc.Close() }

// SawTerminalError reports whether a terminal error marker was observed
// in the stream. Only meaningful after the stream has been fully drained.
func (s *sseTerminalErrorSniffer) SawTerminalError() bool { return s.sawErr }

// DeferredFinalization is one in-flight streaming attempt's pending
// success disposition. Receiving SSE response headers is not itself a
// success: recording the breaker success waits until the stream actually
// completes without a terminal error. Commit and Discard are one-shot —
// whichever runs first wins and Consumed reports true afterwards, so a
// late duplicate event (or a race between stream-end and an idle-timeout)
// can never double-apply or apply-after-cancel.
type DeferredFinalization struct {
	providerBreaker *breaker.Registry
	endpointBreaker *breaker.Registry
	providerID      string
	endpointID      string

	once     sync.Once
	consumed int32
}

// NewDeferredFinalization starts a pending finalization for one
// streaming attempt against (providerID, endpointID).
func NewDeferredFinalization(providerBreaker, endpointBreaker *breaker.Registry, providerID, endpointID string) *DeferredFinalization {
	return &DeferredFinalization{
		providerBreaker: providerBreaker,
		endpointBreaker: endpointBreaker,
		providerID:      providerID,
		endpointID:      endpointID,
	}
}

// Commit applies the deferred success — breaker recordSuccess on both
// keyspaces — if this is the first call. Returns false if the
// finalization was already consumed (by a prior Commit or Discard).
func (d *DeferredFinalization) Commit() bool {
	applied := false
	d.once.Do(func() {
		atomic.StoreInt32(&d.consumed, 1)
		if d.providerBreaker != nil {
			d.providerBreaker.RecordSuccess(d.providerID)
		}
		if d.endpointBreaker != nil {
			d.endpointBreaker.RecordSuccess(d.endpointID)
		}
		applied = true
	})
	return applied
}

// Discard consumes the finalization without applying it — the stream
// ended in a terminal error after headers were already sent to the
// client, so the attempt must not be recorded as a success.
func (d *DeferredFinalization) Discard() {
	d.once.Do(func() {
		atomic.StoreInt32(&d.consumed, 1)
	})
}

// Consumed reports whether Commit or Discard has already run.
func (d *DeferredFinalization) Consumed() bool {
	return atomic.LoadInt32(&d.consumed) == 1
}
