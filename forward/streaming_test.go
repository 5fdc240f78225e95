package forward

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowReader emits one chunk immediately, then blocks forever — it
// models an upstream SSE connection that goes idle mid-stream.
type slowReader struct {
	chunk []byte
	sent  bool
	block chan struct{}
}

func newSlowReader(chunk string) *slowReader {
	return &slowReader{chunk: []byte(chunk), block: make(chan struct{})}
}

func (r *slowReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		n := copy(p, r.chunk)
		return n, nil
	}
	<-r.block
	return 0, io.EOF
}

func (r *slowReader) Close() error { return nil }

func TestIdleTimeoutReader_FiresOnGap(t *testing.T) {
	rc := newIdleTimeoutReader(newSlowReader("event: message\ndata: a\n\n"), 20*time.Millisecond)
	defer rc.Close()

	buf := make([]byte, 1024)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	assert.True(t, n > 0)

	_, err = rc.Read(buf)
	assert.True(t, errors.Is(err, errStreamIdleTimeout))
}

func TestIdleTimeoutReader_NoTimeoutWhenDataKeepsFlowing(t *testing.T) {
	rc := newIdleTimeoutReader(io.NopCloser(strings.NewReader("event: message\ndata: ok\n\n")), time.Second)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ok")
}

func TestSSETerminalErrorSniffer_DetectsErrorEvent(t *testing.T) {
	s := newSSETerminalErrorSniffer(io.NopCloser(strings.NewReader("event: error\ndata: {\"message\":\"boom\"}\n\n")))
	_, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.True(t, s.SawTerminalError())
}

func TestSSETerminalErrorSniffer_CleanStreamNeverFlagged(t *testing.T) {
	s := newSSETerminalErrorSniffer(io.NopCloser(strings.NewReader("event: message\ndata: {\"text\":\"hi\"}\n\n")))
	_, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.False(t, s.SawTerminalError())
}

func TestDeferredFinalization_ConsumeIsOneShot(t *testing.T) {
	d := NewDeferredFinalization(nil, nil, "p1", "e1")
	assert.True(t, d.Commit())
	assert.False(t, d.Commit())
	assert.True(t, d.Consumed())
}
