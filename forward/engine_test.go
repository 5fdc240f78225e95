package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentflow/llmgate/breaker"
	"github.com/agentflow/llmgate/classify"
	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/ratelimit"
	"github.com/agentflow/llmgate/routing"
	"github.com/agentflow/llmgate/transport"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, providers []config.Provider, endpoints []config.Endpoint) *Engine {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rateGuard := ratelimit.NewGuard(ratelimit.NewRedisStore(rdb))

	breakerGuard := breaker.NewGuard(breaker.DefaultConfig(), breaker.DefaultEndpointConfig(), breaker.DefaultVendorConfig())
	resolver := routing.NewResolver(breakerGuard)
	pool := transport.NewPool()
	classifier := classify.New(classify.NewRuleRegistry())

	cfg := config.ForwarderConfig{MaxRetryAttemptsDefault: 2, MaxProviderSwitches: 20}
	eng := New(cfg, providers, endpoints, resolver, breakerGuard, rateGuard, pool, classifier, nil, nil)
	eng.retryDelay = time.Millisecond
	return eng
}

func baseRequest() Request {
	return Request{
		SessionID:    "sess-1",
		ProviderType: "anthropic",
		Method:       "POST",
		Path:         "/v1/messages",
		Headers:      http.Header{},
		Body:         map[string]any{"model": "claude-opus"},
		Key:          config.Key{ID: "key-1"},
		User:         config.User{ID: "user-1"},
	}
}

func TestEngine_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"content":[{"type":"text","text":"hi"}]}`))
	}))
	defer srv.Close()

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	result, err := eng.Forward(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, []string{"p1"}, result.ProviderChain)

	terminal, ok := result.Chain.Terminal()
	require.True(t, ok)
	assert.Equal(t, "request_success", string(terminal.Reason))
}

func TestEngine_FailsOverToSecondProviderAfterSystemError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	providers := []config.Provider{
		{ID: "broken", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 1},
		{ID: "healthy", VendorID: "v2", ProviderType: "anthropic", Priority: 2, Weight: 1, MaxRetryAttempts: 1},
	}
	endpoints := []config.Endpoint{
		{ID: "e-broken", VendorID: "v1", ProviderType: "anthropic", URL: "http://127.0.0.1:1", Enabled: true},
		{ID: "e-healthy", VendorID: "v2", ProviderType: "anthropic", URL: srv.URL, Enabled: true},
	}

	eng := newTestEngine(t, providers, endpoints)
	result, err := eng.Forward(context.Background(), baseRequest())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, []string{"broken", "healthy"}, result.ProviderChain)
}

func TestEngine_NonRetryableClientErrorEscapesImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":{"message":"prompt is too long for this model"}}`))
	}))
	defer srv.Close()

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 3}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	result, err := eng.Forward(context.Background(), baseRequest())
	assert.Nil(t, result)
	var nonRetryable *NonRetryableClientError
	require.ErrorAs(t, err, &nonRetryable)
	assert.Equal(t, 400, nonRetryable.StatusCode)
	assert.Contains(t, string(nonRetryable.Body), "prompt is too long")
}

func TestEngine_AllProvidersUnavailableWhenEveryProviderFails(t *testing.T) {
	providers := []config.Provider{
		{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 1},
	}
	endpoints := []config.Endpoint{
		{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: "http://127.0.0.1:1", Enabled: true},
	}

	eng := newTestEngine(t, providers, endpoints)
	result, err := eng.Forward(context.Background(), baseRequest())
	assert.Nil(t, result)
	var exhausted *AllProvidersUnavailableError
	require.ErrorAs(t, err, &exhausted)
}

func TestEngine_StreamingDefersSuccessUntilFinalize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		w.Write([]byte("event: message\ndata: {\"text\":\"hi\"}\n\n"))
	}))
	defer srv.Close()

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	req := baseRequest()
	req.Streaming = true

	result, err := eng.Forward(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.Streaming)

	// Before the stream is drained, no terminal entry has been recorded
	// and the provider breaker has not seen a success.
	_, hasTerminal := result.Chain.Terminal()
	assert.False(t, hasTerminal)

	data, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	result.Stream.Close()
	assert.Contains(t, string(data), "hi")

	result.Finalize(nil)

	terminal, ok := result.Chain.Terminal()
	require.True(t, ok)
	assert.Equal(t, "request_success", string(terminal.Reason))
}

func TestEngine_StreamingTerminalErrorEventDiscardsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		w.Write([]byte("event: error\ndata: {\"message\":\"upstream overloaded\"}\n\n"))
	}))
	defer srv.Close()

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	req := baseRequest()
	req.Streaming = true

	result, err := eng.Forward(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, readErr := io.ReadAll(result.Stream)
	require.NoError(t, readErr)
	result.Stream.Close()
	result.Finalize(nil)

	terminal, ok := result.Chain.Terminal()
	require.True(t, ok)
	assert.Equal(t, "system_error", string(terminal.Reason))
}

func TestEngine_ClientAbortRecordsSystemErrorReason(t *testing.T) {
	blocking := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocking
	}))
	defer srv.Close()
	defer close(blocking)

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 3, TotalNonStreamingMs: 60_000}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := eng.Forward(ctx, baseRequest())
	assert.Nil(t, result)
	var aborted *ClientAbortError
	require.ErrorAs(t, err, &aborted)
}

// TestEngine_EndpointBreakerOnlyCountsTimeoutsAndSystemErrors exercises the
// review-flagged gap: ordinary (non-timeout) provider errors must not trip
// the endpoint breaker, but a timed-out provider-error attempt must, and so
// must a system-error attempt — breaker/guard.go's doc comment requires
// "updated only on SYSTEM-ERROR or timeout (524) outcomes".
func TestEngine_EndpointBreakerOnlyCountsTimeoutsAndSystemErrors(t *testing.T) {
	t.Run("ordinary provider error does not count", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
		}))
		defer srv.Close()

		providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 1}}
		endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

		eng := newTestEngine(t, providers, endpoints)
		_, err := eng.Forward(context.Background(), baseRequest())
		require.Error(t, err)

		snap := eng.breakers.Endpoint.Snapshot("e1")
		assert.Equal(t, 0, snap.FailureCount)
	})

	t.Run("timed-out provider error counts", func(t *testing.T) {
		blocking := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-blocking
		}))
		defer srv.Close()
		defer close(blocking)

		providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 1, TotalNonStreamingMs: 10}}
		endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

		eng := newTestEngine(t, providers, endpoints)
		_, err := eng.Forward(context.Background(), baseRequest())
		require.Error(t, err)

		snap := eng.breakers.Endpoint.Snapshot("e1")
		assert.Equal(t, 1, snap.FailureCount)
	})

	t.Run("system error counts", func(t *testing.T) {
		providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1, MaxRetryAttempts: 1}}
		endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: "http://127.0.0.1:1", Enabled: true}}

		eng := newTestEngine(t, providers, endpoints)
		_, err := eng.Forward(context.Background(), baseRequest())
		require.Error(t, err)

		snap := eng.breakers.Endpoint.Snapshot("e1")
		assert.Equal(t, 1, snap.FailureCount)
	})
}

func TestEngine_StreamingDiscardRecordsBreakerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(200)
		w.Write([]byte("event: error\ndata: {\"message\":\"upstream overloaded\"}\n\n"))
	}))
	defer srv.Close()

	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: srv.URL, Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	req := baseRequest()
	req.Streaming = true

	result, err := eng.Forward(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)

	_, readErr := io.ReadAll(result.Stream)
	require.NoError(t, readErr)
	result.Stream.Close()
	result.Finalize(nil)

	assert.Equal(t, 1, eng.breakers.Provider.Snapshot("p1").FailureCount)
	assert.Equal(t, 1, eng.breakers.Endpoint.Snapshot("e1").FailureCount)
}

func TestEngine_RateLimitRejectsBeforeTryingAnyProvider(t *testing.T) {
	providers := []config.Provider{{ID: "p1", VendorID: "v1", ProviderType: "anthropic", Priority: 1, Weight: 1}}
	endpoints := []config.Endpoint{{ID: "e1", VendorID: "v1", ProviderType: "anthropic", URL: "http://127.0.0.1:1", Enabled: true}}

	eng := newTestEngine(t, providers, endpoints)
	req := baseRequest()
	req.Key.Limits.Total = 1.0

	// Pre-exhaust the key's total USD ceiling via RecordUsage so Admit blocks.
	eng.rateGuard.RecordUsage(context.Background(), ratelimit.Request{Key: req.Key, User: req.User}, 5.0)

	result, err := eng.Forward(context.Background(), req)
	assert.Nil(t, result)
	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, ratelimit.LimitKeyTotalUSD, rateLimited.Exceeded.Type)
}
