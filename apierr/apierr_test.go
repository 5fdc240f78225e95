package apierr

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentflow/llmgate/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpstreamMessage_NestedErrorObject(t *testing.T) {
	body := []byte(`{"error":{"message":"invalid request","type":"invalid_request_error"}}`)
	msg, typ := ParseUpstreamMessage(body)
	assert.Equal(t, "invalid request", msg)
	assert.Equal(t, "invalid_request_error", typ)
}

func TestParseUpstreamMessage_FlatMessage(t *testing.T) {
	msg, _ := ParseUpstreamMessage([]byte(`{"message":"boom"}`))
	assert.Equal(t, "boom", msg)
}

func TestParseUpstreamMessage_ErrorString(t *testing.T) {
	msg, _ := ParseUpstreamMessage([]byte(`{"error":"not found"}`))
	assert.Equal(t, "not found", msg)
}

func TestParseUpstreamMessage_DetailList(t *testing.T) {
	msg, _ := ParseUpstreamMessage([]byte(`{"detail":[{"msg":"field required"}]}`))
	assert.Equal(t, "field required", msg)
}

func TestParseUpstreamMessage_OpaqueTextTruncated(t *testing.T) {
	text := make([]byte, 800)
	for i := range text {
		text[i] = 'x'
	}
	msg, typ := ParseUpstreamMessage(text)
	assert.Len(t, msg, maxUpstreamTextLen)
	assert.Empty(t, typ)
}

func TestWriteAllProvidersUnavailable_NeverLeaksProviderIdentity(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAllProvidersUnavailable(rec)

	assert.Equal(t, 503, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, string(KindAllProvidersUnavailable), env.Error.Type)
	assert.Equal(t, "All providers temporarily unavailable, try again later", env.Error.Message)
}

func TestWriteRateLimit_SetsRetryAfterAndDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	exceeded := &ratelimit.Exceeded{
		Type:       ratelimit.LimitUserRPM,
		ResourceID: "user-1",
		Current:    61,
		Limit:      60,
		ResetAt:    time.Now().Add(30 * time.Second),
	}
	WriteRateLimit(rec, exceeded)

	assert.Equal(t, 429, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body struct {
		Envelope
		RateLimitDetail
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(ratelimit.LimitUserRPM), body.LimitType)
	assert.Equal(t, 61.0, body.CurrentUsage)
}

func TestWriteClientInputError_PassesUpstreamMessageVerbatim(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteClientInputError(rec, 400, []byte(`{"error":{"message":"bad model name"}}`))

	assert.Equal(t, 400, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "bad model name", env.Error.Message)
	assert.Equal(t, string(KindClientInputError), env.Error.Type)
}
