package rectify

import (
	"net/http"
	"testing"

	"github.com/agentflow/llmgate/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripUnderscorePrefixed(t *testing.T) {
	body := map[string]any{
		"model": "claude",
		"_internal": map[string]any{
			"trace": "x",
		},
		"messages": []any{
			map[string]any{"role": "user", "_debug": "y", "content": "hi"},
		},
	}

	StripUnderscorePrefixed(body)

	_, hasInternal := body["_internal"]
	assert.False(t, hasInternal)
	msg := body["messages"].([]any)[0].(map[string]any)
	_, hasDebug := msg["_debug"]
	assert.False(t, hasDebug)
	assert.Equal(t, "hi", msg["content"])
}

func TestApplyAlwaysOnHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "123")
	h.Set("Connection", "keep-alive")

	ApplyAlwaysOnHeaders(h, "sk-test", "x-api-key", "api.anthropic.com", "")

	assert.Empty(t, h.Get("Content-Length"))
	assert.Empty(t, h.Get("Connection"))
	assert.Equal(t, "identity", h.Get("Accept-Encoding"))
	assert.Equal(t, "Bearer sk-test", h.Get("Authorization"))
	assert.Equal(t, "sk-test", h.Get("X-Api-Key"))
	assert.Equal(t, "api.anthropic.com", h.Get("Host"))
}

func TestRectifier_ApplyCacheTTL_OneHour(t *testing.T) {
	r := New(config.Provider{CacheTTLPreference: "1h"})
	h := http.Header{}
	body := map[string]any{
		"messages": []any{
			map[string]any{"content": []any{
				map[string]any{"type": "text", "cache_control": map[string]any{"type": "ephemeral"}},
			}},
		},
	}

	entry := r.ApplyCacheTTL(body, h)
	require.NotNil(t, entry)
	assert.Contains(t, h.Get("Anthropic-Beta"), "extended-cache-ttl-2025-04-11")
	assert.Contains(t, h.Get("Anthropic-Beta"), "prompt-caching-2024-07-31")

	block := body["messages"].([]any)[0].(map[string]any)["content"].([]any)[0].(map[string]any)
	cc := block["cache_control"].(map[string]any)
	assert.Equal(t, "1h", cc["ttl"])
}

func TestRectifier_ApplyMetadataUserID_Deterministic(t *testing.T) {
	r := New(config.Provider{})
	body := map[string]any{}

	entry := r.ApplyMetadataUserID(body, "key1", "sess1")
	require.NotNil(t, entry)

	meta := body["metadata"].(map[string]any)
	first := meta["user_id"]
	assert.Contains(t, first, "user_")
	assert.Contains(t, first, "_account__session_sess1")

	// Re-running with the field already present is a no-op.
	entry = r.ApplyMetadataUserID(body, "key1", "sess1")
	assert.Nil(t, entry)
	assert.Equal(t, first, meta["user_id"])
}

func TestStripThinkingBlocks(t *testing.T) {
	body := map[string]any{
		"messages": []any{
			map[string]any{"content": []any{
				map[string]any{"type": "thinking", "signature": "abc"},
				map[string]any{"type": "text", "text": "hello", "signature": "keep-but-strip"},
			}},
		},
	}

	StripThinkingBlocks(body)

	content := body["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	_, hasSig := block["signature"]
	assert.False(t, hasSig)
}

func TestRaiseThinkingBudget(t *testing.T) {
	body := map[string]any{"thinking": map[string]any{"budget_tokens": 100.0}}
	entry := RaiseThinkingBudget(body, 1024)
	require.NotNil(t, entry)
	assert.Equal(t, 1024, body["thinking"].(map[string]any)["budget_tokens"])

	// Already above minimum: no-op.
	entry = RaiseThinkingBudget(body, 1024)
	assert.Nil(t, entry)
}

func TestApplyProviderOverrides(t *testing.T) {
	parallel := true
	r := New(config.Provider{
		MaxTokensOverride: 4096,
		ReasoningEffort:   "high",
		ParallelToolCalls: &parallel,
	})
	body := map[string]any{}

	entries := r.ApplyProviderOverrides(body)
	assert.Len(t, entries, 3)
	assert.Equal(t, 4096, body["max_tokens"])
	assert.Equal(t, "high", body["reasoning_effort"])
	assert.Equal(t, true, body["parallel_tool_calls"])
}
