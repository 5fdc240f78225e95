package rectify

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/agentflow/llmgate/config"
)

// Rectifier applies the conditional, audited body rewrites for one
// provider. AlwaysOn mutations are handled separately by
// ApplyAlwaysOnHeaders/StripUnderscorePrefixed since they need no
// provider context.
type Rectifier struct {
	Provider config.Provider
}

// New builds a Rectifier for one provider's preferences.
func New(provider config.Provider) *Rectifier {
	return &Rectifier{Provider: provider}
}

// ApplyCacheTTL walks body's Anthropic-style message content blocks and,
// for each cache_control object of type "ephemeral", sets its ttl
// according to the provider's preference ("5m" or "1h"). A 1h preference
// also requires the two beta headers.
func (r *Rectifier) ApplyCacheTTL(body map[string]any, headers http.Header) *Entry {
	pref := r.Provider.CacheTTLPreference
	if pref != "5m" && pref != "1h" {
		return nil
	}

	applied := 0
	walkEphemeralCacheControls(body, func(cc map[string]any) {
		cc["ttl"] = pref
		applied++
	})
	if applied == 0 {
		return nil
	}

	if pref == "1h" {
		addBetaHeader(headers, "extended-cache-ttl-2025-04-11")
		addBetaHeader(headers, "prompt-caching-2024-07-31")
	}
	return &Entry{Setting: "cache_ttl_override", Detail: map[string]any{"ttl": pref, "blocks_touched": applied}}
}

func walkEphemeralCacheControls(v any, fn func(map[string]any)) {
	switch node := v.(type) {
	case map[string]any:
		if cc, ok := node["cache_control"].(map[string]any); ok {
			if t, _ := cc["type"].(string); t == "ephemeral" {
				fn(cc)
			}
		}
		for _, child := range node {
			walkEphemeralCacheControls(child, fn)
		}
	case []any:
		for _, item := range node {
			walkEphemeralCacheControls(item, fn)
		}
	}
}

func addBetaHeader(h http.Header, flag string) {
	existing := h.Get("Anthropic-Beta")
	if existing == "" {
		h.Set("Anthropic-Beta", flag)
		return
	}
	h.Set("Anthropic-Beta", existing+","+flag)
}

// ApplyContext1M resolves the provider's context-1m preference
// (inherit/force_enable/disabled) and, when it applies, adds the 1M
// context beta flag.
func (r *Rectifier) ApplyContext1M(headers http.Header, modelSupports1M bool) *Entry {
	pref := r.Provider.Context1MPreference
	var enable bool
	switch pref {
	case "force_enable":
		enable = true
	case "disabled":
		enable = false
	default: // "", "inherit"
		enable = modelSupports1M
	}
	if !enable {
		return nil
	}
	addBetaHeader(headers, "context-1m-2025-08-07")
	return &Entry{Setting: "context_1m", Detail: map[string]any{"preference": pref}}
}

// ApplyMetadataUserID injects metadata.user_id when absent and both keyID
// and sessionID are known; the forwarder calls it only for Anthropic
// providers. The injected value has the documented
// shape: user_<sha256("claude_user_"+keyID)>_account__session_<sessionID>.
func (r *Rectifier) ApplyMetadataUserID(body map[string]any, keyID, sessionID string) *Entry {
	if keyID == "" || sessionID == "" {
		return nil
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
		body["metadata"] = meta
	}
	if _, exists := meta["user_id"]; exists {
		return nil
	}

	sum := sha256.Sum256([]byte("claude_user_" + keyID))
	userID := "user_" + hex.EncodeToString(sum[:]) + "_account__session_" + sessionID
	meta["user_id"] = userID
	return &Entry{Setting: "metadata_user_id_injection", Detail: map[string]any{"user_id": userID}}
}

// defaultThinkingBudgetMinimum is the single floor the thinking-budget
// rectifier raises a too-small budget to when no positive minimum is
// passed; it does not vary by model family.
const defaultThinkingBudgetMinimum = 1024

// StripThinkingBlocks removes thinking and redacted_thinking content
// blocks and any top-level signature field, for the thinking-signature
// rectifier's single retry.
func StripThinkingBlocks(body map[string]any) {
	msgs, _ := body["messages"].([]any)
	for _, m := range msgs {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].([]any)
		if !ok {
			continue
		}
		filtered := content[:0]
		for _, c := range content {
			block, ok := c.(map[string]any)
			if !ok {
				filtered = append(filtered, c)
				continue
			}
			if t, _ := block["type"].(string); t == "thinking" || t == "redacted_thinking" {
				continue
			}
			delete(block, "signature")
			filtered = append(filtered, block)
		}
		msg["content"] = filtered
	}
}

// RaiseThinkingBudget sets thinking.budget_tokens to at least the
// documented minimum, for the thinking-budget rectifier's single retry.
func RaiseThinkingBudget(body map[string]any, minimum int) *Entry {
	if minimum <= 0 {
		minimum = defaultThinkingBudgetMinimum
	}
	thinking, _ := body["thinking"].(map[string]any)
	if thinking == nil {
		thinking = map[string]any{}
		body["thinking"] = thinking
	}
	current, _ := thinking["budget_tokens"].(float64)
	if int(current) >= minimum {
		return nil
	}
	thinking["budget_tokens"] = minimum
	return &Entry{Setting: "thinking_budget_raised", Detail: map[string]any{"budget_tokens": minimum}}
}

// ApplyProviderOverrides stamps the provider's strong preferences
// (max-tokens, thinking-budget, reasoning-effort, reasoning-summary,
// text-verbosity, parallel-tool-calls, Google-search) over whatever the
// client sent, for every preference the provider set to something other
// than "inherit".
func (r *Rectifier) ApplyProviderOverrides(body map[string]any) []Entry {
	var entries []Entry
	p := r.Provider

	if p.MaxTokensOverride > 0 {
		body["max_tokens"] = p.MaxTokensOverride
		entries = append(entries, Entry{Setting: "max_tokens_override", Detail: map[string]any{"max_tokens": p.MaxTokensOverride}})
	}
	if p.ThinkingBudgetTokens > 0 {
		thinking, _ := body["thinking"].(map[string]any)
		if thinking == nil {
			thinking = map[string]any{}
			body["thinking"] = thinking
		}
		thinking["budget_tokens"] = p.ThinkingBudgetTokens
		entries = append(entries, Entry{Setting: "thinking_budget_override", Detail: map[string]any{"budget_tokens": p.ThinkingBudgetTokens}})
	}
	if p.ReasoningEffort != "" && p.ReasoningEffort != "inherit" {
		body["reasoning_effort"] = p.ReasoningEffort
		entries = append(entries, Entry{Setting: "reasoning_effort_override", Detail: map[string]any{"value": p.ReasoningEffort}})
	}
	if p.ReasoningSummary != "" && p.ReasoningSummary != "inherit" {
		body["reasoning_summary"] = p.ReasoningSummary
		entries = append(entries, Entry{Setting: "reasoning_summary_override", Detail: map[string]any{"value": p.ReasoningSummary}})
	}
	if p.TextVerbosity != "" && p.TextVerbosity != "inherit" {
		body["text_verbosity"] = p.TextVerbosity
		entries = append(entries, Entry{Setting: "text_verbosity_override", Detail: map[string]any{"value": p.TextVerbosity}})
	}
	if p.ParallelToolCalls != nil {
		body["parallel_tool_calls"] = *p.ParallelToolCalls
		entries = append(entries, Entry{Setting: "parallel_tool_calls_override", Detail: map[string]any{"value": *p.ParallelToolCalls}})
	}
	if p.GoogleSearchEnabled != nil {
		body["google_search_enabled"] = *p.GoogleSearchEnabled
		entries = append(entries, Entry{Setting: "google_search_override", Detail: map[string]any{"value": *p.GoogleSearchEnabled}})
	}
	return entries
}
