package forward

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/agentflow/llmgate/config"
	"github.com/agentflow/llmgate/rectify"
)

// rectifyForProvider applies the always-on body strip plus every
// conditional body/header rewrite that depends only on the provider (not
// on which of its endpoints ends up serving the attempt). Host and
// credential headers are endpoint-specific and applied separately by
// headersForAttempt.
func rectifyForProvider(req Request, provider config.Provider) (map[string]any, http.Header, []rectify.Entry) {
	body := cloneBody(req.Body)
	rectify.StripUnderscorePrefixed(body)

	headers := http.Header{}
	if req.Headers != nil {
		headers = req.Headers.Clone()
	}

	r := rectify.New(provider)
	var entries []rectify.Entry
	if e := r.ApplyCacheTTL(body, headers); e != nil {
		entries = append(entries, *e)
	}
	if e := r.ApplyContext1M(headers, req.ModelSupports1M); e != nil {
		entries = append(entries, *e)
	}
	if provider.ProviderType == "anthropic" {
		if e := r.ApplyMetadataUserID(body, req.Key.ID, req.SessionID); e != nil {
			entries = append(entries, *e)
		}
	}
	entries = append(entries, r.ApplyProviderOverrides(body)...)

	return body, headers, entries
}

// headersForAttempt clones base and stamps on the endpoint-specific
// always-on headers: credential, optional vendor API-key header, and
// Host.
func headersForAttempt(base http.Header, provider config.Provider, endpoint config.Endpoint) http.Header {
	headers := base.Clone()
	if headers == nil {
		headers = http.Header{}
	}

	rectify.ApplyAlwaysOnHeaders(headers, provider.Credential, vendorAPIKeyHeader(provider.ProviderType), hostOf(endpoint), "")
	return headers
}

// vendorAPIKeyHeader returns the dialect-specific credential header name
// in addition to the default Authorization: Bearer header, or "" if the
// dialect only uses Bearer (openai_compat, codex).
func vendorAPIKeyHeader(providerType string) string {
	switch providerType {
	case "anthropic":
		return "x-api-key"
	case "gemini":
		return "x-goog-api-key"
	default:
		return ""
	}
}

// applyThinkingSignatureRetry is the one-shot rectification fired when
// the classifier matches the thinking_block_format rule: strip any
// thinking/redacted_thinking blocks and their signatures, then let the
// caller retry once more against the same endpoint.
func applyThinkingSignatureRetry(body map[string]any) rectify.Entry {
	rectify.StripThinkingBlocks(body)
	return rectify.Entry{Setting: "thinking_signature_retry"}
}

// applyThinkingBudgetRetry is the one-shot rectification fired when the
// classifier matches the thinking_budget_too_small rule: raise
// thinking.budget_tokens to the documented minimum and let the caller
// retry once more against the same endpoint.
func applyThinkingBudgetRetry(body map[string]any) rectify.Entry {
	if e := rectify.RaiseThinkingBudget(body, 0); e != nil {
		return *e
	}
	return rectify.Entry{Setting: "thinking_budget_raised"}
}

func cloneBody(body map[string]any) map[string]any {
	if body == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(body)
	if err != nil {
		out := make(map[string]any, len(body))
		for k, v := range body {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func hostOf(endpoint config.Endpoint) string {
	u, err := url.Parse(endpoint.URL)
	if err != nil {
		return ""
	}
	return u.Host
}
