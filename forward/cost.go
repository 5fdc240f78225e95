package forward

import (
	"encoding/json"

	"github.com/agentflow/llmgate/config"
)

// usageTokens is the token-count shape shared (under different field names)
// by the vendor dialects this proxy fronts: Anthropic's input_tokens/
// output_tokens and the OpenAI-compatible prompt_tokens/completion_tokens/
// total_tokens. Only one of the two pairs is ever populated per response.
type usageTokens struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type usageEnvelope struct {
	Usage usageTokens `json:"usage"`
}

// estimateCostUSD derives a request's USD spend from the upstream response's
// own token-usage accounting and the provider's cost multiplier (spec.md
// §3's Provider.cost multiplier — otherwise only advisory, see
// routing.Resolver). costMultiplier is treated as dollars per 1,000 tokens.
// A response with no recognizable usage object, or a provider with no
// multiplier configured, costs nothing — the USD-tier checks simply stay
// inert for that traffic, same as an unconfigured limit staying uncapped.
func estimateCostUSD(provider config.Provider, responseBody []byte) float64 {
	if provider.CostMultiplier <= 0 || len(responseBody) == 0 {
		return 0
	}

	var env usageEnvelope
	if err := json.Unmarshal(responseBody, &env); err != nil {
		return 0
	}

	tokens := env.Usage.TotalTokens
	if tokens == 0 {
		tokens = env.Usage.InputTokens + env.Usage.OutputTokens + env.Usage.PromptTokens + env.Usage.CompletionTokens
	}
	if tokens <= 0 {
		return 0
	}

	return (float64(tokens) / 1000.0) * provider.CostMultiplier
}
