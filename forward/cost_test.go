package forward

import (
	"testing"

	"github.com/agentflow/llmgate/config"
	"github.com/stretchr/testify/assert"
)

func TestEstimateCostUSD_AnthropicUsageShape(t *testing.T) {
	provider := config.Provider{CostMultiplier: 3.0}
	body := []byte(`{"content":[{"type":"text","text":"hi"}],"usage":{"input_tokens":100,"output_tokens":400}}`)

	cost := estimateCostUSD(provider, body)
	assert.InDelta(t, 1.5, cost, 0.0001)
}

func TestEstimateCostUSD_OpenAICompatUsageShape(t *testing.T) {
	provider := config.Provider{CostMultiplier: 2.0}
	body := []byte(`{"choices":[],"usage":{"prompt_tokens":100,"completion_tokens":400,"total_tokens":500}}`)

	cost := estimateCostUSD(provider, body)
	assert.InDelta(t, 1.0, cost, 0.0001)
}

func TestEstimateCostUSD_NoMultiplierConfiguredCostsNothing(t *testing.T) {
	provider := config.Provider{CostMultiplier: 0}
	body := []byte(`{"usage":{"total_tokens":1000}}`)

	assert.Equal(t, 0.0, estimateCostUSD(provider, body))
}

func TestEstimateCostUSD_NoUsageObjectCostsNothing(t *testing.T) {
	provider := config.Provider{CostMultiplier: 5.0}
	body := []byte(`{"content":[{"type":"text","text":"hi"}]}`)

	assert.Equal(t, 0.0, estimateCostUSD(provider, body))
}

func TestEstimateCostUSD_MalformedBodyCostsNothing(t *testing.T) {
	provider := config.Provider{CostMultiplier: 5.0}
	assert.Equal(t, 0.0, estimateCostUSD(provider, []byte("not json")))
}
