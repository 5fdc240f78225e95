package routing

import (
	"sort"

	"github.com/agentflow/llmgate/config"
)

// SelectEndpoints returns provider's enabled endpoints ordered by last
// probe latency ascending, with never-probed and failed-probe endpoints
// sorted after every successfully probed one (ties broken by SortHint),
// truncated to maxAttempts.
//
// Stickiness — not reordering across attempts within one request — is the
// forwarder's responsibility: it advances currentEndpointIndex only on a
// system-error outcome, never on a provider-error (timeouts included), so the
// same endpoint can be retried on the next attempt against the same
// provider.
func SelectEndpoints(all []config.Endpoint, vendorID, providerType string, maxAttempts int) []config.Endpoint {
	var candidates []config.Endpoint
	for _, e := range all {
		if e.VendorID != vendorID || e.ProviderType != providerType || !e.Enabled {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.LastProbe.OK != b.LastProbe.OK {
			return a.LastProbe.OK // probed-OK sorts before unprobed/failed
		}
		if a.LastProbe.OK && b.LastProbe.OK && a.LastProbe.LatencyMs != b.LastProbe.LatencyMs {
			return a.LastProbe.LatencyMs < b.LastProbe.LatencyMs
		}
		return a.SortHint < b.SortHint
	})

	if maxAttempts > 0 && len(candidates) > maxAttempts {
		candidates = candidates[:maxAttempts]
	}
	return candidates
}
