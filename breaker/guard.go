package breaker

import "time"

// Guard aggregates the three breaker keyspaces the forwarder consults:
// per-provider, per-endpoint (a smaller budget, updated only on
// system-error/timeout outcomes), and per-(vendor, provider-type) — the
// coarse breaker that trips when every endpoint of a vendor times out
// together within one attempt.
type Guard struct {
	Provider *Registry
	Endpoint *Registry
	Vendor   *Registry
}

// NewGuard builds a Guard with the given per-keyspace configs.
func NewGuard(providerCfg, endpointCfg, vendorCfg Config) *Guard {
	return &Guard{
		Provider: NewRegistry(providerCfg),
		Endpoint: NewRegistry(endpointCfg),
		Vendor:   NewRegistry(vendorCfg),
	}
}

// DefaultEndpointConfig gives the endpoint breaker a smaller failure budget
// than the provider breaker, per the spec's "smaller failure budget" note.
func DefaultEndpointConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	return cfg
}

// DefaultVendorConfig controls the vendor-type cool-down window.
func DefaultVendorConfig() Config {
	return Config{
		FailureThreshold:     1,
		OpenDuration:         2 * time.Minute,
		HalfOpenSuccessQuota: 1,
	}
}

// VendorKey composes the (vendor, provider-type) key for the coarse breaker.
func VendorKey(vendorID, providerType string) string {
	return vendorID + "|" + providerType
}

// EndpointOutcome tracks whether every endpoint tried for one provider
// during a single forwarding attempt timed out, for the vendor-type trip
// rule. Reset per attempt sequence (one per outer-loop provider visit).
type EndpointOutcome struct {
	total        int
	allTimedOut  bool
	sawAnyResult bool
}

// NewEndpointOutcome starts a fresh tracker.
func NewEndpointOutcome() *EndpointOutcome {
	return &EndpointOutcome{allTimedOut: true}
}

// Record registers one endpoint's outcome. Call once per endpoint visited
// for the provider during this attempt.
func (o *EndpointOutcome) Record(timedOut bool) {
	o.total++
	o.sawAnyResult = true
	if !timedOut {
		o.allTimedOut = false
	}
}

// AllTimedOut reports whether every recorded endpoint timed out (524) and
// at least one endpoint was actually tried.
func (o *EndpointOutcome) AllTimedOut() bool {
	return o.sawAnyResult && o.allTimedOut
}

// TripVendorIfAllTimedOut records a provider failure against the vendor-type
// breaker if every endpoint visited for that provider timed out.
func (g *Guard) TripVendorIfAllTimedOut(vendorID, providerType string, outcome *EndpointOutcome) {
	if outcome.AllTimedOut() {
		g.Vendor.RecordFailure(VendorKey(vendorID, providerType))
	}
}
