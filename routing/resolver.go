package routing

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/agentflow/llmgate/breaker"
	"github.com/agentflow/llmgate/config"
)

// ErrNoAvailableProvider means every candidate provider was filtered out —
// by exclusion, an open breaker, or an allow/block list — so the outer
// loop has nothing left to try.
var ErrNoAvailableProvider = errors.New("routing: no available provider")

// Resolver picks the next Provider to try. It never mutates the slice it
// is given; callers own the Provider records' lifetime.
type Resolver struct {
	breaker *breaker.Guard

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewResolver builds a Resolver that consults guard's Provider registry to
// skip providers whose breaker is open.
func NewResolver(guard *breaker.Guard) *Resolver {
	return &Resolver{
		breaker: guard,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Request is the resolver's filtering criteria for one outer-loop pick.
type Request struct {
	ProviderType string          // required dialect/capability, e.g. "anthropic"
	Exclude      map[string]bool // provider IDs already tried and exhausted
	ClientAgent  string
	Model        string
}

// Resolve filters candidates and returns one provider, chosen
// weighted-random within the highest-priority non-empty band (lowest
// Priority value wins the band).
func (r *Resolver) Resolve(candidates []config.Provider, req Request) (*config.Provider, error) {
	filtered := r.filter(candidates, req)
	if len(filtered) == 0 {
		return nil, ErrNoAvailableProvider
	}

	band := highestPriorityBand(filtered)
	return r.weightedPick(band), nil
}

func (r *Resolver) filter(candidates []config.Provider, req Request) []config.Provider {
	var out []config.Provider
	for _, p := range candidates {
		if req.ProviderType != "" && p.ProviderType != req.ProviderType {
			continue
		}
		if req.Exclude != nil && req.Exclude[p.ID] {
			continue
		}
		if r.breaker != nil && r.breaker.Provider.IsOpen(p.ID) {
			continue
		}
		if req.ClientAgent != "" {
			if contains(p.BlockedClientAgents, req.ClientAgent) {
				continue
			}
			if len(p.AllowedClientAgents) > 0 && !contains(p.AllowedClientAgents, req.ClientAgent) {
				continue
			}
		}
		if req.Model != "" && len(p.AllowedModels) > 0 && !contains(p.AllowedModels, req.Model) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// highestPriorityBand returns every candidate sharing the lowest Priority
// value present (lower value = tried first).
func highestPriorityBand(candidates []config.Provider) []config.Provider {
	best := candidates[0].Priority
	for _, p := range candidates[1:] {
		if p.Priority < best {
			best = p.Priority
		}
	}
	band := make([]config.Provider, 0, len(candidates))
	for _, p := range candidates {
		if p.Priority == best {
			band = append(band, p)
		}
	}
	return band
}

func (r *Resolver) weightedPick(band []config.Provider) *config.Provider {
	if len(band) == 1 {
		return &band[0]
	}

	var total int
	for _, p := range band {
		w := p.Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}

	r.rngMu.Lock()
	target := r.rng.Intn(total)
	r.rngMu.Unlock()

	cumulative := 0
	for i := range band {
		w := band[i].Weight
		if w <= 0 {
			w = 1
		}
		cumulative += w
		if target < cumulative {
			return &band[i]
		}
	}
	return &band[len(band)-1]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
