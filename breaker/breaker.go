package breaker

import (
	"sync"
	"time"
)

// State is a breaker's health state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes one breaker entry's thresholds.
type Config struct {
	FailureThreshold     int
	OpenDuration         time.Duration
	HalfOpenSuccessQuota int
}

// DefaultConfig mirrors the provider-level defaults: five consecutive
// failures trip the breaker, a minute in the penalty box, three clean
// probes to close it again.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		OpenDuration:         60 * time.Second,
		HalfOpenSuccessQuota: 3,
	}
}

// Snapshot is a point-in-time, lock-free copy of an entry's state — safe to
// embed in a decision-chain entry.
type Snapshot struct {
	State               State
	FailureCount        int
	LastFailureTS       time.Time
	OpenUntilTS         time.Time
	HalfOpenSuccessCount int
	ManualOpen          bool
}

// entry is one breaker's mutable state, guarded by its own mutex so no
// provider's traffic ever blocks on another's.
type entry struct {
	mu sync.Mutex

	cfg Config

	state                State
	failureCount         int
	lastFailureTS        time.Time
	openUntilTS          time.Time
	halfOpenSuccessCount int
	manualOpen           bool
}

func newEntry(cfg Config) *entry {
	return &entry{cfg: cfg, state: Closed}
}

// isOpen reports whether the entry currently blocks traffic, transitioning
// open->half-open on first access past openUntilTS as a side effect.
func (e *entry) isOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isOpenLocked()
}

func (e *entry) isOpenLocked() bool {
	if e.manualOpen {
		return true
	}
	if e.state != Open {
		return false
	}
	if time.Now().Before(e.openUntilTS) {
		return true
	}
	// open-until elapsed: first probe access moves to half-open.
	e.state = HalfOpen
	e.halfOpenSuccessCount = 0
	return false
}

// recordSuccess registers a successful attempt. probe requests read the
// breaker but never write it elsewhere; this method is only ever called
// for non-probe successes.
func (e *entry) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case Closed:
		e.failureCount = 0
	case HalfOpen:
		e.halfOpenSuccessCount++
		if e.halfOpenSuccessCount >= e.cfg.HalfOpenSuccessQuota {
			e.state = Closed
			e.failureCount = 0
			e.halfOpenSuccessCount = 0
		}
	case Open:
		// stale success racing a state read; ignore.
	}
}

// recordFailure registers a failed attempt. Must never be called for probe
// requests — callers are responsible for the probe check.
func (e *entry) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.failureCount++
	e.lastFailureTS = time.Now()

	switch e.state {
	case Closed:
		if e.failureCount >= e.cfg.FailureThreshold {
			e.state = Open
			e.openUntilTS = time.Now().Add(e.cfg.OpenDuration)
		}
	case HalfOpen:
		e.state = Open
		e.openUntilTS = time.Now().Add(e.cfg.OpenDuration)
		e.halfOpenSuccessCount = 0
	case Open:
		e.openUntilTS = time.Now().Add(e.cfg.OpenDuration)
	}
}

func (e *entry) setManualOpen(open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.manualOpen = open
	if !open && e.state == Open && !time.Now().Before(e.openUntilTS) {
		e.state = Closed
		e.failureCount = 0
	}
}

func (e *entry) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:                e.state,
		FailureCount:         e.failureCount,
		LastFailureTS:        e.lastFailureTS,
		OpenUntilTS:          e.openUntilTS,
		HalfOpenSuccessCount: e.halfOpenSuccessCount,
		ManualOpen:           e.manualOpen,
	}
}

// Registry is a process-wide, keyed collection of breaker entries. One
// sync.Map holds *entry pointers so lookups never contend with each other;
// each entry owns its own mutex (DESIGN NOTES: "no global mutexes").
type Registry struct {
	entries sync.Map // key -> *entry
	cfg     Config
}

// NewRegistry creates a registry where every new key gets cfg (zero value
// falls back to DefaultConfig()).
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{cfg: cfg}
}

func (r *Registry) entryFor(key string) *entry {
	if v, ok := r.entries.Load(key); ok {
		return v.(*entry)
	}
	e := newEntry(r.cfg)
	actual, _ := r.entries.LoadOrStore(key, e)
	return actual.(*entry)
}

// IsOpen reports whether key currently blocks traffic.
func (r *Registry) IsOpen(key string) bool {
	return r.entryFor(key).isOpen()
}

// RecordSuccess records a non-probe success for key.
func (r *Registry) RecordSuccess(key string) {
	r.entryFor(key).recordSuccess()
}

// RecordFailure records a non-probe failure for key.
func (r *Registry) RecordFailure(key string) {
	r.entryFor(key).recordFailure()
}

// SetManualOpen applies or clears an administrative override for key,
// taking precedence over timer-driven transitions.
func (r *Registry) SetManualOpen(key string, open bool) {
	r.entryFor(key).setManualOpen(open)
}

// Snapshot returns a point-in-time copy of key's state.
func (r *Registry) Snapshot(key string) Snapshot {
	return r.entryFor(key).snapshot()
}
