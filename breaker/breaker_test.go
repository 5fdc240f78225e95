package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ---------------------------------------------------------------------------
// Registry: trip / half-open / close cycle
// ---------------------------------------------------------------------------

func TestRegistry_TripsAfterFailureThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenSuccessQuota: 1})

	assert.False(t, r.IsOpen("p1"))
	r.RecordFailure("p1")
	r.RecordFailure("p1")
	assert.False(t, r.IsOpen("p1"))
	r.RecordFailure("p1")
	assert.True(t, r.IsOpen("p1"))
}

func TestRegistry_HalfOpenAfterOpenDurationElapses(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenSuccessQuota: 2})

	r.RecordFailure("p1")
	assert.True(t, r.IsOpen("p1"))

	time.Sleep(5 * time.Millisecond)
	assert.False(t, r.IsOpen("p1"), "should transition to half-open once the cool-down elapses")
	assert.Equal(t, HalfOpen, r.Snapshot("p1").State)
}

func TestRegistry_HalfOpenClosesAfterSuccessQuota(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenSuccessQuota: 2})

	r.RecordFailure("p1")
	time.Sleep(5 * time.Millisecond)
	r.IsOpen("p1") // side effect: open -> half-open

	r.RecordSuccess("p1")
	assert.Equal(t, HalfOpen, r.Snapshot("p1").State)
	r.RecordSuccess("p1")
	assert.Equal(t, Closed, r.Snapshot("p1").State)
}

func TestRegistry_HalfOpenFailureReopensImmediately(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Millisecond, HalfOpenSuccessQuota: 3})

	r.RecordFailure("p1")
	time.Sleep(5 * time.Millisecond)
	r.IsOpen("p1")

	r.RecordFailure("p1")
	assert.True(t, r.IsOpen("p1"))
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenSuccessQuota: 1})

	r.RecordFailure("p1")
	assert.True(t, r.IsOpen("p1"))
	assert.False(t, r.IsOpen("p2"))
}

func TestRegistry_ManualOpenOverridesTimer(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	r.SetManualOpen("p1", true)
	assert.True(t, r.IsOpen("p1"))

	r.SetManualOpen("p1", false)
	assert.False(t, r.IsOpen("p1"))
}

// ---------------------------------------------------------------------------
// Guard: vendor-type trip-on-all-endpoints-timeout rule
// ---------------------------------------------------------------------------

func TestGuard_TripsVendorOnlyWhenEveryEndpointTimedOut(t *testing.T) {
	g := NewGuard(DefaultConfig(), DefaultEndpointConfig(), DefaultVendorConfig())

	mixed := NewEndpointOutcome()
	mixed.Record(true)
	mixed.Record(false)
	g.TripVendorIfAllTimedOut("vendor1", "anthropic", mixed)
	assert.False(t, g.Vendor.IsOpen(VendorKey("vendor1", "anthropic")))

	allTimedOut := NewEndpointOutcome()
	allTimedOut.Record(true)
	allTimedOut.Record(true)
	g.TripVendorIfAllTimedOut("vendor1", "anthropic", allTimedOut)
	assert.True(t, g.Vendor.IsOpen(VendorKey("vendor1", "anthropic")))
}

func TestEndpointOutcome_NoRecordsNeverTrips(t *testing.T) {
	o := NewEndpointOutcome()
	assert.False(t, o.AllTimedOut())
}
