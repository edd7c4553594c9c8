package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	sw := NewSlidingWindow(10*time.Second, 3)
	sw.now = func() time.Time { return now }

	assert.Zero(t, sw.Rate())
	for i := 0; i < 5; i++ {
		sw.Add()
	}
	assert.InDelta(t, 0.3, sw.Rate(), 1e-9, "capped at maxSize")

	now = now.Add(11 * time.Second)
	assert.Zero(t, sw.Rate())
}

func TestPoolObserver(t *testing.T) {
	var obs PoolObserver
	before := GetTotals()

	obs.Selected("metrics-test")
	obs.Exhausted("metrics-test")
	obs.Skipped("metrics-test", 3)
	obs.Penalized("metrics-test", 2)
	obs.Added("metrics-test", 4)
	obs.Removed("metrics-test", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(Selections.WithLabelValues("metrics-test", "selected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(Selections.WithLabelValues("metrics-test", "exhausted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(OverLimitSkips.WithLabelValues("metrics-test")))
	assert.Equal(t, 2.0, testutil.ToFloat64(Penalties.WithLabelValues("metrics-test")))
	assert.Equal(t, 4.0, testutil.ToFloat64(RelaysAdded.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RelaysRemoved.WithLabelValues("metrics-test")))

	after := GetTotals()
	assert.Equal(t, before.Selections+1, after.Selections)
	assert.Equal(t, before.Exhausted+1, after.Exhausted)
	assert.Equal(t, before.Penalties+2, after.Penalties)
}

func TestObservePool(t *testing.T) {
	ObservePool("gauge-test", 10, 7)
	assert.Equal(t, 10.0, testutil.ToFloat64(PoolRelays.WithLabelValues("gauge-test")))
	assert.Equal(t, 7.0, testutil.ToFloat64(PoolEligible.WithLabelValues("gauge-test")))
}
