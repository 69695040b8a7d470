package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatsUpdater_Incr(t *testing.T) {
	reg := prometheus.NewRegistry()
	su := NewStatsUpdater(reg)

	su.Incr(MetricReconnects)
	su.Incr(MetricReconnects)
	su.Incr(MetricMessagesSent)

	assert.Equal(t, float64(2), testutil.ToFloat64(su.counters[MetricReconnects]),
		"expected reconnect counter to be incremented twice")
	assert.Equal(t, float64(1), testutil.ToFloat64(su.counters[MetricMessagesSent]),
		"expected sent counter to be incremented once")
	assert.Equal(t, float64(0), testutil.ToFloat64(su.counters[MetricConnectFailures]),
		"expected untouched counter to be zero")
}

func TestStatsUpdater_IncrUnknownMetric(t *testing.T) {
	su := NewStatsUpdater(prometheus.NewRegistry())

	// Unregistered names must be dropped, not panic.
	assert.NotPanics(t, func() { su.Incr("never_registered") },
		"expected unknown metric to be ignored")
}

func TestStatsUpdater_RegisterMetricIdempotent(t *testing.T) {
	su := NewStatsUpdater(prometheus.NewRegistry())

	// Registering a name twice must not re-register with prometheus,
	// which would panic via MustRegister.
	assert.NotPanics(t, func() { su.RegisterMetric(MetricReconnects, "dup") },
		"expected duplicate registration to be a no-op")
}
