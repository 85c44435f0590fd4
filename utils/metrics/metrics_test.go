package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEjectorMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewEjectorMetrics("test_ejector", registry)
	require.NotNil(t, metrics)

	metrics.Operations.WithLabelValues("deposit", "success").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Operations.WithLabelValues("deposit", "success")))

	metrics.ActiveRuns.Inc()
	metrics.ActiveRuns.Dec()
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveRuns))

	metrics.RunDuration.Observe(0.01)
	assert.NotNil(t, metrics.RunDuration)
}

func TestSwapMetrics(t *testing.T) {
	metrics := NewSwapMetrics("test_swap", nil)
	require.NotNil(t, metrics)

	metrics.Swaps.WithLabelValues("exact_input", "success").Inc()
	metrics.Refunds.Add(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Refunds))
}

func TestSnapshot(t *testing.T) {
	registry := prometheus.NewRegistry()
	ejector := NewEjectorMetrics("snap", registry)
	rpc := NewRPCMetrics("other", registry)

	ejector.Operations.WithLabelValues("borrow", "failure").Add(3)
	ejector.ActiveRuns.Set(1)
	ejector.RunDuration.Observe(0.5)
	rpc.CacheHits.Inc()

	samples, err := Snapshot(registry, "snap_")
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, s := range samples {
		values[s.String()] = s.Value
	}
	assert.Equal(t, float64(3), values[`snap_operations_total{operation="borrow",outcome="failure"} 3`])
	assert.Contains(t, values, "snap_active_runs 1")
	assert.Contains(t, values, "snap_self_liquidation_duration_seconds 1")
	for _, s := range samples {
		assert.NotContains(t, s.Name, "other_")
	}
}
