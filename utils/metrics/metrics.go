package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// NewRegistry returns a registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return registry
}

type EjectorMetrics struct {
	Operations      *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	ActiveRuns      prometheus.Gauge
	FlashLoanAssets prometheus.Counter
	Residuals       *prometheus.GaugeVec
}

// NewEjectorMetrics registers the position ejector metrics with reg. A nil
// registerer yields working but unregistered collectors.
func NewEjectorMetrics(namespace string, reg prometheus.Registerer) *EjectorMetrics {
	factory := promauto.With(reg)
	return &EjectorMetrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ejector operations by name and outcome",
		}, []string{"operation", "outcome"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Ejector failures by operation and error kind",
		}, []string{"operation", "kind"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "self_liquidation_duration_seconds",
			Help:      "Time taken by a self-liquidation run",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Self-liquidation runs currently in flight",
		}),
		FlashLoanAssets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flash_loan_assets_total",
			Help:      "Number of assets borrowed through flash loans",
		}),
		Residuals: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "residual_balance",
			Help:      "Balance left in ejector custody after the last run, in token units",
		}, []string{"asset"}),
	}
}

type SwapMetrics struct {
	Swaps    *prometheus.CounterVec
	Refunds  prometheus.Counter
	Duration prometheus.Histogram
}

func NewSwapMetrics(namespace string, reg prometheus.Registerer) *SwapMetrics {
	factory := promauto.With(reg)
	return &SwapMetrics{
		Swaps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Swaps by kind and outcome",
		}, []string{"kind", "outcome"}),
		Refunds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Exact-output swaps that refunded unused input",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swap_duration_seconds",
			Help:      "Time taken by a swap",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14),
		}),
	}
}

type RPCMetrics struct {
	Calls     *prometheus.CounterVec
	Latency   prometheus.Histogram
	CacheHits prometheus.Counter
}

func NewRPCMetrics(namespace string, reg prometheus.Registerer) *RPCMetrics {
	factory := promauto.With(reg)
	return &RPCMetrics{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Contract calls by method and outcome",
		}, []string{"method", "outcome"}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_latency_seconds",
			Help:      "Latency of contract calls",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Reserve token lookups served from cache",
		}),
	}
}

// Sample is one counter or gauge value read back from a registry.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

func (s Sample) String() string {
	if s.Labels == "" {
		return fmt.Sprintf("%s %g", s.Name, s.Value)
	}
	return fmt.Sprintf("%s{%s} %g", s.Name, s.Labels, s.Value)
}

// Snapshot gathers every counter and gauge whose name starts with prefix.
func Snapshot(g prometheus.Gatherer, prefix string) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var samples []Sample
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), prefix) {
			continue
		}
		for _, m := range family.GetMetric() {
			var value float64
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				value = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				value = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			samples = append(samples, Sample{
				Name:   family.GetName(),
				Labels: formatLabels(m.GetLabel()),
				Value:  value,
			})
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return samples[i].Labels < samples[j].Labels
	})
	return samples, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s=%q", p.GetName(), p.GetValue()))
	}
	return strings.Join(parts, ",")
}
