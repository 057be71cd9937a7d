// Package telemetry holds the Prometheus metrics and OpenTelemetry tracing
// setup for benchmark runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "resctl_bench"

// Metrics are the run-level Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// rounds counts classified rounds.
	// Labels: scenario, verdict
	rounds *prometheus.CounterVec

	// roundDuration measures wall time per round, warmup included.
	// Labels: scenario
	roundDuration *prometheus.HistogramVec

	// collectorRetries counts retried collaborator polls.
	// Labels: source (workload, agent)
	collectorRetries *prometheus.CounterVec

	// dataQualityFlags counts flags attached to measurement windows.
	// Labels: kind (clock_skew, retried)
	dataQualityFlags *prometheus.CounterVec

	// searchParameter is the knob value currently under measurement.
	// Labels: scenario
	searchParameter *prometheus.GaugeVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Rounds classified, by verdict",
		}, []string{"scenario", "verdict"}),
		roundDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of one warmup plus measurement round",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"scenario"}),
		collectorRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_retries_total",
			Help:      "Collaborator polls retried after an unavailable error",
		}, []string{"source"}),
		dataQualityFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_quality_flags_total",
			Help:      "Data-quality flags attached to measurement windows",
		}, []string{"kind"}),
		searchParameter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_parameter",
			Help:      "Knob value currently being measured",
		}, []string{"scenario"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRound(scenario, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(scenario, verdict).Inc()
	m.roundDuration.WithLabelValues(scenario).Observe(d.Seconds())
}

func (m *Metrics) CollectorRetry(source string) {
	if m == nil {
		return
	}
	m.collectorRetries.WithLabelValues(source).Inc()
}

func (m *Metrics) DataQualityFlag(kind string) {
	if m == nil {
		return
	}
	m.dataQualityFlags.WithLabelValues(kind).Inc()
}

func (m *Metrics) SearchParameter(scenario string, v float64) {
	if m == nil {
		return
	}
	m.searchParameter.WithLabelValues(scenario).Set(v)
}
