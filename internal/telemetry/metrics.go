package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the risk pipeline. Everything
// is registered on a private registry so tests can create instances freely.
type Metrics struct {
	registry *prometheus.Registry

	MessagesProcessed prometheus.Counter
	DecodeFailures    prometheus.Counter
	ComputeFailures   prometheus.Counter
	CacheErrors       prometheus.Counter
	EgressProduced    prometheus.Counter
	ProcessingLatency prometheus.Histogram
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospector",
			Name:      "messages_processed_total",
			Help:      "Portfolio snapshots fully processed (computed, produced, cached).",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospector",
			Name:      "decode_failures_total",
			Help:      "Ingress records dropped because decode or validation failed.",
		}),
		ComputeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospector",
			Name:      "compute_failures_total",
			Help:      "Snapshots dropped because the risk calculation hit a domain error.",
		}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospector",
			Name:      "cache_errors_total",
			Help:      "Cache writes that failed (non-fatal to the pipeline).",
		}),
		EgressProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospector",
			Name:      "egress_produced_total",
			Help:      "Risk results acknowledged on the egress topic.",
		}),
		ProcessingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prospector",
			Name:      "processing_latency_ms",
			Help:      "Per-snapshot risk calculation latency in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
	}
	reg.MustRegister(
		m.MessagesProcessed,
		m.DecodeFailures,
		m.ComputeFailures,
		m.CacheErrors,
		m.EgressProduced,
		m.ProcessingLatency,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
