// Package metrics provides Prometheus instrumentation for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatency tracks HTTP request latency in seconds by route pattern.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"route"},
	)

	// RequestsTotal tracks total HTTP requests by route pattern and status code.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	// ActiveRequests tracks the number of currently in-flight requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_requests",
			Help: "Number of currently in-flight requests.",
		},
	)

	// TokenUsageTotal tracks tokens reported by upstream providers.
	TokenUsageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_usage_total",
			Help: "Total number of tokens consumed.",
		},
		[]string{"provider", "model", "direction"}, // direction: "input" or "output"
	)

	// StreamFragmentsTotal counts text fragments relayed to streaming clients.
	StreamFragmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_fragments_total",
			Help: "Total number of streamed text fragments.",
		},
		[]string{"provider"},
	)

	// ProviderErrors counts classified provider failures.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Total number of provider failures by category.",
		},
		[]string{"provider", "category"},
	)

	// ProviderConstructions counts provider instance constructions. Steady
	// state is one per provider.
	ProviderConstructions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_constructions_total",
			Help: "Total number of provider instance constructions.",
		},
		[]string{"provider"},
	)

	// ProviderReady is 1 when the default provider passes its self-check.
	ProviderReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_ready",
			Help: "Whether the provider passes configuration validation: 0=no, 1=yes.",
		},
		[]string{"provider"},
	)
)

// RecordTokens adds reported token usage. Zero counts are skipped.
func RecordTokens(provider, model string, input, output int) {
	if input > 0 {
		TokenUsageTotal.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		TokenUsageTotal.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}
