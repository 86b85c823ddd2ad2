// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles every collector the gateway updates.
type Set struct {
	// Traffic: proxied requests by method and outcome status class.
	ProxiedRequests *prometheus.CounterVec

	// Errors: enforcement rejections by reason (approval_required,
	// trial_daily_cap, monthly_budget_exceeded, circuit_open,
	// openapi_validation_failed, ...).
	Rejections *prometheus.CounterVec

	// Saturation: circuit breaker state (0=closed, 1=open).
	BreakerOpen prometheus.Gauge

	// Latency of the upstream call as seen by the proxy.
	UpstreamDuration prometheus.Histogram
}

// New registers the collectors with reg. A nil registerer yields a detached
// set, which keeps tests and library callers metric-agnostic.
func New(reg prometheus.Registerer) *Set {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Set{
		ProxiedRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_proxied_requests_total",
			Help: "Total number of requests forwarded through the gateway.",
		}, []string{"method", "status_class"}),

		Rejections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rejections_total",
			Help: "Total number of requests rejected by enforcement, by reason.",
		}, []string{"reason"}),

		BreakerOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_open",
			Help: "Whether the upstream circuit breaker is open (0=closed, 1=open).",
		}),

		UpstreamDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_upstream_duration_seconds",
			Help:    "Histogram of upstream call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}
