// Package metrics declares every Prometheus collector this proxy exposes:
// one package-level var block per concern, registered against the default
// registry at import time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequestsTotal counts every finished proxied request by service,
	// resolved config, and final status code bucket.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airelay_proxy_requests_total",
			Help: "Total number of proxied requests by service, config, and status class",
		},
		[]string{"service", "config", "status"},
	)

	// ProxyRequestDuration tracks end-to-end request duration, including any
	// retries/failover, by service.
	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airelay_proxy_request_duration_seconds",
			Help:    "End-to-end duration of proxied requests, including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)

	// ProxyRetryAttempts observes the number of attempts a finished request
	// took (1 means no retry/failover occurred).
	ProxyRetryAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airelay_proxy_retry_attempts",
			Help:    "Number of attempts (upstream+provider layers combined) per finished request",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
		},
		[]string{"service"},
	)

	// UpstreamPenalized counts every cooldown penalty applied to an upstream,
	// by config name and reason.
	UpstreamPenalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airelay_upstream_penalized_total",
			Help: "Total number of cooldown penalties applied to an upstream",
		},
		[]string{"config", "reason"},
	)

	// ConfigReloadTotal counts config reload attempts by outcome.
	ConfigReloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airelay_config_reload_total",
			Help: "Total number of config reload attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ConfigReloadDuration observes config reload operation duration.
	ConfigReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airelay_config_reload_duration_seconds",
			Help:    "Duration of config reload operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// HealthCheckProbesTotal counts control-API-driven upstream probes by
	// outcome.
	HealthCheckProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airelay_healthcheck_probes_total",
			Help: "Total number of control-API health check probes by outcome",
		},
		[]string{"config", "outcome"},
	)
)

// StatusClass buckets an HTTP status code into the low-cardinality label
// used by ProxyRequestsTotal ("2xx", "4xx", "5xx", ...).
func StatusClass(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	default:
		return "other"
	}
}

// ObserveReload records a config reload attempt's outcome and duration.
func ObserveReload(outcome string, duration time.Duration) {
	ConfigReloadTotal.WithLabelValues(outcome).Inc()
	ConfigReloadDuration.Observe(duration.Seconds())
}
