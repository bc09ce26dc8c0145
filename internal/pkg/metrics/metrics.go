// Package metrics provides Prometheus metrics for the portal backend.
// Scrapeable at /metrics; dashboard and alert rules rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "azimuth"

var (
	// HTTPRequestTotal counts requests by method, path, status.
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram.
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// AuthFlowTotal counts authentication flow outcomes by authenticator and result
	// (started | completed | failed).
	AuthFlowTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_flow_total",
			Help:      "Authentication flow events by authenticator and result.",
		},
		[]string{"authenticator", "result"},
	)

	// TokenRefreshTotal counts OIDC refresh-grant attempts by result (success | expired | error).
	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "OIDC token refresh attempts by result.",
		},
		[]string{"result"},
	)

	// SessionsActive is the number of sessions currently open against backends.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open backend sessions.",
		},
	)

	// ClusterOperationsTotal counts cluster engine operations by verb and result.
	ClusterOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_operations_total",
			Help:      "Cluster lifecycle operations by verb (create|update|patch|delete) and result.",
		},
		[]string{"verb", "result"},
	)

	// JobBackendRequestDurationSeconds is the latency of calls to the job-execution backend.
	JobBackendRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_backend_request_duration_seconds",
			Help:      "Job backend request duration in seconds by method and resource.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2.5, 10),
		},
		[]string{"method", "resource"},
	)
)
