package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// Gate metrics
	CSRFValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_csrf_validations_total",
			Help: "CSRF validations by result (valid, invalid, exempt)",
		},
		[]string{"result"},
	)

	PathGuardRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_path_guard_rejections_total",
			Help: "Image proxy requests rejected for path traversal",
		},
	)

	SuspiciousRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_suspicious_requests_total",
			Help: "API requests with automation user agents and foreign referers",
		},
	)

	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"purpose"},
	)

	// CSP reporting
	CSPReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csp_reports_total",
			Help: "CSP violation reports received, by effective directive",
		},
		[]string{"directive"},
	)

	// Outbound fetches
	OutboundFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_fetch_total",
			Help: "Outbound fetches by outcome (ok, blocked, error)",
		},
		[]string{"outcome"},
	)

	ImageCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_cache_lookups_total",
			Help: "Image proxy cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)
)
