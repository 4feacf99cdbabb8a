package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gateway metrics
var (
	// Gateway guard outcomes
	GatewayDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "gateway",
			Name:      "decisions_total",
			Help:      "Total gateway guard decisions",
		},
		[]string{"key_type", "outcome"},
	)

	// Rate limiter outcomes
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total rate limit decisions",
		},
		[]string{"algorithm", "outcome"},
	)

	// Storefront key validation results
	KeyValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "keys",
			Name:      "validations_total",
			Help:      "Total storefront key validations",
		},
		[]string{"result"},
	)

	// Cart identity terminal states
	CartIdentityTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "cart",
			Name:      "identity_resolutions_total",
			Help:      "Total cart identity resolutions by terminal state",
		},
		[]string{"state"},
	)

	// Merge-on-login outcomes
	CartMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "cart",
			Name:      "merges_total",
			Help:      "Total guest cart merges",
		},
		[]string{"status"},
	)

	// HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "storefront",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route", "status"},
	)
)

// RecordGatewayDecision records a gateway guard outcome
func RecordGatewayDecision(keyType, outcome string) {
	GatewayDecisionsTotal.WithLabelValues(keyType, outcome).Inc()
}

// RecordRateLimit records a rate limit decision
func RecordRateLimit(algorithm, outcome string) {
	RateLimitDecisionsTotal.WithLabelValues(algorithm, outcome).Inc()
}

// RecordKeyValidation records a storefront key validation result
func RecordKeyValidation(result string) {
	KeyValidationsTotal.WithLabelValues(result).Inc()
}

// RecordCartIdentity records the terminal state of a cart identity resolution
func RecordCartIdentity(state string) {
	CartIdentityTotal.WithLabelValues(state).Inc()
}

// RecordCartMerge records a merge-on-login outcome
func RecordCartMerge(status string) {
	CartMergesTotal.WithLabelValues(status).Inc()
}

// RecordRequest records an HTTP request
func RecordRequest(method, route, status string, durationSec float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(durationSec)
}
