package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pmr"

type MetricsCollection struct {
	DroppedClauses  *prometheus.CounterVec
	ListQueries     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginAttempts   *prometheus.CounterVec
}

// Metrics is registered once against the default registry and served by /metrics.
var Metrics = newMetricsCollection(prometheus.DefaultRegisterer)

func newMetricsCollection(reg prometheus.Registerer) *MetricsCollection {
	factory := promauto.With(reg)
	return &MetricsCollection{
		DroppedClauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "query_dropped_clauses_total",
				Help:      "Filter clauses dropped while shaping a listing query, by stage and reason.",
			},
			[]string{"stage", "reason"},
		),
		ListQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "query_list_total",
				Help:      "Listing queries executed per resource.",
			},
			[]string{"resource"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_login_attempts_total",
				Help:      "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// NewForTesting builds an isolated collection that does not touch the default registry.
func NewForTesting() *MetricsCollection {
	return newMetricsCollection(prometheus.NewRegistry())
}
