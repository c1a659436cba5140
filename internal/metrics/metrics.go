package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20},
	}, []string{"method", "path"})

	TierResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "tier_results_total",
		Help:      "Search resolutions by producing tier and outcome.",
	}, []string{"tier", "status"})

	TierDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "tier_duration_seconds",
		Help:      "Per-tier search duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"tier"})

	InstanceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "instance_requests_total",
		Help:      "Total requests to aggregator instances by instance and result status.",
	}, []string{"instance", "status"})

	InstanceRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "musicsearch",
		Name:      "instance_request_duration_seconds",
		Help:      "Aggregator instance request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"instance"})

	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_hits_total",
		Help:      "Total number of search cache hits.",
	})

	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "musicsearch",
		Name:      "cache_misses_total",
		Help:      "Total number of search cache misses.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TierResultsTotal,
		TierDuration,
		InstanceRequestsTotal,
		InstanceRequestDuration,
		CacheHitsTotal,
		CacheMissesTotal,
	)
}
