// Package obs holds the access layer's Prometheus instrumentation.
package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_upstream_requests_total",
			Help: "Outbound upstream HTTP requests by provider, endpoint and status.",
		},
		[]string{"provider", "endpoint", "status"},
	)

	upstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_upstream_retries_total",
			Help: "Retry attempts performed against upstream providers.",
		},
		[]string{"provider"},
	)

	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_upstream_request_duration_seconds",
			Help:    "Upstream request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "endpoint"},
	)

	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_cache_hits_total",
			Help: "Request cache hits by endpoint.",
		},
		[]string{"endpoint"},
	)

	cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_cache_misses_total",
			Help: "Request cache misses by endpoint.",
		},
		[]string{"endpoint"},
	)

	upstreamQuotaRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "access_upstream_quota_remaining",
			Help: "Most recent X-RateLimit-Remaining value reported by each provider.",
		},
		[]string{"provider"},
	)

	limiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot.",
			Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)
)

var initOnce sync.Once

// Init registers the access-layer metrics with the default registry.
// Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			upstreamRequestsTotal,
			upstreamRetriesTotal,
			upstreamRequestDuration,
			cacheHitsTotal,
			cacheMissesTotal,
			upstreamQuotaRemaining,
			limiterWaitSeconds,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveUpstreamRequest(provider, endpoint string, status int, duration time.Duration) {
	upstreamRequestsTotal.WithLabelValues(provider, endpoint, strconv.Itoa(status)).Inc()
	upstreamRequestDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

func CountRetry(provider string) {
	upstreamRetriesTotal.WithLabelValues(provider).Inc()
}

func CountCacheHit(endpoint string) {
	cacheHitsTotal.WithLabelValues(endpoint).Inc()
}

func CountCacheMiss(endpoint string) {
	cacheMissesTotal.WithLabelValues(endpoint).Inc()
}

func SetQuotaRemaining(provider string, remaining float64) {
	upstreamQuotaRemaining.WithLabelValues(provider).Set(remaining)
}

func ObserveLimiterWait(provider string, wait time.Duration) {
	limiterWaitSeconds.WithLabelValues(provider).Observe(wait.Seconds())
}
