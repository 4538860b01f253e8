// Package metrics exposes the Prometheus metrics the feed client reports.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, messages) to maintain modularity and avoid circular
// dependencies.
//
// This package provides the /metrics handler and a reference of all
// available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the metrics in the Prometheus text format. Every metric is
// registered with the default registerer via promauto in its own package.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns an HTTP server exposing Handler at /metrics.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

// Metrics Documentation
//
// Error Budget Metrics (pkg/ratelimit):
//   - feed_errors_remaining (Gauge): Errors remaining in the server's error window
//   - feed_rate_limit_blocks_total (Counter): Requests blocked due to critical error budget
//   - feed_rate_limit_throttles_total (Counter): Requests throttled due to warning error budget
//
// Cache Metrics (pkg/cache):
//   - feed_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - feed_cache_misses_total (Counter): Cache misses
//   - feed_cache_bytes_written_total{layer="redis"} (Counter): Bytes written to the cache
//   - feed_304_responses_total (Counter): 304 Not Modified responses
//   - feed_conditional_requests_total (Counter): Conditional requests sent
//   - feed_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - feed_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - feed_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - feed_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - feed_retries_total{error_class} (Counter): Retry attempts by error class
//   - feed_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - feed_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Loader Metrics (pkg/messages):
//   - feed_loader_fetches_total{outcome} (Counter): Page fetches by outcome (ok, error, empty, superseded)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(feed_cache_hits_total[5m])) /
//   (sum(rate(feed_cache_hits_total[5m])) + sum(rate(feed_cache_misses_total[5m])))
//
//   # Error Budget Status
//   feed_errors_remaining < 20
//
//   # Offline Rate
//   rate(feed_loader_fetches_total{outcome="error"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(feed_request_duration_seconds_bucket[5m]))
