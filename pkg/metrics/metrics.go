// Package metrics exposes the Prometheus registry of the portal client.
// All metrics are defined in their respective packages (client, store, session, batch)
// to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the portal client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving Registry in the exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Store Metrics (pkg/store):
//   - portal_cache_writes_total{mode} (Counter): Writes by mode (replace, merge)
//   - portal_cache_entries (Gauge): Entries in the last written session blob
//   - portal_cache_size_bytes (Gauge): Size of the last written session blob
//   - portal_cache_corrupt_total (Counter): Corrupt blobs treated as empty
//   - portal_cache_conflicts_total (Counter): Optimistic Redis write conflicts
//   - portal_cache_errors_total{operation} (Counter): Slot errors (get, set, clear)
//
// Request Metrics (pkg/client):
//   - portal_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - portal_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - portal_errors_total{class} (Counter): Errors by class (client, auth, server, network, decode)
//   - portal_cache_lookups_total{result} (Counter): hit, miss, stale, incomplete, error
//   - portal_coalesced_requests_total (Counter): Calls served by an in-flight request
//
// Session Metrics (pkg/session):
//   - portal_session_authenticated (Gauge): 1 while the session is valid
//   - portal_session_expiries_total (Counter): Session expiries seen
//   - portal_keepalive_checks_total{result} (Counter): Keepalive outcomes
//   - portal_keepalive_retries_total (Counter): Keepalive retry attempts
//   - portal_keepalive_backoff_seconds (Histogram): Keepalive backoff durations
//   - portal_keepalive_retry_exhausted_total (Counter): Checks that exhausted retries
//
// Warm-up Metrics (pkg/batch):
//   - portal_warm_targets_total{result} (Counter): Warmed targets by result
//   - portal_warm_duration_seconds (Histogram): Duration of a WarmAll run
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(portal_cache_lookups_total{result="hit"}[5m])) /
//   sum(rate(portal_cache_lookups_total[5m]))
//
//   # Session Expired
//   portal_session_authenticated == 0
//
//   # Request Error Rate
//   rate(portal_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(portal_request_duration_seconds_bucket[5m]))
