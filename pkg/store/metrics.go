package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheWrites tracks writes by mode
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_writes_total",
			Help: "Total number of portal cache writes",
		},
		[]string{"mode"}, // "replace", "merge"
	)

	// CacheEntries tracks the number of entries in the last written blob
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_cache_entries",
			Help: "Number of entries in the portal cache",
		},
	)

	// CacheSize tracks the size of the last written blob in bytes
	CacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "portal_cache_size_bytes",
			Help: "Current size of the serialized portal cache in bytes",
		},
	)

	// CacheCorrupt tracks blobs discarded because they failed to decode
	CacheCorrupt = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_cache_corrupt_total",
			Help: "Total number of corrupt cache blobs treated as empty",
		},
	)

	// CacheConflicts tracks optimistic transaction retries of Redis slots
	CacheConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "portal_cache_conflicts_total",
			Help: "Total number of cache slot write conflicts",
		},
	)

	// CacheErrors tracks slot operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "clear"
	)
)
