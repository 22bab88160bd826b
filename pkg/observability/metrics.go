// Package observability declares the Prometheus collectors the router
// and shard processes expose on their admin HTTP surface
// (internal/adminserver).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks router/shard-side query latency by keyword
	// (spec.md §4.5's classification, e.g. SELECT/INSERT/UPDATE).
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shard_query_duration_seconds",
			Help:    "Duration of dispatched queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"shard_id", "keyword"},
	)

	// QueryTotal counts dispatched queries by outcome.
	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shard_queries_total",
			Help: "Total number of dispatched queries",
		},
		[]string{"shard_id", "status"},
	)

	// ShardFreePercent holds the last-known available_pct per shard: a
	// router sets it when it records a value in the shard manager's
	// selection heap (spec.md §4.3), a shard sets it on each of its own
	// refreshes.
	ShardFreePercent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shard_free_storage_percent",
			Help: "Last-known free storage percentage per shard",
		},
		[]string{"shard_id"},
	)
)
