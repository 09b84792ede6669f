package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Refreshes counts package-history refreshes by trigger source and outcome
	// (completed|throttled|in_flight|error).
	Refreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packcycle_refreshes_total",
			Help: "Total number of package history refresh attempts",
		},
		[]string{"source", "result"},
	)

	// CacheLookups counts cache reads by outcome (hit|miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packcycle_cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"result"},
	)

	// Pickups counts processed package pickups by access method.
	Pickups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "packcycle_pickups_total",
			Help: "Total number of processed package pickups",
		},
		[]string{"access_method"},
	)

	// PackagesGenerated tracks records written by bulk pre-materialization.
	PackagesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "packcycle_packages_generated_total",
			Help: "Total number of package records created by bulk generation",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "packcycle_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
