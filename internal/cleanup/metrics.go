// Package cleanup – Prometheus collectors
//
// This file exposes the cleanup worker's operational metrics. Labels stay
// coarse ("scan" is either "sweep" or "daily") to keep cardinality bounded.
package cleanup

import "github.com/prometheus/client_golang/prometheus"

var (
	// variantsDeleted counts catalog variants removed, by scan kind.
	variantsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_variants_deleted_total",
			Help: "Total number of ephemeral variants deleted.",
		},
		[]string{"scan"},
	)

	// cleanupFailures counts per-record cleanup failures, by scan kind.
	cleanupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_failures_total",
			Help: "Total number of per-record cleanup failures.",
		},
		[]string{"scan"},
	)

	// deadLettered counts records parked after exhausting their attempts.
	deadLettered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_dead_lettered_total",
			Help: "Total number of records parked after repeated cleanup failures.",
		},
	)

	// alarmsFired counts error-rate alarms raised by the tracker.
	alarmsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cleanup_alarms_fired_total",
			Help: "Total number of cleanup error-rate alarms.",
		},
	)

	// scanDuration records wall time per scan, by scan kind.
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cleanup_scan_duration_seconds",
			Help:    "Duration of cleanup scans in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scan"},
	)
)

func init() {
	prometheus.MustRegister(variantsDeleted, cleanupFailures, deadLettered, alarmsFired, scanDuration)
}
