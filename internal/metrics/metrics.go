// Package metrics defines the Prometheus collectors shared across
// components, grounded on the teacher's alert_exporter metrics
// (internal/alert_exporter/alertmanager_utils.go) and its use of
// prometheus/client_golang throughout.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	HeartbeatsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdm_heartbeats_ingested_total",
		Help: "Total heartbeat samples accepted by the ingestor.",
	})

	HeartbeatsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdm_heartbeat_events_dropped_total",
		Help: "Heartbeat events dropped because the in-memory event queue was full.",
	})

	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_commands_dispatched_total",
		Help: "Commands dispatched to devices, by action and outcome.",
	}, []string{"action", "status"})

	AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_alerts_raised_total",
		Help: "Alerts transitioned into the raised state, by condition.",
	}, []string{"condition"})

	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_alerts_suppressed_total",
		Help: "Alert notifications suppressed by cooldown, global rate limit, or rollup.",
	}, []string{"condition", "reason"})

	DeploymentBatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_deployment_batch_outcomes_total",
		Help: "Deployment batches reaching a terminal state, by outcome.",
	}, []string{"outcome"})

	DBPoolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdm_db_pool_connections_in_use",
		Help: "Database connections currently checked out of the pool.",
	})

	DBPoolUtilizationPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mdm_db_pool_utilization_pct",
		Help: "Database pool utilization as a percentage; WARN at 80, CRITICAL at 95.",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_cache_hits_total",
		Help: "Cache lookups, by cache name and hit/miss.",
	}, []string{"cache", "result"})

	// QueryLatencyLegacy and QueryLatencyFast back the PERF_DIFF_ENABLED
	// dual-query comparison harness (internal/perfdiff), ported from the
	// original perf_harness.py's per-path latency histograms.
	QueryLatencyLegacy = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdm_query_latency_legacy_ms",
		Help:    "Latency of the legacy query path, by query name, when perf-diff comparison is enabled.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_name"})

	QueryLatencyFast = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mdm_query_latency_fast_ms",
		Help:    "Latency of the fast query path, by query name, when perf-diff comparison is enabled.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_name"})

	PerfDiffComparisons = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdm_perf_diff_comparisons_total",
		Help: "Dual-query perf-diff comparisons run, by query name.",
	}, []string{"query_name"})
)

const (
	DBPoolWarnThresholdPct     = 80
	DBPoolCriticalThresholdPct = 95
)

// ObservePoolUtilization records the current connection-pool
// utilization so alerting can fire at the WARN/CRITICAL thresholds
// from spec §5.
func ObservePoolUtilization(inUse, maxOpen int) {
	DBPoolInUse.Set(float64(inUse))
	if maxOpen == 0 {
		return
	}
	DBPoolUtilizationPct.Set(float64(inUse) / float64(maxOpen) * 100)
}

// LogPoolHealth emits a structured WARN/CRITICAL log line once
// utilization crosses the thresholds above, the Go equivalent of the
// original pool monitor's check_pool_health() structured event. Below
// WARN it stays silent rather than logging at INFO on every poll
// tick, since the caller already exports the gauge continuously.
func LogPoolHealth(log logrus.FieldLogger, inUse, maxOpen int) {
	if maxOpen == 0 {
		return
	}
	pct := float64(inUse) / float64(maxOpen) * 100
	fields := logrus.Fields{
		"checked_out":     inUse,
		"max_capacity":    maxOpen,
		"utilization_pct": pct,
	}
	switch {
	case pct >= DBPoolCriticalThresholdPct:
		log.WithFields(fields).Error("db pool at critical capacity")
	case pct >= DBPoolWarnThresholdPct:
		log.WithFields(fields).Warn("db pool approaching capacity")
	}
}
