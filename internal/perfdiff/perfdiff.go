// Package perfdiff implements the dual-query performance comparison
// harness gated by PERF_DIFF_ENABLED (spec §6), ported from the
// original perf_harness.py's compare_query_performance: run the
// legacy and fast code paths side by side, log the comparison, record
// per-path latency histograms, and return the fast result unless it
// errored.
package perfdiff

import (
	"time"

	"github.com/fleetmdm/controlplane/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Compare runs both legacyFn and fastFn, logs a structured latency
// comparison, and returns fastFn's result — falling back to legacyFn's
// only if fastFn failed. When enabled is false it skips legacyFn
// entirely and just runs fastFn, matching the Python harness's
// disabled-mode short circuit.
func Compare[T any](log logrus.FieldLogger, enabled bool, queryName string, legacyFn, fastFn func() (T, error)) (T, error) {
	if !enabled {
		return fastFn()
	}

	legacyStart := time.Now()
	legacyResult, legacyErr := legacyFn()
	legacyLatency := time.Since(legacyStart)

	fastStart := time.Now()
	fastResult, fastErr := fastFn()
	fastLatency := time.Since(fastStart)

	speedup := 0.0
	if fastLatency > 0 {
		speedup = float64(legacyLatency) / float64(fastLatency)
	}

	fields := logrus.Fields{
		"query_name":        queryName,
		"legacy_latency_ms": legacyLatency.Seconds() * 1000,
		"fast_latency_ms":   fastLatency.Seconds() * 1000,
		"speedup":           speedup,
	}
	if legacyErr != nil {
		fields["legacy_error"] = legacyErr.Error()
	}
	if fastErr != nil {
		fields["fast_error"] = fastErr.Error()
	}
	log.WithFields(fields).Info("perf_diff.query_comparison")

	metrics.QueryLatencyLegacy.WithLabelValues(queryName).Observe(legacyLatency.Seconds() * 1000)
	metrics.QueryLatencyFast.WithLabelValues(queryName).Observe(fastLatency.Seconds() * 1000)
	metrics.PerfDiffComparisons.WithLabelValues(queryName).Inc()

	if fastErr == nil {
		return fastResult, nil
	}
	return legacyResult, legacyErr
}
