package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_sweep_runs_total",
		Help: "Sweep executions by mode and result.",
	}, []string{"mode", "result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evidence_sweep_deleted_files_total",
		Help: "Expired files permanently deleted.",
	})
	sweepFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evidence_sweep_failed_files_total",
		Help: "Expired files the sweeper could not delete.",
	})
	sweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evidence_sweep_duration_seconds",
		Help:    "Sweep latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})
)

func modeLabel(dryRun bool) string {
	if dryRun {
		return "dry_run"
	}
	return "live"
}
