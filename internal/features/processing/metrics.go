package processing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_processing_runs_total",
		Help: "Processing jobs by terminal status.",
	}, []string{"status"})
	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evidence_processing_step_failures_total",
		Help: "Failed processing steps by step name.",
	}, []string{"step"})
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evidence_processing_step_duration_seconds",
		Help:    "Processing step latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evidence_processing_queue_depth",
		Help: "Jobs waiting in the in-process queue.",
	})
)
