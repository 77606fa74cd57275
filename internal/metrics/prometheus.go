package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runlab_submissions_total",
		Help: "Total submit calls by admission result",
	}, []string{"result"})

	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runlab_runs_completed_total",
		Help: "Total runs resolved to a terminal state",
	}, []string{"status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runlab_queue_depth",
		Help: "Jobs waiting in the in-process queue",
	})

	RunsExecuting = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runlab_runs_executing",
		Help: "Executions currently holding a limiter slot",
	})

	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runlab_phase_duration_seconds",
		Help:    "Wall time of build and run phases",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"phase"})

	QueueWaitTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "runlab_queue_wait_duration_seconds",
		Help:    "Time a job spent queued before a worker picked it up",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	SweptRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runlab_swept_runs_total",
		Help: "Stale runs resolved to error by the reconciler",
	})
)
