package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Handler outcomes partitioned by job type and resulting status
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_jobs_processed_total",
			Help: "Jobs executed by the dispatcher",
		},
		[]string{"type", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supportdesk_job_duration_seconds",
			Help:    "Handler execution time in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	jobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "supportdesk_jobs_inflight",
			Help: "Jobs currently held by this process",
		},
	)

	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supportdesk_jobs_enqueued_total",
			Help: "Jobs written by the recurring scheduler and manual enqueue",
		},
		[]string{"type", "source"},
	)
)
