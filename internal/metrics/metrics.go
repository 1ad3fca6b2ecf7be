package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentpipe_jobs_submitted_total",
		Help: "Total number of jobs created by submissions",
	})

	JobsDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentpipe_jobs_deduplicated_total",
		Help: "Total number of submissions that returned an existing job",
	})

	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentpipe_jobs_finished_total",
		Help: "Total number of jobs reaching a terminal state, by status",
	}, []string{"status"})

	ActiveExecutions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contentpipe_active_executions",
		Help: "Number of pipeline executions currently holding a concurrency slot",
	})

	ProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contentpipe_processing_duration_seconds",
		Help:    "Time spent inside the processor call",
		Buckets: prometheus.DefBuckets,
	})

	CallbackAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contentpipe_callback_attempts_total",
		Help: "Total number of callback delivery attempts",
	})

	CallbackDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentpipe_callback_deliveries_total",
		Help: "Callback delivery outcomes, by result",
	}, []string{"outcome"})

	PurgedJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contentpipe_purged_jobs_total",
		Help: "Total number of job rows removed by the retention purge, by tier",
	}, []string{"tier"})
)
