package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsEnqueued tracks jobs added to the queue by type.
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_enqueued_total",
		Help: "Total number of jobs enqueued by type",
	}, []string{"type"})

	// jobsCompleted tracks jobs that finished successfully.
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_jobs_completed_total",
		Help: "Total number of jobs completed successfully",
	})

	// jobsFailed tracks jobs that reached terminal failure.
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_jobs_failed_total",
		Help: "Total number of jobs that failed terminally",
	})

	// jobsRetried tracks retryable failures rescheduled to pending.
	jobsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Total number of jobs rescheduled after a transient failure",
	})

	// leasesRecovered tracks expired leases reset by the sweeper.
	leasesRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "queue_leases_recovered_total",
		Help: "Total number of expired job leases reset to pending",
	})
)
