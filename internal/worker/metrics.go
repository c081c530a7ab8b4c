package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "worker_job_duration_seconds",
	Help:    "Wall-clock duration of agent runs, including failures.",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
})
