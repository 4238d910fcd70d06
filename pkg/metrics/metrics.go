package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	genqueue = "genqueue"

	jobsEnqueuedTotal  = "jobs_enqueued_total"
	jobsClaimedTotal   = "jobs_claimed_total"
	jobsTerminalTotal  = "jobs_terminal_total"
	jobsRetriedTotal   = "jobs_retried_total"
	leaseExpiredTotal  = "lease_expired_total"
	processingSeconds  = "job_processing_duration_seconds"
	queueWaitSeconds   = "job_queue_wait_duration_seconds"

	// Labels
	kindLabel     = "kind"
	statusLabel   = "status"
	categoryLabel = "category"
)

/**
* Metrics definition
**/
var jobsEnqueuedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: genqueue,
		Name:      jobsEnqueuedTotal,
		Help:      "number of jobs accepted into the queue",
	},
	[]string{kindLabel},
)

var jobsClaimedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: genqueue,
		Name:      jobsClaimedTotal,
		Help:      "number of successful job claims",
	},
	[]string{kindLabel},
)

var jobsTerminalTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: genqueue,
		Name:      jobsTerminalTotal,
		Help:      "number of jobs reaching a terminal status",
	},
	[]string{kindLabel, statusLabel, categoryLabel},
)

var jobsRetriedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: genqueue,
		Name:      jobsRetriedTotal,
		Help:      "number of failure attempts re-queued with backoff",
	},
	[]string{kindLabel},
)

var leaseExpiredTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: genqueue,
		Name:      leaseExpiredTotal,
		Help:      "number of processing jobs requeued after lease expiry",
	},
	[]string{kindLabel},
)

var processingSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: genqueue,
		Name:      processingSeconds,
		Help:      "time between claim and terminal transition",
		Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900},
	},
	[]string{kindLabel, statusLabel},
)

var queueWaitSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: genqueue,
		Name:      queueWaitSeconds,
		Help:      "time between enqueue and claim",
		Buckets:   []float64{0.1, 0.5, 1, 5, 30, 120, 600},
	},
	[]string{kindLabel},
)

func IncreaseJobsEnqueuedTotalMetric(kind string) {
	jobsEnqueuedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseJobsClaimedTotalMetric(kind string) {
	jobsClaimedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseJobsTerminalTotalMetric(kind, status, category string) {
	jobsTerminalTotalMetric.With(prometheus.Labels{
		kindLabel:     kind,
		statusLabel:   status,
		categoryLabel: category,
	}).Inc()
}

func IncreaseJobsRetriedTotalMetric(kind string) {
	jobsRetriedTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func IncreaseLeaseExpiredTotalMetric(kind string) {
	leaseExpiredTotalMetric.With(prometheus.Labels{kindLabel: kind}).Inc()
}

func ObserveProcessingDurationMetric(kind, status string, d time.Duration) {
	processingSecondsMetric.With(prometheus.Labels{
		kindLabel:   kind,
		statusLabel: status,
	}).Observe(d.Seconds())
}

func ObserveQueueWaitDurationMetric(kind string, d time.Duration) {
	queueWaitSecondsMetric.With(prometheus.Labels{kindLabel: kind}).Observe(d.Seconds())
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsEnqueuedTotalMetric)
	prometheus.MustRegister(jobsClaimedTotalMetric)
	prometheus.MustRegister(jobsTerminalTotalMetric)
	prometheus.MustRegister(jobsRetriedTotalMetric)
	prometheus.MustRegister(leaseExpiredTotalMetric)
	prometheus.MustRegister(processingSecondsMetric)
	prometheus.MustRegister(queueWaitSecondsMetric)
}
