package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	poolLabel = "pool"
)

var (
	workerBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_busy",
		Help: "The number of workers running a job.",
	}, []string{poolLabel})

	workerPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "worker_pending_jobs",
		Help: "The number of jobs waiting for a free worker.",
	}, []string{poolLabel})

	workerRejectedJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_rejected_jobs",
		Help: "The number of jobs rejected because the pending queue was full.",
	}, []string{poolLabel})

	workerJobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "worker_job_latency",
		Help: "The time to process a job.",
	}, []string{poolLabel})

	workerJobWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "worker_job_wait",
		Help: "The time a job waited before being dispatched to a worker.",
	}, []string{poolLabel})
)

func instrumentPool(pool string, s Stats) {
	workerBusy.
		With(prometheus.Labels{poolLabel: pool}).
		Set(float64(s.Busy))
	workerPending.
		With(prometheus.Labels{poolLabel: pool}).
		Set(float64(s.Pending))
}

func instrumentRejectedJob(pool string) {
	workerRejectedJobs.
		With(prometheus.Labels{poolLabel: pool}).
		Inc()
}

func instrumentJob(pool string, d time.Duration) {
	workerJobLatency.
		With(prometheus.Labels{poolLabel: pool}).
		Observe(d.Seconds())
}

func instrumentJobWait(pool string, d time.Duration) {
	workerJobWait.
		With(prometheus.Labels{poolLabel: pool}).
		Observe(d.Seconds())
}
