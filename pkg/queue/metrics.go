package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConsumerMetrics for Prometheus monitoring
type ConsumerMetrics struct {
	JobsProcessed  prometheus.Counter
	JobsSuccessful prometheus.Counter
	JobsFailed     prometheus.Counter
	JobsRetried    prometheus.Counter
	JobsDeadLetter prometheus.Counter
	ProcessingTime prometheus.Histogram
	QueueDepth     *prometheus.GaugeVec
	PendingJobs    *prometheus.GaugeVec
}

// NewConsumerMetrics creates the consumer metrics and registers them with reg
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	factory := promauto.With(reg)
	return &ConsumerMetrics{
		JobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproc_jobs_processed_total",
			Help: "Total number of jobs processed",
		}),
		JobsSuccessful: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproc_jobs_successful_total",
			Help: "Total number of successful jobs",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproc_jobs_failed_total",
			Help: "Total number of failed job attempts",
		}),
		JobsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproc_jobs_retried_total",
			Help: "Total number of jobs requeued for retry",
		}),
		JobsDeadLetter: factory.NewCounter(prometheus.CounterOpts{
			Name: "docproc_jobs_dead_letter_total",
			Help: "Total number of jobs moved to the dead letter stream",
		}),
		ProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docproc_job_processing_duration_seconds",
			Help:    "Job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_queue_depth",
			Help: "Current queue depth by priority",
		}, []string{"priority"}),
		PendingJobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_consumer_pending",
			Help: "Delivered but unacknowledged jobs by stream",
		}, []string{"stream"}),
	}
}
