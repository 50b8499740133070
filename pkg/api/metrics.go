package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics for Prometheus monitoring
type ServerMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	QueuedJobs       *prometheus.CounterVec
	ProcessingErrors *prometheus.CounterVec
}

// NewServerMetrics creates the HTTP metrics and registers them with reg
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	factory := promauto.With(reg)
	return &ServerMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docproc_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		}, []string{"route", "method"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docproc_http_requests_in_flight",
			Help: "Requests currently being served",
		}),
		QueuedJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_queued_jobs_total",
			Help: "Jobs enqueued by type",
		}, []string{"job_type"}),
		ProcessingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_processing_errors_total",
			Help: "Request processing errors by kind",
		}, []string{"route", "error_type"}),
	}
}
