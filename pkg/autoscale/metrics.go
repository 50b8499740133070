package autoscale

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ControllerMetrics for Prometheus monitoring
type ControllerMetrics struct {
	ScalingDecisions  *prometheus.CounterVec
	CurrentReplicas   *prometheus.GaugeVec
	DesiredReplicas   *prometheus.GaugeVec
	QueueDepth        *prometheus.GaugeVec
	CPUUtilization    *prometheus.GaugeVec
	MemoryUtilization *prometheus.GaugeVec
	ScalingLatency    *prometheus.HistogramVec
	PIDOutput         *prometheus.GaugeVec
}

// NewControllerMetrics creates the autoscaler metrics and registers them with reg
func NewControllerMetrics(reg prometheus.Registerer) *ControllerMetrics {
	factory := promauto.With(reg)
	return &ControllerMetrics{
		ScalingDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docproc_scaling_decisions_total",
			Help: "Total number of scaling decisions",
		}, []string{"deployment", "direction"}),
		CurrentReplicas: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_current_replicas",
			Help: "Current number of replicas",
		}, []string{"deployment"}),
		DesiredReplicas: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_desired_replicas",
			Help: "Desired number of replicas",
		}, []string{"deployment"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_autoscaler_queue_depth",
			Help: "Queue depth observed by the autoscaler",
		}, []string{"deployment"}),
		CPUUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_autoscaler_cpu_utilization",
			Help: "CPU utilization observed by the autoscaler",
		}, []string{"deployment"}),
		MemoryUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_autoscaler_memory_utilization",
			Help: "Memory utilization observed by the autoscaler",
		}, []string{"deployment"}),
		ScalingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docproc_scaling_latency_seconds",
			Help:    "Time taken to complete a scaling iteration",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"deployment"}),
		PIDOutput: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docproc_pid_output",
			Help: "PID controller output",
		}, []string{"deployment"}),
	}
}
