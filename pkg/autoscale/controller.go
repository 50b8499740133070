package autoscale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// defaultUtilization is assumed when pod metrics are unavailable
const defaultUtilization = 0.5

var errNoPodMetrics = errors.New("no pod metrics found")

// DepthSource reports the number of jobs waiting in the queue
type DepthSource interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// WorkerMetrics is a snapshot of the observed worker state
type WorkerMetrics struct {
	CurrentReplicas int32
	QueueDepth      int64
	CPUUtilization  float64
	MemoryUtil      float64
}

// Decision is the outcome of one scaling iteration
type Decision struct {
	Observed        WorkerMetrics
	PIDOutput       float64
	DesiredReplicas int32
	Scaled          bool
}

// pidReplicaScale converts PID output in queue units to replicas
const pidReplicaScale = 10.0

// Controller scales the document worker Deployment on queue depth
type Controller struct {
	k8sClient     kubernetes.Interface
	metricsClient metricsclient.Interface
	queue         DepthSource
	namespace     string
	params        Params
	pid           *PIDController
	metrics       *ControllerMetrics
	logger        *logrus.Logger
}

// NewController creates a new autoscaler controller
func NewController(k8sClient kubernetes.Interface, metricsClient metricsclient.Interface, queue DepthSource, namespace string, params Params, metrics *ControllerMetrics, logger *logrus.Logger) *Controller {
	pid := NewPIDController(params.Kp, params.Ki, params.Kd, float64(params.TargetQueueDepth))
	// one replica per pidReplicaScale of output, so the PID alone can at
	// most swing the full replica range
	pid.OutputLimit = float64(params.MaxReplicas) * pidReplicaScale

	return &Controller{
		k8sClient:     k8sClient,
		metricsClient: metricsClient,
		queue:         queue,
		namespace:     namespace,
		params:        params,
		pid:           pid,
		metrics:       metrics,
		logger:        logger,
	}
}

// Run executes a scaling iteration every interval until ctx is cancelled
func (c *Controller) Run(ctx context.Context, interval time.Duration) error {
	c.logger.WithFields(logrus.Fields{
		"deployment": c.params.DeploymentName,
		"namespace":  c.namespace,
		"interval":   interval,
	}).Info("Starting autoscaler controller")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Reconcile(ctx); err != nil {
				c.logger.WithError(err).Error("Scaling iteration failed")
			}
		}
	}
}

// Reconcile observes the workers once and updates the replica count when
// the desired value differs from the current one
func (c *Controller) Reconcile(ctx context.Context) (*Decision, error) {
	name := c.params.DeploymentName
	start := time.Now()
	defer func() {
		c.metrics.ScalingLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	observed, err := c.observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get worker metrics: %w", err)
	}

	c.metrics.CurrentReplicas.WithLabelValues(name).Set(float64(observed.CurrentReplicas))
	c.metrics.QueueDepth.WithLabelValues(name).Set(float64(observed.QueueDepth))
	c.metrics.CPUUtilization.WithLabelValues(name).Set(observed.CPUUtilization)
	c.metrics.MemoryUtilization.WithLabelValues(name).Set(observed.MemoryUtil)

	var pidOutput float64
	if observed.QueueDepth == 0 {
		// An empty queue settles at the minimum without stale integral
		c.pid.Reset()
	} else {
		pidOutput = c.pid.Update(float64(observed.QueueDepth))
	}
	c.metrics.PIDOutput.WithLabelValues(name).Set(pidOutput)

	desired := DesiredReplicas(*observed, pidOutput, c.params)
	c.metrics.DesiredReplicas.WithLabelValues(name).Set(float64(desired))

	decision := &Decision{Observed: *observed, PIDOutput: pidOutput, DesiredReplicas: desired}
	if desired == observed.CurrentReplicas {
		return decision, nil
	}

	c.logger.WithFields(logrus.Fields{
		"deployment":       name,
		"current_replicas": observed.CurrentReplicas,
		"desired_replicas": desired,
		"queue_depth":      observed.QueueDepth,
		"cpu_utilization":  observed.CPUUtilization,
		"memory_util":      observed.MemoryUtil,
		"pid_output":       pidOutput,
	}).Info("Scaling workers")

	if err := c.scaleDeployment(ctx, desired); err != nil {
		return decision, fmt.Errorf("failed to scale deployment: %w", err)
	}
	decision.Scaled = true

	direction := "up"
	if desired < observed.CurrentReplicas {
		direction = "down"
	}
	c.metrics.ScalingDecisions.WithLabelValues(name, direction).Inc()

	return decision, nil
}

// DesiredReplicas combines the queue based estimate, the PID adjustment and
// resource pressure, clamped to the configured bounds
func DesiredReplicas(m WorkerMetrics, pidOutput float64, params Params) int32 {
	base := BaseReplicas(m.QueueDepth, params)

	// the PID output is in queue units, so it is scaled down before use
	desired := int32(math.Max(float64(base)+pidOutput/pidReplicaScale, float64(params.MinReplicas)))
	desired = ApplyResourceConstraints(desired, m, params)

	if desired < params.MinReplicas {
		desired = params.MinReplicas
	}
	if desired > params.MaxReplicas {
		desired = params.MaxReplicas
	}
	return desired
}

// BaseReplicas returns the replicas needed to keep each worker at the target
// queue depth, plus a 20% buffer for incoming jobs
func BaseReplicas(queueDepth int64, params Params) int32 {
	if queueDepth <= 0 {
		return params.MinReplicas
	}

	base := int32(math.Ceil(float64(queueDepth) / float64(params.TargetQueueDepth)))
	buffer := int32(math.Ceil(float64(base) * 0.2))
	return base + buffer
}

// ApplyResourceConstraints scales up further when CPU or memory is above target
func ApplyResourceConstraints(replicas int32, m WorkerMetrics, params Params) int32 {
	if m.CPUUtilization <= params.TargetCPU && m.MemoryUtil <= params.TargetMemory {
		return replicas
	}

	pressure := math.Max(m.CPUUtilization/params.TargetCPU, m.MemoryUtil/params.TargetMemory)
	return replicas + int32(math.Ceil(float64(replicas)*(pressure-1.0)*0.5))
}

func (c *Controller) observe(ctx context.Context) (*WorkerMetrics, error) {
	deployment, err := c.k8sClient.AppsV1().Deployments(c.namespace).Get(ctx, c.params.DeploymentName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	var current int32 = 1
	if deployment.Spec.Replicas != nil {
		current = *deployment.Spec.Replicas
	}

	depth, err := c.queue.QueueDepth(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to get queue depth, using 0")
		depth = 0
	}

	cpuUtil, memUtil, err := c.resourceUtilization(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to get resource utilization, using defaults")
		cpuUtil, memUtil = defaultUtilization, defaultUtilization
	}

	return &WorkerMetrics{
		CurrentReplicas: current,
		QueueDepth:      depth,
		CPUUtilization:  cpuUtil,
		MemoryUtil:      memUtil,
	}, nil
}

// resourceUtilization averages CPU and memory utilization across the pods of
// the Deployment, relative to the configured per-pod limits
func (c *Controller) resourceUtilization(ctx context.Context) (float64, float64, error) {
	podMetrics, err := c.metricsClient.MetricsV1beta1().PodMetricses(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "app=" + c.params.DeploymentName,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get pod metrics: %w", err)
	}
	if len(podMetrics.Items) == 0 {
		return 0, 0, errNoPodMetrics
	}

	var totalCPU, totalMemory float64
	for _, pod := range podMetrics.Items {
		for _, container := range pod.Containers {
			cpu := container.Usage[corev1.ResourceCPU]
			mem := container.Usage[corev1.ResourceMemory]

			totalCPU += float64(cpu.MilliValue()) / 1000.0 / c.params.CPULimitCores
			totalMemory += float64(mem.Value()) / c.params.MemoryLimitBytes
		}
	}

	pods := float64(len(podMetrics.Items))
	return totalCPU / pods, totalMemory / pods, nil
}

func (c *Controller) scaleDeployment(ctx context.Context, replicas int32) error {
	deployments := c.k8sClient.AppsV1().Deployments(c.namespace)

	deployment, err := deployments.Get(ctx, c.params.DeploymentName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get deployment: %w", err)
	}

	deployment.Spec.Replicas = &replicas
	if _, err := deployments.Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"deployment": c.params.DeploymentName,
		"replicas":   replicas,
	}).Info("Scaled deployment")

	return nil
}
