package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/autoscale"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/cache"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/logging"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
)

var rootCmd = &cobra.Command{
	Use:           "autoscaler",
	Short:         "Document worker autoscaler",
	Long:          "Scales the document worker Deployment using PID control on queue depth and pod metrics",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := autoscale.NewViper()
		if err != nil {
			return err
		}
		cfg, err := autoscale.LoadConfig(v)
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func kubeConfig() (*rest.Config, error) {
	if path := os.Getenv("KUBECONFIG"); path != "" {
		return clientcmd.BuildConfigFromFlags("", path)
	}
	return rest.InClusterConfig()
}

func run(ctx context.Context, cfg *autoscale.Config) error {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	restConfig, err := kubeConfig()
	if err != nil {
		return fmt.Errorf("failed to create kube config: %w", err)
	}
	k8sClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create k8s client: %w", err)
	}
	metricsClient, err := metricsclient.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to create metrics client: %w", err)
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	controller := autoscale.NewController(
		k8sClient,
		metricsClient,
		queue.NewRedisProducer(redisClient, logger),
		cfg.Namespace,
		cfg.Workers,
		autoscale.NewControllerMetrics(registry),
		logger,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Starting metrics server on port %d", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server failed")
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := controller.Run(ctx, cfg.CheckInterval); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("controller failed: %w", err)
	}

	logger.Info("Autoscaler controller stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
