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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/cache"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/config"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/docintel"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/health"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/logging"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/processor"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/sgd"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/tasks"
)

const metricsInterval = 10 * time.Second

var envFile string

var rootCmd = &cobra.Command{
	Use:           "doc-worker",
	Short:         "Document processing worker",
	Long:          "Consumes document jobs from the Redis priority streams and stores their results",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(envFile)
		if err != nil {
			return err
		}
		cfg, err := config.Load(v)
		if err != nil {
			return err
		}
		if err := cfg.ValidateWorker(); err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	intel, err := docintel.NewClient(docintel.Options{
		Endpoint:   cfg.AzureEndpoint,
		Key:        cfg.AzureKey,
		APIVersion: cfg.AzureAPIVersion,
		Models: docintel.Models{
			Classifier: cfg.AzureClassificationModel,
			Transport:  cfg.AzureTransportModel,
			Invoice:    cfg.AzureInvoiceModel,
		},
		PollInterval: cfg.AzurePollInterval,
		Timeout:      cfg.AzureTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create document intelligence client: %w", err)
	}

	proc, err := processor.New(processor.Options{
		Classifier:          intel,
		Extractor:           intel,
		Source:              sgd.NewClient(cfg.SGDBaseURL, cfg.SGDBearerToken, cfg.SGDTimeout, logger),
		Cache:               cache.New(redisClient, cfg.CacheTTL, cfg.ResultTTL, logger),
		ClassifyConcurrency: cfg.ClassifyConcurrency,
		Metrics:             processor.NewMetrics(registry),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	runner := tasks.NewRunner(proc, logger)

	consumerMetrics := queue.NewConsumerMetrics(registry)
	consumers := make([]*queue.RedisConsumer, cfg.WorkerConcurrency)
	for i := range consumers {
		name := cfg.ConsumerName
		if cfg.WorkerConcurrency > 1 {
			name = fmt.Sprintf("%s_%d", cfg.ConsumerName, i+1)
		}
		consumers[i], err = queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerOptions{
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  name,
			ResultTTL:     cfg.ResultTTL,
		}, consumerMetrics, logger)
		if err != nil {
			return fmt.Errorf("failed to create Redis consumer: %w", err)
		}
	}

	metricsServer := newMetricsServer(cfg.MetricsPort, registry, func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Starting metrics server on port %d", cfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		consumers[0].RunMetricsLoop(ctx, metricsInterval)
		return nil
	})

	logger.WithField("consumers", len(consumers)).Info("Starting document worker")
	for _, consumer := range consumers {
		consumer := consumer
		g.Go(func() error {
			if err := consumer.ConsumeJobs(ctx, runner); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Document worker stopped")
	return nil
}

func newMetricsServer(port int, gatherer prometheus.Gatherer, check health.CheckFunc) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := check(r.Context()); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to the .env file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
