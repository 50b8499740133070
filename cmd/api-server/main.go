package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/api"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/auth"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/cache"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/config"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/docintel"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/health"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/logging"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/processor"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/ratelimit"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/sgd"
)

var (
	envFile     string
	healthCheck bool
)

var rootCmd = &cobra.Command{
	Use:           "api-server",
	Short:         "Document processing API",
	Long:          "HTTP API that classifies, splits and extracts customs documents with Azure Document Intelligence",
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

		if healthCheck {
			url := fmt.Sprintf("http://localhost:%d/health/ready", cfg.HTTPPort)
			return health.Probe(cmd.Context(), url, 10*time.Second)
		}

		if err := cfg.Validate(); err != nil {
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

	docCache := cache.New(redisClient, cfg.CacheTTL, cfg.ResultTTL, logger)

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
		Cache:               docCache,
		ClassifyConcurrency: cfg.ClassifyConcurrency,
		Metrics:             processor.NewMetrics(registry),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	authenticator, err := auth.New(cfg.JWTSecretKey, cfg.JWTAlgorithm, cfg.AccessTokenTTL())
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	limiter := ratelimit.New(redisClient, cfg.RateLimitCalls, cfg.RateLimitWindow(), logger,
		"/health", "/health/live", "/health/ready", "/metrics")

	checker := health.NewChecker(5 * time.Second)
	checker.Register("redis", docCache.Ping)

	server, err := api.NewServer(api.Options{
		Processor:          proc,
		Cache:              docCache,
		Queue:              queue.NewRedisProducer(redisClient, logger),
		Auth:               authenticator,
		Limiter:            limiter,
		Health:             checker,
		Registerer:         registry,
		Gatherer:           registry,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes:     cfg.MaxUploadBytes(),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	logger.WithField("addr", addr).Info("Starting API server")
	if err := server.Run(ctx, addr); err != nil {
		return err
	}

	logger.Info("API server stopped")
	return nil
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to the .env file")
	rootCmd.Flags().BoolVar(&healthCheck, "health-check", false, "probe /health/ready on the local server and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
