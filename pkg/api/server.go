package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/PabloTorresOyarzun/api-docs1/pkg/auth"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/health"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/models"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/queue"
	"github.com/PabloTorresOyarzun/api-docs1/pkg/ratelimit"
)

const shutdownTimeout = 15 * time.Second

// DocumentProcessor runs documents and despachos through the pipeline
type DocumentProcessor interface {
	Process(ctx context.Context, document []byte, documentID string) (*models.ProcessedDocument, error)
	ProcessDespacho(ctx context.Context, despachoID string, refresh bool) (*models.SGDDocumentResponse, error)
}

// DespachoCache exposes cache maintenance for despachos
type DespachoCache interface {
	InvalidateDespacho(ctx context.Context, despachoID string) (int64, error)
	TTL(ctx context.Context, despachoID string) (time.Duration, error)
}

// JobQueue enqueues background jobs and reports their status
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, priority queue.Priority, data map[string]interface{}, maxRetries int) (string, error)
	GetResult(ctx context.Context, jobID string) (*models.TaskStatus, error)
}

// Options holds the dependencies of the HTTP API
type Options struct {
	Processor DocumentProcessor
	Cache     DespachoCache
	Queue     JobQueue
	Auth      *auth.Authenticator
	// Limiter is optional; nil disables rate limiting
	Limiter *ratelimit.Limiter
	Health  *health.Checker

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	CORSAllowedOrigins []string
	MaxUploadBytes     int64
}

// Server is the document processing HTTP API
type Server struct {
	opts     Options
	logger   *logrus.Logger
	metrics  *ServerMetrics
	validate *validator.Validate
	handler  http.Handler
}

// NewServer wires the routes and middleware of the API
func NewServer(opts Options, logger *logrus.Logger) (*Server, error) {
	if opts.Processor == nil || opts.Cache == nil || opts.Queue == nil || opts.Auth == nil || opts.Health == nil {
		return nil, errors.New("processor, cache, queue, auth and health are required")
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if len(opts.CORSAllowedOrigins) == 0 {
		opts.CORSAllowedOrigins = []string{"*"}
	}

	s := &Server{
		opts:     opts,
		logger:   logger,
		metrics:  NewServerMetrics(opts.Registerer),
		validate: validator.New(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metricsMiddleware)
	if s.opts.Limiter != nil {
		r.Use(s.opts.Limiter.Middleware)
	}

	// Public
	r.Handle("/", http.RedirectHandler("/health", http.StatusTemporaryRedirect)).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLive).Methods(http.MethodGet)
	r.Handle("/health/ready", s.opts.Health.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/auth/token", s.handleToken).Methods(http.MethodPost)

	// Authenticated
	individual := r.PathPrefix("/individual").Subrouter()
	individual.Use(s.opts.Auth.Middleware)
	individual.HandleFunc("/extraer", s.handleUpload).Methods(http.MethodPost)
	individual.HandleFunc("/extraer/base64", s.handleBase64).Methods(http.MethodPost)
	individual.HandleFunc("/extraer/async", s.handleEnqueueDocument).Methods(http.MethodPost)
	individual.HandleFunc("/clasificar-procesar", s.handleUpload).Methods(http.MethodPost)
	individual.HandleFunc("/clasificar-procesar/base64", s.handleBase64).Methods(http.MethodPost)

	despachos := r.PathPrefix("/sgd/despacho").Subrouter()
	despachos.Use(s.opts.Auth.Middleware)
	despachos.HandleFunc("/{id}", s.handleDespacho).Methods(http.MethodGet)
	despachos.HandleFunc("/{id}/async", s.handleEnqueueDespacho).Methods(http.MethodPost)
	despachos.HandleFunc("/{id}/cache", s.handleInvalidateCache).Methods(http.MethodDelete)
	despachos.HandleFunc("/{id}/cache/ttl", s.handleCacheTTL).Methods(http.MethodGet)

	tasks := r.PathPrefix("/tasks").Subrouter()
	tasks.Use(s.opts.Auth.Middleware)
	tasks.HandleFunc("/{id}", s.handleTaskStatus).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.loggingMiddleware(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.opts.CORSAllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
	return h
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting HTTP server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
