// Package server implements the HTTP API of docqa: document upload, question
// answering, document listing, health and readiness probes, and Prometheus
// metrics. The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docqa-go/internal/version"
)

// Default per-request bounds.
const (
	// DefaultQueryTimeout bounds one POST /api/query request.
	DefaultQueryTimeout = 2 * time.Minute
	// DefaultUploadTimeout bounds one POST /api/upload request.
	DefaultUploadTimeout = 10 * time.Minute
	// DefaultMaxUploadBytes is the largest accepted upload (32 MiB).
	DefaultMaxUploadBytes = 32 << 20
)

// New constructs a Server from its collaborators and config.
func New(ingester Ingester, asker Asker, catalog Catalog, cfg *Config) (*Server, error) {
	if ingester == nil || asker == nil || catalog == nil {
		return nil, fmt.Errorf("server: ingester, asker and catalog must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		ingester: ingester,
		asker:    asker,
		catalog:  catalog,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.rejected = s.metrics.httpRateLimitedTotal
	s.stopRL = stop

	if cfg.APIKey == "" {
		log.Warn("auth: DOCQA_API_KEY is not set, API authentication is disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, s.routes(rl)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// applyDefaults fills zero-valued fields of cfg.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		// Large uploads need time to arrive.
		cfg.ReadTimeout = 2 * time.Minute
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.UploadTimeout == 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.UploadTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// routes builds the request multiplexer. Upload and query are rate limited;
// upload, query and document routes require the API key when one is set.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protected := func(h http.Handler) http.Handler { return authMiddleware(s.cfg.APIKey, h) }
	limited := func(h http.Handler) http.Handler { return protected(rl.middleware(h)) }

	mux := http.NewServeMux()
	mux.Handle("POST /api/upload", s.instrument("upload", limited(http.HandlerFunc(s.handleUpload))))
	mux.Handle("POST /api/query", s.instrument("query", limited(http.HandlerFunc(s.handleQuery))))
	mux.Handle("GET /api/documents", s.instrument("documents", protected(http.HandlerFunc(s.handleListDocuments))))
	mux.Handle("GET /api/documents/{id}", s.instrument("document", protected(http.HandlerFunc(s.handleGetDocument))))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	return mux
}

// Handler returns the fully wrapped HTTP handler. It is used by tests and by
// callers that embed the API in another server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("docqa server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("docqa server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
