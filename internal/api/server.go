// Package api serves the search engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RyugoHori/AssistChat-Portfolio/internal/search"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/store"
	"github.com/RyugoHori/AssistChat-Portfolio/internal/telemetry"
)

const (
	defaultAddr         = "127.0.0.1:8001"
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 60 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// Searcher is the part of the engine the API needs.
type Searcher interface {
	SearchWithOptions(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
	RerankerReady(ctx context.Context) bool
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Model is the embedding model name reported by /api/stats.
	Model string
}

// Deps are the collaborators behind the handlers. Engine and Meta may be
// nil when no snapshot is loaded; Telemetry may be nil.
type Deps struct {
	Engine    Searcher
	Meta      *store.MetadataTable
	Telemetry *telemetry.Recorder

	// Registry receives the HTTP and search metrics. A fresh registry is
	// created when nil.
	Registry *prometheus.Registry
}

// Server is the HTTP API.
type Server struct {
	config    Config
	engine    Searcher
	meta      *store.MetadataTable
	telemetry *telemetry.Recorder
	registry  *prometheus.Registry
	metrics   *Metrics
	router    chi.Router

	facetsOnce sync.Once
	facets     search.Facets
}

// NewServer wires the router and middleware.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	metrics, err := NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	meta := deps.Meta
	if meta == nil {
		meta = store.NewMetadataTable(nil)
	}

	s := &Server{
		config:    cfg,
		engine:    deps.Engine,
		meta:      meta,
		telemetry: deps.Telemetry,
		registry:  reg,
		metrics:   metrics,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(accessLog)
	r.Use(s.metrics.Middleware())
	r.Use(CORS(s.config.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Get("/search/metadata", s.handleFilterMetadata)
		r.Get("/docs/{doc_id}", s.handleDocument)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Loaded reports whether a snapshot with records backs the server.
func (s *Server) Loaded() bool {
	return s.engine != nil && s.meta.Len() > 0
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       2 * s.config.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	slog.Info("server_listening",
		slog.String("addr", listener.Addr().String()),
		slog.Bool("index_loaded", s.Loaded()),
		slog.Int("records", s.meta.Len()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server_stopped")
	return ctx.Err()
}

func (s *Server) filterFacets() search.Facets {
	s.facetsOnce.Do(func() {
		s.facets = search.BuildFacets(s.meta.Records())
	})
	return s.facets
}
