// Package server exposes search sessions over an HTTP JSON API and a
// per-session WebSocket push channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/maigret-api/internal/catalog"
	"github.com/raphaelgruber/maigret-api/internal/metrics"
	"github.com/raphaelgruber/maigret-api/internal/notifier"
	"github.com/raphaelgruber/maigret-api/internal/service"
)

// DefaultPingInterval is how often idle WebSocket observers are pinged.
const DefaultPingInterval = 10 * time.Second

// Config holds transport settings.
type Config struct {
	Addr         string
	CORSOrigins  []string
	ToolPath     string
	PingInterval time.Duration
}

// Deps are the components the handlers serve.
type Deps struct {
	Supervisor *service.Supervisor
	Notifier   *notifier.Notifier
	Catalog    *catalog.Catalog
	Metrics    *metrics.Collector
}

// Server wires the router, handlers and lifecycle.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	router   *chi.Mux
	upgrader websocket.Upgrader
	origins  map[string]bool

	quit     chan struct{}
	quitOnce sync.Once
}

// New creates a server and registers all routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		router:  chi.NewRouter(),
		origins: make(map[string]bool, len(cfg.CORSOrigins)),
		quit:    make(chan struct{}),
	}
	for _, o := range cfg.CORSOrigins {
		s.origins[o] = true
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(LoggingMiddleware(logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.corsHandler())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sites", s.handleSites)
		r.Get("/tags", s.handleTags)
		r.Post("/search", s.handleSubmit)
		r.Get("/search/{id}", s.handleStatus)
		r.Get("/results/{id}", s.handleResults)
		r.Get("/sessions", s.handleSessions)
		r.Get("/stats", s.handleStats)
	})
	s.router.Get("/ws/search/{id}", s.handleWatch)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close ends all open WebSocket streams.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		s.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server forced to shutdown", "error", err)
		}
	}()

	s.logger.Info("starting HTTP server", "addr", s.cfg.Addr, "cors_origins", s.cfg.CORSOrigins)

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-shutdownDone
	return nil
}

func (s *Server) toolAvailable() bool {
	if s.cfg.ToolPath == "" {
		return false
	}
	_, err := exec.LookPath(s.cfg.ToolPath)
	return err == nil
}
