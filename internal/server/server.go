// Package server exposes the analysis task API over HTTP
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/logger"
	"pulse/internal/task"
)

// TaskService is the task API the handlers call
type TaskService interface {
	Submit(ctx context.Context, req task.Request) (*core.AnalysisTask, error)
	Status(ctx context.Context, id string) (*core.AnalysisTask, error)
	Result(ctx context.Context, id string) (*core.AnalysisTask, *core.AnalysisResult, error)
	Latest(ctx context.Context) (*core.AnalysisResult, error)
	Logs(ctx context.Context, id string) ([]core.TaskLog, error)
}

// Pinger is a dependency checked by /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	tasks      TaskService
	checks     map[string]Pinger
	config     config.Server
	validate   *validator.Validate
	log        zerolog.Logger
}

// New creates a new HTTP server instance. checks are pinged by /health.
func New(tasks TaskService, cfg config.Server, checks map[string]Pinger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		tasks:    tasks,
		checks:   checks,
		config:   cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      logger.For("server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.router.Use(middleware.Timeout(timeout))
	s.router.Use(securityHeaders)

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/analysis", func(r chi.Router) {
		if s.config.RateLimit.Enabled && s.config.RateLimit.Requests > 0 {
			window := s.config.RateLimit.Window
			if window <= 0 {
				window = time.Minute
			}
			r.With(httprate.LimitByIP(s.config.RateLimit.Requests, window)).Post("/request", s.handleSubmit)
		} else {
			r.Post("/request", s.handleSubmit)
		}
		r.Get("/status/{taskID}", s.handleStatus)
		r.Get("/result/{taskID}", s.handleResult)
		r.Get("/logs/{taskID}", s.handleLogs)
		r.Get("/latest", s.handleLatest)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().
		Str("addr", s.httpServer.Addr).
		Dur("read_timeout", s.config.ReadTimeout).
		Dur("write_timeout", s.config.WriteTimeout).
		Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info().Msg("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
