// Package server exposes the admin HTTP API: pipeline trigger and follow-up,
// source health inspection and blacklist management. JSON only, no pages.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"veilleur/internal/config"
	"veilleur/internal/discovery"
	"veilleur/internal/health"
	"veilleur/internal/logger"
	"veilleur/internal/pipeline"
)

// Deps are the collaborators the admin API fronts. Discoverer may be nil
// when auto-discovery is disabled.
type Deps struct {
	Manager    *pipeline.Manager
	Health     health.Store
	Discoverer *discovery.Discoverer
}

// Server is the admin HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	cfg        config.Server
	startedAt  time.Time
}

// New builds the server and its routes.
func New(deps Deps, cfg config.Server) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		cfg:       cfg,
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthz)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/status", s.handlePipelineStatus)
			r.Get("/logs", s.handlePipelineLogs)
			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)
				r.Post("/start", s.handlePipelineStart)
				r.Post("/stop", s.handlePipelineStop)
			})
		})

		r.Route("/sources", func(r chi.Router) {
			r.Get("/health", s.handleSourcesHealth)
			r.Get("/blacklist", s.handleBlacklist)
			r.Group(func(r chi.Router) {
				r.Use(s.requireOperator)
				r.Delete("/blacklist/{domain}", s.handleUnblacklist)
				r.Post("/discover", s.handleDiscover)
			})
		})
	})
}

// Router exposes the handler, mostly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	logger.Info("Admin API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Admin API shutting down")
	return s.httpServer.Shutdown(ctx)
}
