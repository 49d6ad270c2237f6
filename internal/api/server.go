// Package api exposes the reconciliation engine over HTTP. Routing is
// chi based; every /api route requires a user identity injected by the
// gateway in front of this service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/reconcilerd/reconcilerd/internal/api/handlers"
	"github.com/reconcilerd/reconcilerd/internal/api/middleware"
	"github.com/reconcilerd/reconcilerd/internal/duplicates"
	"github.com/reconcilerd/reconcilerd/internal/session"
	"github.com/reconcilerd/reconcilerd/pkg/logger"
)

// Config holds API server configuration
type Config struct {
	Port int
}

// DefaultConfig returns sensible defaults for the API server
func DefaultConfig() Config {
	return Config{Port: 8080}
}

// Server is the HTTP API server
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	log        logger.Logger
	sessions   *session.Service
	detector   *duplicates.Detector
}

// NewServer creates a new API server
func NewServer(cfg Config, sessions *session.Service, detector *duplicates.Detector) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		log:      logger.WithComponent("api_server"),
		sessions: sessions,
		detector: detector,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logging(s.log))
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	s.router.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireUser)

		reconciliations := handlers.NewReconciliationsHandler(s.sessions)
		r.Post("/reconciliations", reconciliations.Start)
		r.Get("/reconciliations", reconciliations.List)
		r.Get("/reconciliations/{id}", reconciliations.Get)
		r.Get("/reconciliations/{id}/audit", reconciliations.AuditTrail)
		r.Post("/reconciliations/{id}/import", reconciliations.Import)
		r.Post("/reconciliations/{id}/match", reconciliations.Match)
		r.Post("/reconciliations/{id}/unmatch", reconciliations.Unmatch)
		r.Post("/reconciliations/{id}/adjustments", reconciliations.AddAdjustment)
		r.Post("/reconciliations/{id}/finalize", reconciliations.Finalize)
		r.Post("/reconciliations/{id}/cancel", reconciliations.Cancel)

		duplicatesHandler := handlers.NewDuplicatesHandler(s.detector)
		r.Get("/duplicates", duplicatesHandler.Scan)
		r.Post("/duplicates/dismiss", duplicatesHandler.Dismiss)
	})
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", addr).Info("Starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server")

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing
func (s *Server) Router() chi.Router {
	return s.router
}
