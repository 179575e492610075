// Package core provides the API chassis for the Memberlane backend.
// It creates the chi router and enforces cross-cutting concerns -- request
// identity, logging, panic recovery, and error handling -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"memberlane/internal/config"
)

// RouteRegistrar is implemented by handler groups that mount their own routes
// onto the server's router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Server encapsulates the HTTP-facing dependencies of the Memberlane API,
// allowing for easy injection during testing and distinct configuration for
// different environments.
type Server struct {
	Config *config.Config
	Logger *slog.Logger
	Health *HealthChecker

	router *chi.Mux
}

// NewServer initializes the router and prepares the server for route
// mounting. It performs a fail-fast check on critical dependencies.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger, health *HealthChecker) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config: cfg,
		Logger: logger,
		Health: health,
		router: chi.NewRouter(),
	}

	return s, nil
}

// MountRoutes wires the middleware chain and registers all route groups.
// Ordering matters: Recoverer is outermost so it catches panics from every
// other middleware, and Timeout is innermost so handlers observe the
// per-request deadline.
func (s *Server) MountRoutes(registrars ...RouteRegistrar) {
	s.router.Use(Recoverer(s.Logger))
	s.router.Use(RequestID)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(Timeout(s.Config.Server.RequestTimeout))

	s.router.Get("/healthz", s.handleHealth)

	for _, reg := range registrars {
		reg.RegisterRoutes(s.router)
	}
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Health != nil {
		s.Health.Close()
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
