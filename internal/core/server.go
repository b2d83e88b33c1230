// Package core provides the API chassis for the ClinicBill billing service.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, logging, and CORS -- before requests reach
// domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinicbill/internal/config"
)

// Server encapsulates all dependencies for the billing API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked by GET /health. Each probe represents a
	// critical dependency (the record store) that must be reachable.
	HealthProbes []HealthProbe

	// V1RouteRegistrars register domain handler routes under /v1.
	// Populated by the application entry point to avoid import cycles
	// between core and handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It performs a fail-fast check on critical configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
// This is used internally by route-mounting methods and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources.
// The service holds no connection pools of its own (all state lives behind
// the record store's HTTP interface), so this only flushes logging.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown complete")
	return nil
}
