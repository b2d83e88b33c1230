package core

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes defines the top-level routing hierarchy.
// It registers the global middleware chain, the /v1 version group, and the
// top-level health check.
func (s *Server) MountRoutes() {
	// Global middleware registration (strict order matters).
	//
	// Ordering rationale:
	//  1. Recoverer     - outermost, catches all panics.
	//  2. RequestID     - correlation ID for everything downstream.
	//  3. RequestLogger - structured logging with the final status code.
	//  4. CORS          - browser security headers, answers preflights.
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	// API version group.
	s.router.Route("/v1", s.mountV1)

	// Top-level routes (outside /v1 namespace).
	s.router.Get("/health", s.HandleHealth)
}

// mountV1 registers all v1 endpoints. Domain handler routes are registered via
// V1RouteRegistrars, which are populated by the application entry point
// (main.go). This indirection avoids import cycles between core and handler
// packages.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}
