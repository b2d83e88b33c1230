package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout is the maximum time allowed for all health probes to
// complete. If a probe exceeds this deadline, the health check returns 503.
const healthCheckTimeout = 2 * time.Second

// HealthProbe defines the interface for a subsystem health check.
// The only critical dependency of this service is the external record store.
type HealthProbe interface {
	// Name returns a human-readable identifier for the probe (e.g., "store").
	Name() string

	// Check performs the health check against the subsystem. It should
	// respect the context deadline and return an error if the subsystem is
	// unhealthy or unreachable.
	Check(ctx context.Context) error
}

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth executes the registered health probes sequentially with a short
// timeout. Returns 200 OK if all probes report healthy, 503 Service
// Unavailable otherwise. Mounted at GET /health; public, no authentication.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "healthy"}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}

	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	allHealthy := true

	for _, probe := range s.HealthProbes {
		if err := probe.Check(ctx); err != nil {
			allHealthy = false
			resp.Components[probe.Name()] = componentStatus{
				Status:  "unhealthy",
				Message: err.Error(),
			}
		} else {
			resp.Components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	if allHealthy {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	resp.Status = "unhealthy"
	JSON(w, r, http.StatusServiceUnavailable, resp)
}
