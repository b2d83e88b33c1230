package store

import (
	"context"
	"net/http"
)

// Probe implements the core.HealthProbe interface against the record store.
// It issues the cheapest possible read (one tenant ID) to verify that the
// store is reachable and the service key is accepted.
type Probe struct {
	client *Client
}

// NewProbe creates a health probe for the record store.
func NewProbe(client *Client) *Probe {
	return &Probe{client: client}
}

// Name identifies the probe in health check responses.
func (p *Probe) Name() string {
	return "store"
}

// Check performs a minimal read against the tenants table.
func (p *Probe) Check(ctx context.Context) error {
	_, err := p.client.Request(ctx, http.MethodGet, tenantsTable, RequestOptions{
		Select: "id",
		Limit:  1,
	})
	return err
}
