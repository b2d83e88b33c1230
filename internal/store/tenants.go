package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"clinicbill/internal/types"
)

const tenantsTable = "tenants"

// TenantRepo performs the primary (must-succeed) tenant writes driven by
// webhook reconciliation, plus the lookups the Stripe client needs.
//
// A PATCH that matches zero rows is not an error at the wire level: the
// record store answers 2xx with an empty result set. The repo logs that case
// at warn so an unknown customer ID is visible in logs, but does not fail the
// reconciliation; this mirrors how the store itself treats filter misses.
type TenantRepo struct {
	client *Client
	logger *slog.Logger
}

// NewTenantRepo creates a TenantRepo backed by the given store client.
func NewTenantRepo(client *Client, logger *slog.Logger) *TenantRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantRepo{client: client, logger: logger}
}

// ActivateCheckout applies the full post-checkout tenant update in one PATCH:
// plan, both Stripe IDs, active subscription status, and the active flag.
// Keyed by tenant ID because checkout metadata carries the tenant ID directly.
func (r *TenantRepo) ActivateCheckout(
	ctx context.Context,
	tenantID string,
	plan types.PlanTier,
	customerID string,
	subscriptionID string,
) error {
	status := types.SubStatusActive
	active := true
	patch := types.TenantPatch{
		Plan:                 &plan,
		StripeCustomerID:     &customerID,
		StripeSubscriptionID: &subscriptionID,
		SubscriptionStatus:   &status,
		Active:               &active,
		UpdatedAt:            nowTimestamp(),
	}
	return r.patch(ctx, map[string]string{"id": tenantID}, patch)
}

// PatchByCustomer applies a partial tenant update keyed by Stripe customer
// ID. Subscription lifecycle events identify the tenant only by customer, so
// this is the write path for updated, deleted, and payment-failed events.
func (r *TenantRepo) PatchByCustomer(ctx context.Context, customerID string, patch types.TenantPatch) error {
	if patch.UpdatedAt == "" {
		patch.UpdatedAt = nowTimestamp()
	}
	return r.patch(ctx, map[string]string{"stripe_customer_id": customerID}, patch)
}

// GetBillingInfo returns the tenant's Stripe customer ID and email.
// The customer ID is empty (with a nil error) when the tenant exists but has
// never been through checkout; a missing tenant is an error.
func (r *TenantRepo) GetBillingInfo(ctx context.Context, tenantID string) (string, string, error) {
	body, err := r.client.Request(ctx, http.MethodGet, tenantsTable, RequestOptions{
		Filter: map[string]string{"id": tenantID},
		Select: "stripe_customer_id,email",
		Limit:  1,
	})
	if err != nil {
		return "", "", err
	}

	var rows []struct {
		StripeCustomerID string `json:"stripe_customer_id"`
		Email            string `json:"email"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalStore,
			"failed to decode tenant billing info",
			err,
		)
	}
	if len(rows) == 0 {
		return "", "", types.NewAppError(
			types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s not found", tenantID),
			nil,
		)
	}
	return rows[0].StripeCustomerID, rows[0].Email, nil
}

// SetStripeCustomerID stores the Stripe customer ID on the tenant record.
func (r *TenantRepo) SetStripeCustomerID(ctx context.Context, tenantID string, customerID string) error {
	patch := types.TenantPatch{
		StripeCustomerID: &customerID,
		UpdatedAt:        nowTimestamp(),
	}
	return r.patch(ctx, map[string]string{"id": tenantID}, patch)
}

// patch issues a PATCH against the tenants table and warns when the filter
// matched no rows.
func (r *TenantRepo) patch(ctx context.Context, filter map[string]string, patch types.TenantPatch) error {
	body, err := r.client.Request(ctx, http.MethodPatch, tenantsTable, RequestOptions{
		Filter: filter,
		Body:   patch,
	})
	if err != nil {
		return err
	}

	var rows []json.RawMessage
	if jsonErr := json.Unmarshal(body, &rows); jsonErr == nil && len(rows) == 0 {
		r.logger.WarnContext(ctx, "tenant patch matched no rows",
			"filter", filter,
		)
	}
	return nil
}
