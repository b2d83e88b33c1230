package store

import (
	"context"
	"net/http"

	"clinicbill/internal/types"
)

const subscriptionsTable = "subscriptions"

// SubscriptionRepo maintains the secondary subscription mirror table.
// Every write through this repo is best-effort from the caller's point of
// view: the reconciler logs failures and keeps going, because the tenant row
// is the source of truth and this table is reporting convenience.
type SubscriptionRepo struct {
	client *Client
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given client.
func NewSubscriptionRepo(client *Client) *SubscriptionRepo {
	return &SubscriptionRepo{client: client}
}

// Insert appends a new subscription mirror row.
func (r *SubscriptionRepo) Insert(ctx context.Context, sub types.Subscription) error {
	if sub.CreatedAt == "" {
		sub.CreatedAt = nowTimestamp()
	}
	if sub.UpdatedAt == "" {
		sub.UpdatedAt = nowTimestamp()
	}
	_, err := r.client.Request(ctx, http.MethodPost, subscriptionsTable, RequestOptions{
		Body: sub,
	})
	return err
}

// PatchBySubscriptionID applies a partial update keyed by the provider's
// subscription ID.
func (r *SubscriptionRepo) PatchBySubscriptionID(ctx context.Context, subscriptionID string, patch types.SubscriptionPatch) error {
	if patch.UpdatedAt == "" {
		patch.UpdatedAt = nowTimestamp()
	}
	_, err := r.client.Request(ctx, http.MethodPatch, subscriptionsTable, RequestOptions{
		Filter: map[string]string{"stripe_subscription_id": subscriptionID},
		Body:   patch,
	})
	return err
}
