// Package types defines the shared domain model for the ClinicBill billing
// service: tenant and subscription records as they exist in the external
// record store, the plan and status enums used for reconciliation, and the
// common error and context plumbing.
package types

import "time"

// PlanTier identifies a tenant's subscription plan.
type PlanTier string

const (
	PlanBasic      PlanTier = "basic"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// IsValid reports whether the plan tier is one of the known tiers.
func (p PlanTier) IsValid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	}
	return false
}

// SubscriptionStatus mirrors the billing provider's subscription status.
// The stored value is free text; unknown provider statuses pass through
// unchanged rather than being rejected.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusTrialing SubscriptionStatus = "trialing"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
	SubStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Tenant is a clinic tenant row in the external record store. The webhook
// core only touches the billing-related fields; the rest of the row (name,
// contact details, feature flags) is owned by the dashboard.
type Tenant struct {
	ID                   string             `json:"id"`
	Email                string             `json:"email,omitempty"`
	Plan                 PlanTier           `json:"plan"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status,omitempty"`
	Active               bool               `json:"active"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TenantPatch is a partial tenant update. Nil fields are omitted from the
// serialized PATCH body so the record store leaves them untouched.
type TenantPatch struct {
	Plan                 *PlanTier           `json:"plan,omitempty"`
	StripeCustomerID     *string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string             `json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   *SubscriptionStatus `json:"subscription_status,omitempty"`
	Active               *bool               `json:"active,omitempty"`
	UpdatedAt            string              `json:"updated_at,omitempty"`
}

// Subscription is the best-effort secondary record mirroring a provider
// subscription. The table is allowed not to exist; write failures here are
// swallowed by callers.
type Subscription struct {
	StripeSubscriptionID string   `json:"stripe_subscription_id"`
	TenantID             string   `json:"tenant_id"`
	StripeCustomerID     string   `json:"stripe_customer_id"`
	Plan                 PlanTier `json:"plan,omitempty"`
	Status               string   `json:"status"`
	CurrentPeriodStart   string   `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     string   `json:"current_period_end,omitempty"`
	CanceledAt           string   `json:"canceled_at,omitempty"`
	CreatedAt            string   `json:"created_at,omitempty"`
	UpdatedAt            string   `json:"updated_at,omitempty"`
}

// SubscriptionPatch is a partial subscription update keyed by
// stripe_subscription_id.
type SubscriptionPatch struct {
	Plan               *PlanTier `json:"plan,omitempty"`
	Status             *string   `json:"status,omitempty"`
	CurrentPeriodStart *string   `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *string   `json:"current_period_end,omitempty"`
	CanceledAt         *string   `json:"canceled_at,omitempty"`
	UpdatedAt          string    `json:"updated_at,omitempty"`
}

// AuditLogEntry is an append-only advisory record of a billing state change.
type AuditLogEntry struct {
	TenantID  string         `json:"tenant_id"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Audit actions recorded by the reconciliation handlers.
const (
	AuditActionSubscriptionCreated  = "subscription_created"
	AuditActionSubscriptionCanceled = "subscription_canceled"
	AuditActionPaymentFailed        = "payment_failed"
)

// AuditEntityBilling is the entity tag for all billing audit entries.
const AuditEntityBilling = "billing"
