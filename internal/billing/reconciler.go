package billing

import (
	"context"
	"log/slog"
	"time"

	"clinicbill/internal/types"
)

// TenantWriter is the primary write surface. Failures from these methods
// propagate and fail the webhook delivery so the provider retries it.
type TenantWriter interface {
	ActivateCheckout(ctx context.Context, tenantID string, plan types.PlanTier, customerID string, subscriptionID string) error
	PatchByCustomer(ctx context.Context, customerID string, patch types.TenantPatch) error
}

// SubscriptionWriter maintains the secondary subscription mirror.
type SubscriptionWriter interface {
	Insert(ctx context.Context, sub types.Subscription) error
	PatchBySubscriptionID(ctx context.Context, subscriptionID string, patch types.SubscriptionPatch) error
}

// AuditWriter appends advisory audit entries.
type AuditWriter interface {
	Append(ctx context.Context, entry types.AuditLogEntry) error
}

// Reconciler applies verified webhook events to the record store. Each event
// maps to a short ordered sequence of writes: one primary tenant update whose
// failure fails the delivery, followed by best-effort secondary writes whose
// failures are logged and swallowed.
//
// There is no cross-event ordering guarantee. Every write is a targeted
// field-level overwrite, so out-of-order deliveries converge last-write-wins
// at the row level; an older subscription.updated arriving after a newer one
// can overwrite the newer state until the provider's next event corrects it.
type Reconciler struct {
	tenants TenantWriter
	subs    SubscriptionWriter
	audit   AuditWriter
	plans   *PlanResolver
	logger  *slog.Logger
}

// NewReconciler wires a Reconciler. All dependencies are required except the
// logger, which defaults to slog.Default().
func NewReconciler(
	tenants TenantWriter,
	subs SubscriptionWriter,
	audit AuditWriter,
	plans *PlanResolver,
	logger *slog.Logger,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tenants: tenants,
		subs:    subs,
		audit:   audit,
		plans:   plans,
		logger:  logger,
	}
}

// Handle dispatches a parsed event to its handler. Unknown event types are
// logged and acknowledged without side effects; the provider's event stream
// is much wider than the four types this service acts on.
func (r *Reconciler) Handle(ctx context.Context, evt Event) error {
	switch evt.Kind {
	case EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, evt.CheckoutCompleted)
	case EventSubscriptionUpdated:
		return r.handleSubscriptionUpdated(ctx, evt.SubscriptionUpdated)
	case EventSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, evt.SubscriptionDeleted)
	case EventPaymentFailed:
		return r.handlePaymentFailed(ctx, evt.PaymentFailed)
	default:
		r.logger.InfoContext(ctx, "unhandled webhook event type",
			slog.String("event_type", evt.RawType),
			slog.String("event_id", evt.ID),
		)
		return nil
	}
}

// handleCheckoutCompleted activates a tenant after a successful checkout.
// The session metadata is the only place the internal tenant ID appears; a
// session without it cannot be reconciled and is acknowledged as a no-op.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, cs *CheckoutSession) error {
	tenantID := cs.Metadata["tenantId"]
	if tenantID == "" {
		r.logger.WarnContext(ctx, "checkout session has no tenantId metadata; skipping",
			slog.String("session_id", cs.ID),
			slog.String("customer_id", cs.Customer),
		)
		return nil
	}

	plan := types.PlanTier(cs.Metadata["planId"])
	if plan == "" {
		plan = types.PlanBasic
	}

	if err := r.tenants.ActivateCheckout(ctx, tenantID, plan, cs.Customer, cs.Subscription); err != nil {
		return err
	}

	r.bestEffort(ctx, "subscription insert", func() error {
		return r.subs.Insert(ctx, types.Subscription{
			StripeSubscriptionID: cs.Subscription,
			TenantID:             tenantID,
			StripeCustomerID:     cs.Customer,
			Plan:                 plan,
			Status:               string(types.SubStatusActive),
			CurrentPeriodStart:   isoFromUnixOrNow(cs.Created),
		})
	})

	r.bestEffort(ctx, "audit append", func() error {
		return r.audit.Append(ctx, types.AuditLogEntry{
			TenantID: tenantID,
			Action:   types.AuditActionSubscriptionCreated,
			Entity:   types.AuditEntityBilling,
			EntityID: cs.Subscription,
			Details: map[string]any{
				"plan":       plan,
				"customerId": cs.Customer,
				"sessionId":  cs.ID,
			},
		})
	})

	return nil
}

// handleSubscriptionUpdated mirrors a provider-side subscription change onto
// the tenant row. The status value passes through as free text; the plan is
// resolved from the first line item's price ID.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, sc *SubscriptionChange) error {
	plan := r.plans.Resolve(sc.PriceID())

	// A canceled or unpaid subscription must never leave the tenant on a
	// paid plan, whatever price the event carries.
	status := types.SubscriptionStatus(sc.Status)
	if status == types.SubStatusCanceled || status == types.SubStatusUnpaid {
		plan = types.PlanBasic
	}

	subscriptionID := sc.ID
	if err := r.tenants.PatchByCustomer(ctx, sc.Customer, types.TenantPatch{
		Plan:                 &plan,
		StripeSubscriptionID: &subscriptionID,
		SubscriptionStatus:   &status,
	}); err != nil {
		return err
	}

	r.bestEffort(ctx, "subscription patch", func() error {
		patch := types.SubscriptionPatch{
			Plan:   &plan,
			Status: &sc.Status,
		}
		if sc.CurrentPeriodStart > 0 {
			start := isoFromUnix(sc.CurrentPeriodStart)
			patch.CurrentPeriodStart = &start
		}
		if sc.CurrentPeriodEnd > 0 {
			end := isoFromUnix(sc.CurrentPeriodEnd)
			patch.CurrentPeriodEnd = &end
		}
		return r.subs.PatchBySubscriptionID(ctx, sc.ID, patch)
	})

	return nil
}

// handleSubscriptionDeleted downgrades the tenant to basic when its
// subscription is deleted on the provider side.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, sc *SubscriptionChange) error {
	plan := types.PlanBasic
	status := types.SubStatusCanceled
	if err := r.tenants.PatchByCustomer(ctx, sc.Customer, types.TenantPatch{
		Plan:               &plan,
		SubscriptionStatus: &status,
	}); err != nil {
		return err
	}

	r.bestEffort(ctx, "subscription patch", func() error {
		canceledStatus := string(types.SubStatusCanceled)
		canceledAt := isoNow()
		return r.subs.PatchBySubscriptionID(ctx, sc.ID, types.SubscriptionPatch{
			Status:     &canceledStatus,
			CanceledAt: &canceledAt,
		})
	})

	r.bestEffort(ctx, "audit append", func() error {
		return r.audit.Append(ctx, types.AuditLogEntry{
			Action:   types.AuditActionSubscriptionCanceled,
			Entity:   types.AuditEntityBilling,
			EntityID: sc.ID,
			Details: map[string]any{
				"customerId": sc.Customer,
			},
		})
	})

	return nil
}

// handlePaymentFailed records a dunning signal. Nothing here is a
// must-succeed write: the provider keeps sending payment_failed events while
// the invoice is unpaid, and the authoritative status change (if any) arrives
// as a separate subscription.updated event. Failing the delivery would only
// provoke redundant retries.
func (r *Reconciler) handlePaymentFailed(ctx context.Context, pf *PaymentFailure) error {
	r.logger.WarnContext(ctx, "invoice payment failed",
		slog.String("customer_id", pf.Customer),
		slog.String("subscription_id", pf.Subscription),
		slog.Int("attempt_count", pf.AttemptCount),
	)

	r.bestEffort(ctx, "tenant patch", func() error {
		status := types.SubStatusPastDue
		return r.tenants.PatchByCustomer(ctx, pf.Customer, types.TenantPatch{
			SubscriptionStatus: &status,
		})
	})

	r.bestEffort(ctx, "audit append", func() error {
		entityID := pf.Subscription
		if entityID == "" {
			entityID = pf.ID
		}
		return r.audit.Append(ctx, types.AuditLogEntry{
			Action:   types.AuditActionPaymentFailed,
			Entity:   types.AuditEntityBilling,
			EntityID: entityID,
			Details: map[string]any{
				"customerId":   pf.Customer,
				"attemptCount": pf.AttemptCount,
				"amountDue":    pf.AmountDue,
			},
		})
	})

	return nil
}

// bestEffort runs a secondary write and logs its failure at warn instead of
// propagating it. The subscriptions and audit_logs tables are allowed to lag
// or even not exist; the tenant row is the source of truth.
func (r *Reconciler) bestEffort(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		r.logger.WarnContext(ctx, "best-effort write failed",
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
}

func isoFromUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

func isoFromUnixOrNow(sec int64) string {
	if sec <= 0 {
		return isoNow()
	}
	return isoFromUnix(sec)
}

func isoNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
