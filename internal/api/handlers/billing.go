package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinicbill/internal/core"
	"clinicbill/internal/external"
	"clinicbill/internal/types"
)

// CheckoutService is the subset of the Stripe client the billing handler
// needs: starting a checkout for a plan upgrade and opening the billing
// portal for subscription self-service.
type CheckoutService interface {
	CreateCheckoutSession(ctx context.Context, tenantID string, plan types.PlanTier, urls external.CheckoutURLs) (checkoutURL string, sessionID string, err error)
	CreatePortalSession(ctx context.Context, tenantID string, returnURL string) (portalURL string, err error)
}

// BillingHandler exposes the dashboard-facing billing endpoints. These sit
// alongside the webhook endpoint: the dashboard starts checkout here, the
// provider reports the outcome there.
type BillingHandler struct {
	checkout CheckoutService
	logger   *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(checkout CheckoutService, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{checkout: checkout, logger: logger}
}

// RegisterRoutes mounts the billing endpoints.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.HandleCreateCheckout)
	r.Post("/billing/portal", h.HandleCreatePortal)
}

type createCheckoutRequest struct {
	TenantID   string `json:"tenantId"`
	PlanID     string `json:"planId"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
}

type createCheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"sessionId"`
}

// HandleCreateCheckout starts a checkout session for a plan upgrade.
func (h *BillingHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body is not valid JSON",
			err,
		))
		return
	}

	if req.TenantID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"tenantId, successUrl and cancelUrl are required",
			nil,
		))
		return
	}

	plan := types.PlanTier(req.PlanID)
	if !plan.IsValid() {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			"planId must be one of basic, pro, enterprise",
			nil,
		))
		return
	}

	checkoutURL, sessionID, err := h.checkout.CreateCheckoutSession(r.Context(), req.TenantID, plan, external.CheckoutURLs{
		Success: req.SuccessURL,
		Cancel:  req.CancelURL,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			slog.String("tenant_id", req.TenantID),
			slog.String("plan", req.PlanID),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, createCheckoutResponse{
		URL:       checkoutURL,
		SessionID: sessionID,
	})
}

type createPortalRequest struct {
	TenantID  string `json:"tenantId"`
	ReturnURL string `json:"returnUrl"`
}

type createPortalResponse struct {
	URL string `json:"url"`
}

// HandleCreatePortal opens a billing portal session for an existing customer.
func (h *BillingHandler) HandleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var req createPortalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"request body is not valid JSON",
			err,
		))
		return
	}

	if req.TenantID == "" || req.ReturnURL == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"tenantId and returnUrl are required",
			nil,
		))
		return
	}

	portalURL, err := h.checkout.CreatePortalSession(r.Context(), req.TenantID, req.ReturnURL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			slog.String("tenant_id", req.TenantID),
			slog.Any("error", err),
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, createPortalResponse{URL: portalURL})
}
