// Package handlers contains the HTTP handler implementations for the
// ClinicBill billing API.
//
// The webhook handler is NOT behind any auth middleware; it is called
// directly by the billing provider. Security comes from verifying the
// Stripe-Signature header over the raw request bytes.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clinicbill/internal/billing"
	"clinicbill/internal/core"
	"clinicbill/internal/external"
)

// maxWebhookBodySize caps webhook payloads at 64 KB. Provider payloads are
// typically a few KB; the limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// Caller-visible response bodies. These exact strings are part of the wire
// contract with the provider's retry machinery and with the dashboard, so
// they are pinned here rather than derived from internal error codes.
const (
	msgInvalidSignature = "Invalid signature"
	msgMethodNotAllowed = "Method not allowed"
	msgNotConfigured    = "Webhook not configured"
	msgProcessingFailed = "Webhook processing failed"
)

// EventProcessor applies a verified webhook event to the record store.
// Satisfied by *billing.Reconciler.
type EventProcessor interface {
	Handle(ctx context.Context, evt billing.Event) error
}

// webhookAck is the success response body.
type webhookAck struct {
	Received bool `json:"received"`
}

// WebhookHandler receives provider webhook deliveries, verifies their
// signatures, and hands verified events to the reconciler.
type WebhookHandler struct {
	verifier  external.WebhookVerifier
	processor EventProcessor
	secret    string
	logger    *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. An empty secret is accepted
// here; the handler answers every delivery with 500 "Webhook not configured"
// until the secret is provisioned, which keeps the rest of the API bootable.
func NewWebhookHandler(
	verifier external.WebhookVerifier,
	processor EventProcessor,
	secret string,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier:  verifier,
		processor: processor,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Registered for all methods so
// the handler itself can answer non-POST with the contract's 405 body instead
// of the router's default. The /webhooks/stripe alias preserves the path the
// provider dashboard was originally configured with.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Handle("/billing/webhook", http.HandlerFunc(h.Handle))
	r.Handle("/webhooks/stripe", http.HandlerFunc(h.Handle))
}

// Handle processes one webhook delivery.
//
// Order matters: the method check precedes everything, the configuration
// check precedes body handling, and the raw body is buffered in full before
// any parsing because the signature covers the exact bytes the provider sent.
// Signature failures are answered with one uniform 400 body regardless of
// which check failed, so the endpoint is not an oracle; the specific reason
// is logged server-side only.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	// OPTIONS is answered by the CORS middleware before reaching here.
	if r.Method != http.MethodPost {
		core.JSON(w, r, http.StatusMethodNotAllowed, core.APIErrorResponse{Error: msgMethodNotAllowed})
		return
	}

	if h.secret == "" {
		h.logger.ErrorContext(r.Context(), "webhook signing secret is not configured")
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{Error: msgNotConfigured})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read webhook body",
			slog.Any("error", err),
		)
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{Error: msgProcessingFailed})
		return
	}

	sigHeader := r.Header.Get(external.SignatureHeader)
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			slog.Any("error", err),
		)
		core.JSON(w, r, http.StatusBadRequest, core.APIErrorResponse{Error: msgInvalidSignature})
		return
	}

	// The body passed verification; a parse failure now is a bug or a
	// provider contract change, not an attack.
	evt, err := billing.ParseEvent(payload)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse verified webhook payload",
			slog.Any("error", err),
		)
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{Error: msgProcessingFailed})
		return
	}

	h.logger.InfoContext(r.Context(), "processing webhook event",
		slog.String("event_id", evt.ID),
		slog.String("event_type", evt.RawType),
	)

	// A handler error means the primary tenant write failed; answering
	// non-2xx makes the provider redeliver the event.
	if err := h.processor.Handle(r.Context(), evt); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			slog.String("event_id", evt.ID),
			slog.String("event_type", evt.RawType),
			slog.Any("error", err),
		)
		core.JSON(w, r, http.StatusInternalServerError, core.APIErrorResponse{Error: msgProcessingFailed})
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
}
