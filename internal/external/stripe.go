package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"clinicbill/internal/types"

	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// Checkout session metadata keys. The webhook reconciler reads these back
// from checkout.session.completed events, so the spelling here and there
// must stay in sync.
const (
	metadataTenantKey = "tenantId"
	metadataPlanKey   = "planId"
)

// TenantBillingLookup provides the minimal data access StripeClient needs to
// resolve a tenant into its Stripe customer ID and billing email. This avoids
// pulling in the full tenant repository interface.
type TenantBillingLookup interface {
	// GetBillingInfo returns the stripe_customer_id and email for the tenant.
	// Returns ("", "", nil) if the tenant exists but has no customer ID yet.
	// Returns an error if the tenant does not exist.
	GetBillingInfo(ctx context.Context, tenantID string) (stripeCustomerID string, email string, err error)

	// SetStripeCustomerID stores the customer ID on the tenant record.
	SetStripeCustomerID(ctx context.Context, tenantID string, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	// Prices maps each sellable plan tier to its Stripe price ID.
	Prices map[types.PlanTier]string
	Logger *slog.Logger
}

// StripeClient talks to the Stripe REST API directly through BaseClient
// rather than through the SDK's own transport. This routes every call
// through the shared resilience layer (circuit breaker, retries, error
// mapping) and makes httptest-based testing straightforward. The SDK is
// still the source of truth for the pinned API version header.
type StripeClient struct {
	base         *BaseClient
	secretKey    string
	baseURL      string
	prices       map[types.PlanTier]string
	tenantLookup TenantBillingLookup
	logger       *slog.Logger
}

// NewStripeClient creates a StripeClient with its own BaseClient. The
// httpClient timeout should be around 20 seconds; checkout session creation
// is the slowest call this client makes.
func NewStripeClient(
	httpClient *http.Client,
	tenantLookup TenantBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"ClinicBill/1.0",
	)
	return NewStripeClientWithBase(base, tenantLookup, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that need to control retry or sleep behavior.
func NewStripeClientWithBase(
	base *BaseClient,
	tenantLookup TenantBillingLookup,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:         base,
		secretKey:    cfg.SecretKey,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		prices:       cfg.Prices,
		tenantLookup: tenantLookup,
		logger:       logger,
	}
}

// EnsureCustomer retrieves or creates the Stripe customer for a tenant.
// Search-first to prevent duplicate customers:
//  1. Query the Stripe Search API for a metadata['tenant_id'] match.
//  2. If found, persist and return the existing customer ID.
//  3. Otherwise create a new customer carrying tenant_id metadata.
//  4. Persist the customer ID on the tenant record.
//
// The persistence step is best-effort: a store failure is logged but does not
// fail the call, since the customer already exists on the Stripe side and the
// next call will find it again via search.
func (s *StripeClient) EnsureCustomer(ctx context.Context, tenantID string, email string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['tenant_id']:'%s'", tenantID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		if storeErr := s.tenantLookup.SetStripeCustomerID(ctx, tenantID, customerID); storeErr != nil {
			s.logger.WarnContext(ctx, "failed to persist stripe customer id",
				"tenant_id", tenantID,
				"customer_id", customerID,
				"error", storeErr,
			)
		}
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[tenant_id]", tenantID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	if storeErr := s.tenantLookup.SetStripeCustomerID(ctx, tenantID, customer.ID); storeErr != nil {
		s.logger.WarnContext(ctx, "failed to persist stripe customer id after creation",
			"tenant_id", tenantID,
			"customer_id", customer.ID,
			"error", storeErr,
		)
	}

	return customer.ID, nil
}

// CheckoutURLs carries the redirect targets for a checkout session.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

// CreateCheckoutSession generates a Stripe Checkout Session URL for
// upgrading a tenant to the given plan. The session carries tenantId and
// planId metadata so the checkout.session.completed webhook can correlate
// the payment back to the tenant without any extra lookups.
//
// The tenant's customer ID is resolved from the store; a tenant that has
// never been through checkout gets a customer created on the fly.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	tenantID string,
	plan types.PlanTier,
	urls CheckoutURLs,
) (checkoutURL string, sessionID string, err error) {
	priceID, ok := s.prices[plan]
	if !ok || priceID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("no price configured for plan %q", plan),
			nil,
		)
	}

	customerID, email, err := s.tenantLookup.GetBillingInfo(ctx, tenantID)
	if err != nil {
		return "", "", err
	}
	if customerID == "" {
		customerID, err = s.EnsureCustomer(ctx, tenantID, email)
		if err != nil {
			return "", "", err
		}
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", tenantID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set(fmt.Sprintf("metadata[%s]", metadataTenantKey), tenantID)
	params.Set(fmt.Sprintf("metadata[%s]", metadataPlanKey), string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// CreatePortalSession generates a Stripe Billing Portal URL so a tenant can
// manage its subscription and payment methods. Requires the tenant to already
// have a Stripe customer ID.
func (s *StripeClient) CreatePortalSession(
	ctx context.Context,
	tenantID string,
	returnURL string,
) (portalURL string, err error) {
	customerID, err := s.resolveCustomerID(ctx, tenantID)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request against the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST with a form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe authentication and pinned API version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// resolveCustomerID fetches the tenant's Stripe customer ID from the store.
func (s *StripeClient) resolveCustomerID(ctx context.Context, tenantID string) (string, error) {
	customerID, _, err := s.tenantLookup.GetBillingInfo(ctx, tenantID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", types.NewAppError(
			types.ErrCodeNotFoundTenant,
			fmt.Sprintf("tenant %s has no Stripe customer ID; complete checkout first", tenantID),
			nil,
		)
	}
	return customerID, nil
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse is the JSON error envelope returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response body and maps it to a
// types.AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Error.Message),
			nil,
		)
	default:
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
			nil,
			map[string]any{
				"stripe_code":  stripeErr.Error.Code,
				"stripe_param": stripeErr.Error.Param,
			},
		)
	}
}

// wrapStripeError wraps a BaseClient transport error with call context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// BaseClient errors (circuit open, retries exhausted) already carry the
	// right upstream error code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
