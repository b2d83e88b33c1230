// Package test contains integration tests that exercise the full API stack:
// real router, middleware, webhook verifier, reconciler, and store client,
// with the record store and the Stripe API replaced by in-process httptest
// servers. Unlike unit tests, nothing here is mocked at the interface level;
// requests travel the same code path they would in production.
package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"clinicbill/internal/api/handlers"
	"clinicbill/internal/billing"
	"clinicbill/internal/config"
	"clinicbill/internal/core"
	"clinicbill/internal/external"
	"clinicbill/internal/store"
)

const webhookSecret = "whsec_integration"

// recordedWrite captures one mutation sent to the fake record store.
type recordedWrite struct {
	Method string
	Query  string
	Body   map[string]any
}

// fakeRecordStore emulates the PostgREST-style record store: array-shaped
// responses, eq. filters, and representation echoes on writes.
type fakeRecordStore struct {
	mu     sync.Mutex
	writes map[string][]recordedWrite // keyed by table name
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{writes: make(map[string][]recordedWrite)}
}

func (f *fakeRecordStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")

		if r.Method == http.MethodGet {
			switch table {
			case "tenants":
				_, _ = w.Write([]byte(`[{"id":"ten_1","stripe_customer_id":"cus_1","email":"owner@clinic.test"}]`))
			default:
				_, _ = w.Write([]byte(`[]`))
			}
			return
		}

		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		f.writes[table] = append(f.writes[table], recordedWrite{
			Method: r.Method,
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		f.mu.Unlock()

		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		_, _ = w.Write([]byte(`[{"id":"ten_1"}]`))
	})
}

func (f *fakeRecordStore) writesTo(table string) []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedWrite(nil), f.writes[table]...)
}

// newAPIStack wires the full service against the fake record store and a fake
// Stripe endpoint, mirroring the production wiring in cmd/api.
func newAPIStack(t *testing.T, records *fakeRecordStore, stripeURL string) http.Handler {
	t.Helper()

	recordServer := httptest.NewServer(records.handler())
	t.Cleanup(recordServer.Close)

	cfg := &config.Config{
		Environment: "local",
		LogLevel:    "error",
		Server:      config.ServerConfig{Port: "0"},
		Store: config.StoreConfig{
			URL:        recordServer.URL,
			ServiceKey: "service-key-test",
			Timeout:    5 * time.Second,
		},
		Billing: config.BillingConfig{
			StripeSecretKey:     "sk_test_integration",
			StripeWebhookSecret: webhookSecret,
			PriceBasic:          "price_b",
			PricePro:            "price_p",
			PriceEnterprise:     "price_e",
		},
		Security: config.SecurityConfig{CorsAllowedOrigins: []string{"*"}},
		Build:    config.BuildInfo{Version: "integration"},
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	storeClient, err := store.NewClient(recordServer.Client(), store.Config{
		URL:        cfg.Store.URL,
		ServiceKey: cfg.Store.ServiceKey,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("store client: %v", err)
	}

	tenantRepo := store.NewTenantRepo(storeClient, logger)
	subRepo := store.NewSubscriptionRepo(storeClient)
	auditRepo := store.NewAuditRepo(storeClient)

	plans := billing.NewPlanResolver(
		cfg.Billing.PriceBasic,
		cfg.Billing.PricePro,
		cfg.Billing.PriceEnterprise,
	)
	reconciler := billing.NewReconciler(tenantRepo, subRepo, auditRepo, plans, logger)

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 5 * time.Second},
		tenantRepo,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   stripeURL,
			Prices:    plans.Prices(),
			Logger:    logger,
		},
	)

	webhookHandler := handlers.NewWebhookHandler(
		external.NewHMACVerifier(),
		reconciler,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	billingHandler := handlers.NewBillingHandler(stripeClient, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, store.NewProbe(storeClient))
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return srv.Handler()
}

// signedWebhookRequest builds a POST with a valid Stripe-Signature header.
func signedWebhookRequest(body []byte) *http.Request {
	return signedWebhookRequestTo("/v1/billing/webhook", body)
}

func signedWebhookRequestTo(path string, body []byte) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := external.ComputeSignature(webhookSecret, ts, body)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(external.SignatureHeader, fmt.Sprintf("t=%s,v1=%s", ts, sig))
	return req
}

func TestWebhook_CheckoutCompletedFlow(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	body := []byte(`{
		"id": "evt_int_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_int_1",
			"customer": "cus_1",
			"subscription": "sub_int_1",
			"created": 1700000000,
			"metadata": {"tenantId": "ten_1", "planId": "pro"}
		}}
	}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"received":true}` {
		t.Errorf("unexpected ack body: %s", rec.Body.String())
	}

	tenantWrites := records.writesTo("tenants")
	if len(tenantWrites) != 1 {
		t.Fatalf("expected 1 tenant write, got %d", len(tenantWrites))
	}
	patch := tenantWrites[0]
	if patch.Method != http.MethodPatch || !strings.Contains(patch.Query, "id=eq.ten_1") {
		t.Errorf("unexpected tenant write: %+v", patch)
	}
	if patch.Body["plan"] != "pro" || patch.Body["subscription_status"] != "active" || patch.Body["active"] != true {
		t.Errorf("unexpected activation body: %v", patch.Body)
	}

	if got := records.writesTo("subscriptions"); len(got) != 1 || got[0].Method != http.MethodPost {
		t.Errorf("expected subscription mirror insert, got %+v", got)
	}
	audits := records.writesTo("audit_logs")
	if len(audits) != 1 || audits[0].Body["action"] != "subscription_created" {
		t.Errorf("expected audit entry, got %+v", audits)
	}
}

func TestWebhook_StripeAliasRoute(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	body := []byte(`{
		"id": "evt_int_alias",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_int_1", "customer": "cus_1"}}
	}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequestTo("/v1/webhooks/stripe", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on the alias route, got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"received":true}` {
		t.Errorf("unexpected ack body: %s", rec.Body.String())
	}
	if got := records.writesTo("tenants"); len(got) != 1 {
		t.Errorf("alias route must reach the reconciler, tenant writes: %+v", got)
	}
}

func TestWebhook_SubscriptionDeletedDowngrades(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	body := []byte(`{
		"id": "evt_int_2",
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_int_1", "customer": "cus_1"}}
	}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedWebhookRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	tenantWrites := records.writesTo("tenants")
	if len(tenantWrites) != 1 {
		t.Fatalf("expected 1 tenant write, got %d", len(tenantWrites))
	}
	patch := tenantWrites[0]
	if !strings.Contains(patch.Query, "stripe_customer_id=eq.cus_1") {
		t.Errorf("expected customer-keyed patch, got query %q", patch.Query)
	}
	if patch.Body["plan"] != "basic" || patch.Body["subscription_status"] != "canceled" {
		t.Errorf("unexpected downgrade body: %v", patch.Body)
	}
}

func TestWebhook_BadSignatureWritesNothing(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	body := []byte(`{"id":"evt_int_3","type":"customer.subscription.deleted","data":{"object":{"id":"sub_1","customer":"cus_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(body))
	req.Header.Set(external.SignatureHeader, "t=1,v1=deadbeef")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"Invalid signature"}` {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
	for _, table := range []string{"tenants", "subscriptions", "audit_logs"} {
		if got := records.writesTo(table); len(got) != 0 {
			t.Errorf("unverified delivery must not write to %s: %+v", table, got)
		}
	}
}

func TestWebhook_StaleTimestampRejected(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	body := []byte(`{"id":"evt_int_4","type":"invoice.paid","data":{"object":{}}}`)
	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	sig := external.ComputeSignature(webhookSecret, ts, body)

	req := httptest.NewRequest(http.MethodPost, "/v1/billing/webhook", bytes.NewReader(body))
	req.Header.Set(external.SignatureHeader, fmt.Sprintf("t=%s,v1=%s", ts, sig))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for stale timestamp, got %d", rec.Code)
	}
}

func TestCheckoutEndpoint_FullStack(t *testing.T) {
	stripeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected Stripe path: %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("customer") != "cus_1" {
			t.Errorf("expected customer resolved from store, got %q", r.PostForm.Get("customer"))
		}
		_, _ = w.Write([]byte(`{"id":"cs_int","url":"https://checkout.stripe.test/cs_int"}`))
	}))
	defer stripeServer.Close()

	records := newFakeRecordStore()
	handler := newAPIStack(t, records, stripeServer.URL)

	body := `{"tenantId":"ten_1","planId":"pro","successUrl":"https://app.test/ok","cancelUrl":"https://app.test/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL       string `json:"url"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.URL != "https://checkout.stripe.test/cs_int" || resp.SessionID != "cs_int" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthEndpoint_FullStack(t *testing.T) {
	records := newFakeRecordStore()
	handler := newAPIStack(t, records, "http://stripe.invalid")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status     string                       `json:"status"`
		Components map[string]map[string]string `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if resp.Status != "healthy" || resp.Components["store"]["status"] != "healthy" {
		t.Errorf("unexpected health response: %s", rec.Body.String())
	}
}
