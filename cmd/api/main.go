// Package main is the entry point for the ClinicBill billing API server.
//
// It loads configuration, wires the record store client, the Stripe client,
// the webhook reconciler and the HTTP handlers, and serves them with the core
// chassis (middleware, routing, health checks).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicbill/internal/api/handlers"
	"clinicbill/internal/billing"
	"clinicbill/internal/config"
	"clinicbill/internal/core"
	"clinicbill/internal/external"
	"clinicbill/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("clinicbill API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	// Record store client and repositories. NewClient fails fast on missing
	// URL or key; nothing in this service works without the store.
	storeClient, err := store.NewClient(
		&http.Client{Timeout: cfg.Store.Timeout},
		store.Config{
			URL:        cfg.Store.URL,
			ServiceKey: cfg.Store.ServiceKey,
			Logger:     logger,
		},
	)
	if err != nil {
		return fmt.Errorf("creating record store client: %w", err)
	}

	tenantRepo := store.NewTenantRepo(storeClient, logger)
	subRepo := store.NewSubscriptionRepo(storeClient)
	auditRepo := store.NewAuditRepo(storeClient)

	// Webhook reconciliation core.
	plans := billing.NewPlanResolver(
		cfg.Billing.PriceBasic,
		cfg.Billing.PricePro,
		cfg.Billing.PriceEnterprise,
	)
	reconciler := billing.NewReconciler(tenantRepo, subRepo, auditRepo, plans, logger)

	// Stripe client for the dashboard-facing checkout and portal endpoints.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 20 * time.Second},
		tenantRepo,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
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
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, store.NewProbe(storeClient))
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		webhookHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}

// Compile-time assertions that the concrete wiring satisfies the handler and
// reconciler contracts.
var (
	_ handlers.EventProcessor      = (*billing.Reconciler)(nil)
	_ handlers.CheckoutService     = (*external.StripeClient)(nil)
	_ billing.TenantWriter         = (*store.TenantRepo)(nil)
	_ billing.SubscriptionWriter   = (*store.SubscriptionRepo)(nil)
	_ billing.AuditWriter          = (*store.AuditRepo)(nil)
	_ external.TenantBillingLookup = (*store.TenantRepo)(nil)
	_ core.HealthProbe             = (*store.Probe)(nil)
)
