// Package config defines the global configuration structure for the ClinicBill
// billing service. Configuration is loaded once at process initialization and
// is immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast). The one deliberate exception is the
// webhook signing secret: it is optional at load time so the webhook handler
// can answer "Webhook not configured" at request time instead of preventing
// the whole API from booting.
package config

import (
	"time"

	"clinicbill/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the billing service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"clinicbill-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Store    StoreConfig
	Billing  BillingConfig
	Security SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// StoreConfig holds the external record-store endpoint and credentials.
// The store is a PostgREST-style REST interface over the tenant database;
// both the URL and the service key are required for any request at all.
type StoreConfig struct {
	URL        string        `envconfig:"STORE_URL" validate:"required,url"`
	ServiceKey SecretString  `envconfig:"STORE_SERVICE_KEY" validate:"required"`
	Timeout    time.Duration `envconfig:"STORE_TIMEOUT" default:"10s"`
}

// BillingConfig holds Stripe integration credentials and the price-to-plan
// mapping used to interpret subscription events.
//
// StripeWebhookSecret is intentionally not validated as required: the webhook
// endpoint reports the missing secret per request (HTTP 500, logged
// server-side) rather than blocking startup of the other endpoints.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`

	// Price identifiers for the three paid tiers, as configured in Stripe.
	PriceBasic      string `envconfig:"STRIPE_PRICE_BASIC"`
	PricePro        string `envconfig:"STRIPE_PRICE_PRO"`
	PriceEnterprise string `envconfig:"STRIPE_PRICE_ENTERPRISE"`
}

// SecurityConfig holds CORS settings for the browser-facing endpoints.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
