package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv sets the minimum environment for a successful load.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("STORE_URL", "https://records.clinic.test")
	t.Setenv("STORE_SERVICE_KEY", "service-key-1")
}

func TestLoadConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "https://records.clinic.test", cfg.Store.URL)
	assert.Equal(t, "service-key-1", cfg.Store.ServiceKey.Unmask())

	// Defaults.
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.Security.CorsAllowedOrigins)
	assert.NotEmpty(t, cfg.Build.Version, "build info should be populated")
}

func TestLoadConfig_WebhookSecretIsOptional(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Billing.StripeWebhookSecret.Unmask())
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("STORE_URL", "https://records.clinic.test")
	t.Setenv("STORE_SERVICE_KEY", "service-key-1")

	_, err := LoadConfig()
	require.Error(t, err, "missing APP_ENV must fail validation")

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ErrValidation, cfgErr.Type)
}

func TestLoadConfig_RejectsUnknownEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production-ish")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_ParsesStoreTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORE_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Store.Timeout)
}
