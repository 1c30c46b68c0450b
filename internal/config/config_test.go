package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kashier-bridge/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"ORDER_STORE":          "memory",
		"DATABASE_URL":         "",
		"PUBLIC_BASE_URL":      "https://shop.example.com/",
		"SITE_URL":             "https://shop.example.com",
		"KASHIER_ENVIRONMENT":  "",
		"KASHIER_MERCHANT_ID":  "MID-123-45",
		"KASHIER_TEST_API_KEY": "test-api-key",
		"WEBHOOK_REPLAY_TTL":   "",
		"QUEUE_MAX_ATTEMPTS":   "",
		"ENROLLMENT_HOOK_URL":  "",
		"OBS_ENABLE_PPROF":     "",
		"ORDER_API_TOKEN":      "",
		"ORDER_API_TOKEN_HASH": "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, config.OrderStoreMemory, cfg.OrderStore)
	require.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
	require.Equal(t, "test", cfg.Kashier.Environment)
	require.Equal(t, "MID-123-45", cfg.Kashier.MerchantID)
	require.Equal(t, "EGP", cfg.Kashier.DefaultCurrency)
	require.Equal(t, "https://payments.kashier.io", cfg.Kashier.PaymentBaseURL)
	require.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
	require.Equal(t, 8, cfg.QueueMaxAttempts)
	require.Equal(t, ":8080", cfg.HTTPAddr())
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["KASHIER_ENVIRONMENT"] = "LIVE"
	env["WEBHOOK_REPLAY_TTL"] = "10m"
	env["QUEUE_MAX_ATTEMPTS"] = "3"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example.com, ,https://b.example.com"
	env["PORT"] = ":9090"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "live", cfg.Kashier.Environment)
	require.Equal(t, 10*time.Minute, cfg.WebhookReplayTTL)
	require.Equal(t, 3, cfg.QueueMaxAttempts)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	env := baseEnv()
	env["WEBHOOK_REPLAY_TTL"] = "soon"
	env["QUEUE_MAX_ATTEMPTS"] = "many"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, cfg.WebhookReplayTTL)
	require.Equal(t, 8, cfg.QueueMaxAttempts)
}

func TestLoadRequiresDatabaseForPostgresStore(t *testing.T) {
	env := baseEnv()
	env["ORDER_STORE"] = "postgres"

	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	env := baseEnv()
	env["ORDER_STORE"] = "mongo"

	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "ORDER_STORE")
}

func TestLoadRejectsInvalidHookURL(t *testing.T) {
	env := baseEnv()
	env["ENROLLMENT_HOOK_URL"] = "not a url"

	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "ENROLLMENT_HOOK_URL")
}

func TestLoadPprofRequiresCredentials(t *testing.T) {
	env := baseEnv()
	env["OBS_ENABLE_PPROF"] = "true"

	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "SECURE_PPROF_BASIC_AUTH_USER")
}

func TestOrderAPIEnabled(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.False(t, cfg.OrderAPIEnabled())
	require.Equal(t, "60-M", cfg.CheckoutRateLimit)

	env := baseEnv()
	env["ORDER_API_TOKEN"] = "s3cret"
	cfg, err = config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.OrderAPIEnabled())
}
