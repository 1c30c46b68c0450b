package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"
)

// Order store backends.
const (
	OrderStorePostgres = "postgres"
	OrderStoreMemory   = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	OrderStore         string
	MigrateOnStart     bool
	CORSAllowedOrigins []string

	PublicBaseURL string
	SiteURL       string
	SiteLanguage  string

	Kashier Kashier

	WebhookReplayTTL       time.Duration
	WebhookBodyLimitBytes  int64
	WebhookRateLimitMax    int
	WebhookRateLimitWindow time.Duration
	CheckoutRateLimit      string
	IdempotencyTTL         time.Duration

	OrderAPIToken     string
	OrderAPITokenHash string

	QueueRedisPrefix     string
	QueueMaxAttempts     int
	QueueConcurrency     int
	EnrollmentHookURL    string
	EnrollmentHookSecret string
	OutboundTimeout      time.Duration
	RetryBase            time.Duration
	RetryMaxAttempts     int
	LockTTL              time.Duration

	Obs Obs
}

// Kashier carries the processor credentials and hosted page options.
type Kashier struct {
	Environment     string
	MerchantID      string
	TestAPIKey      string
	LiveAPIKey      string
	TestSecretKey   string
	LiveSecretKey   string
	PaymentBaseURL  string
	PlatformTag     string
	DefaultCurrency string
}

// Obs controls logging, metrics and tracing.
type Obs struct {
	LogFormat         string
	LogLevel          string
	MetricsNamespace  string
	MetricsEnabled    bool
	MetricsBuckets    string
	TracingEnabled    bool
	TracingExporter   string
	OTLPEndpoint      string
	SamplingRatio     float64
	ReadyDBTimeout    time.Duration
	ReadyRedisTimeout time.Duration
	PprofEnabled      bool
	PprofUser         string
	PprofPass         string
	SecurityHeaders   bool
	HSTSEnabled       bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		OrderStore:         strings.ToLower(valueOrDefault(k.String("ORDER_STORE"), OrderStorePostgres)),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), true),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PublicBaseURL: strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"), "/"),
		SiteURL:       valueOrDefault(k.String("SITE_URL"), "http://localhost:3000"),
		SiteLanguage:  valueOrDefault(k.String("SITE_LANGUAGE"), "en_US"),

		Kashier: Kashier{
			Environment:     strings.ToLower(valueOrDefault(k.String("KASHIER_ENVIRONMENT"), "test")),
			MerchantID:      strings.TrimSpace(k.String("KASHIER_MERCHANT_ID")),
			TestAPIKey:      strings.TrimSpace(k.String("KASHIER_TEST_API_KEY")),
			LiveAPIKey:      strings.TrimSpace(k.String("KASHIER_API_KEY")),
			TestSecretKey:   strings.TrimSpace(k.String("KASHIER_TEST_SECRET_KEY")),
			LiveSecretKey:   strings.TrimSpace(k.String("KASHIER_SECRET_KEY")),
			PaymentBaseURL:  valueOrDefault(k.String("KASHIER_PAYMENT_BASE_URL"), "https://payments.kashier.io"),
			PlatformTag:     valueOrDefault(k.String("KASHIER_PLATFORM_TAG"), "kashier-bridge"),
			DefaultCurrency: strings.ToUpper(valueOrDefault(k.String("KASHIER_DEFAULT_CURRENCY"), "EGP")),
		},

		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookBodyLimitBytes:  int64(parseInt(k.String("WEBHOOK_BODY_LIMIT_BYTES"), 64<<10)),
		WebhookRateLimitMax:    parseInt(k.String("WEBHOOK_RATE_LIMIT_MAX"), 120),
		WebhookRateLimitWindow: parseDuration(k.String("WEBHOOK_RATE_LIMIT_WINDOW"), "1m"),
		CheckoutRateLimit:      valueOrDefault(k.String("CHECKOUT_RATE_LIMIT"), "60-M"),
		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		OrderAPIToken:     strings.TrimSpace(k.String("ORDER_API_TOKEN")),
		OrderAPITokenHash: strings.TrimSpace(k.String("ORDER_API_TOKEN_HASH")),

		QueueRedisPrefix:     valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "kashier"),
		QueueMaxAttempts:     parseInt(k.String("QUEUE_MAX_ATTEMPTS"), 8),
		QueueConcurrency:     parseInt(k.String("QUEUE_CONCURRENCY"), 4),
		EnrollmentHookURL:    strings.TrimSpace(k.String("ENROLLMENT_HOOK_URL")),
		EnrollmentHookSecret: strings.TrimSpace(k.String("ENROLLMENT_HOOK_SECRET")),
		OutboundTimeout:      parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		RetryBase:            parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:     parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		LockTTL:              parseDuration(k.String("LOCK_TTL"), "30s"),

		Obs: Obs{
			LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "kashier"),
			MetricsEnabled:    parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			MetricsBuckets:    k.String("OBS_METRICS_BUCKETS_MS"),
			TracingEnabled:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:   valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:      strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:     parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
			ReadyDBTimeout:    parseDuration(k.String("HEALTH_READY_DB_TIMEOUT"), "500ms"),
			ReadyRedisTimeout: parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
			PprofEnabled:      parseBool(k.String("OBS_ENABLE_PPROF"), false),
			PprofUser:         strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
			PprofPass:         strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
			SecurityHeaders:   parseBool(k.String("SECURITY_HEADERS_ENABLED"), true),
			HSTSEnabled:       parseBool(k.String("SECURITY_HSTS_ENABLED"), false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.OrderStore {
	case OrderStorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when ORDER_STORE=postgres"))
		}
	case OrderStoreMemory:
	default:
		errs = append(errs, fmt.Errorf("ORDER_STORE must be %q or %q", OrderStorePostgres, OrderStoreMemory))
	}
	if _, err := url.ParseRequestURI(c.PublicBaseURL); err != nil {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL: %w", err))
	}
	if _, err := url.ParseRequestURI(c.SiteURL); err != nil {
		errs = append(errs, fmt.Errorf("SITE_URL: %w", err))
	}
	if c.EnrollmentHookURL != "" {
		if _, err := url.ParseRequestURI(c.EnrollmentHookURL); err != nil {
			errs = append(errs, fmt.Errorf("ENROLLMENT_HOOK_URL: %w", err))
		}
	}
	if c.Obs.PprofEnabled && (c.Obs.PprofUser == "" || c.Obs.PprofPass == "") {
		errs = append(errs, errors.New("OBS_ENABLE_PPROF requires SECURE_PPROF_BASIC_AUTH_USER and SECURE_PPROF_BASIC_AUTH_PASS"))
	}
	if c.WebhookBodyLimitBytes <= 0 {
		errs = append(errs, errors.New("WEBHOOK_BODY_LIMIT_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

// OrderAPIEnabled reports whether the order intake endpoints should be mounted.
func (c *Config) OrderAPIEnabled() bool {
	return c.OrderAPIToken != "" || c.OrderAPITokenHash != ""
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(valueOrDefault(value, fallback))
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := cast.ToIntE(strings.TrimSpace(value))
	if err != nil || strings.TrimSpace(value) == "" {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := cast.ToFloat64E(strings.TrimSpace(value))
	if err != nil || strings.TrimSpace(value) == "" {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests applies env overrides, loads, then restores the previous values.
// An empty value unsets the variable for the duration of the load.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key, value := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, value); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []error
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %w", errors.Join(errs...))
	}
	return nil
}
