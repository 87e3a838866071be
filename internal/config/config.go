package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	// Wompi webhook verification.
	WompiEnvironment      string // "test" or "prod"
	WompiEventsSecretTest string
	WompiEventsSecretProd string
	WompiIntegritySecret  string
	WompiPublicKey        string
	WompiCheckoutBaseURL  string
	EventMaxAge           time.Duration
	ProcessableEvents     []string

	// Ledger (GraphQL persistence collaborator).
	LedgerEndpoint string
	LedgerToken    string
	LedgerTimeout  time.Duration

	// Retry policy surfaced to the storefront.
	MaxPaymentAttempts int
	PaymentMethods     []string
	CurrencyCode       string

	// Redis-backed replay guard and rate limiting.
	RedisURL         string
	WebhookReplayTTL time.Duration
	IdempotencyTTL   time.Duration
	PublicRateLimit  string

	// Side-effect collaborators.
	FulfillmentURL       string
	FulfillmentTimeout   time.Duration
	NotifyEmailEnabled   bool
	NotifyEmailFrom      string
	NotifyQueueEnabled   bool
	NotifyQueueName      string
	NotifyMaxRetry       int
	OutboundTimeout      time.Duration
	CircuitMinRequests   int
	CircuitFailureRatio  float64
	CircuitOpenFor       time.Duration
	RetryBaseBackoff     time.Duration
	RetryMaxAttempts     int
	RetryJitterPercent   float64
	CORSAllowedOrigins   []string
	WebhookBodyLimit     int64
	WebhookHandleTimeout time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                  valueOrDefault(k.String("PORT"), "8080"),
		WompiEnvironment:      strings.ToLower(valueOrDefault(k.String("WOMPI_ENVIRONMENT"), "test")),
		WompiEventsSecretTest: k.String("WOMPI_EVENTS_SECRET_TEST"),
		WompiEventsSecretProd: k.String("WOMPI_EVENTS_SECRET_PROD"),
		WompiIntegritySecret:  k.String("WOMPI_INTEGRITY_SECRET"),
		WompiPublicKey:        k.String("WOMPI_PUBLIC_KEY"),
		WompiCheckoutBaseURL:  valueOrDefault(k.String("WOMPI_CHECKOUT_BASE_URL"), "https://checkout.wompi.co/p/"),
		EventMaxAge:           parseDuration(k.String("WOMPI_EVENT_MAX_AGE"), "60m"),
		ProcessableEvents:     splitAndTrim(valueOrDefault(k.String("WOMPI_PROCESSABLE_EVENTS"), "transaction.updated,nequi_token.updated,bancolombia_transfer_token.updated")),
		LedgerEndpoint:        k.String("LEDGER_GRAPHQL_ENDPOINT"),
		LedgerToken:           k.String("LEDGER_GRAPHQL_TOKEN"),
		LedgerTimeout:         parseDuration(k.String("LEDGER_TIMEOUT"), "3s"),
		MaxPaymentAttempts:    parseInt(k.String("PAYMENT_MAX_ATTEMPTS"), 3),
		PaymentMethods:        splitAndTrim(valueOrDefault(k.String("PAYMENT_METHODS"), "CARD,PSE,NEQUI")),
		CurrencyCode:          valueOrDefault(k.String("CURRENCY_CODE"), "COP"),
		RedisURL:              k.String("REDIS_URL"),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		IdempotencyTTL:        parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		PublicRateLimit:       valueOrDefault(k.String("PUBLIC_RATE_LIMIT"), "60-M"),
		FulfillmentURL:        k.String("FULFILLMENT_URL"),
		FulfillmentTimeout:    parseDuration(k.String("FULFILLMENT_TIMEOUT"), "5s"),
		NotifyEmailEnabled:    parseBool(valueOrDefault(k.String("NOTIFY_EMAIL_ENABLED"), "true")),
		NotifyEmailFrom:       valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "pagos@store-chismo.co"),
		NotifyQueueEnabled:    parseBool(valueOrDefault(k.String("NOTIFY_QUEUE_ENABLED"), "true")),
		NotifyQueueName:       valueOrDefault(k.String("NOTIFY_QUEUE_NAME"), "notifications"),
		NotifyMaxRetry:        parseInt(k.String("NOTIFY_MAX_RETRY"), 5),
		OutboundTimeout:       parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		CircuitMinRequests:    parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 10),
		CircuitFailureRatio:   parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:        parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		RetryBaseBackoff:      parseDuration(k.String("RETRY_BASE_BACKOFF"), "200ms"),
		RetryMaxAttempts:      parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:    parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CORSAllowedOrigins:    splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		WebhookBodyLimit:      int64(parseInt(k.String("WEBHOOK_BODY_LIMIT"), 1<<20)),
		WebhookHandleTimeout:  parseDuration(k.String("WEBHOOK_HANDLE_TIMEOUT"), "5s"),
	}

	if cfg.WompiEnvironment != "test" && cfg.WompiEnvironment != "prod" {
		return nil, fmt.Errorf("WOMPI_ENVIRONMENT must be test or prod, got %q", cfg.WompiEnvironment)
	}
	if cfg.EventsSecret() == "" {
		return nil, errors.New("events secret for the active environment is required")
	}
	if cfg.LedgerEndpoint == "" {
		return nil, errors.New("LEDGER_GRAPHQL_ENDPOINT is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.MaxPaymentAttempts <= 0 {
		cfg.MaxPaymentAttempts = 3
	}

	return cfg, nil
}

// EventsSecret returns the shared secret for the configured Wompi environment.
// Test and production secrets are never interchangeable.
func (c *Config) EventsSecret() string {
	if c.WompiEnvironment == "prod" {
		return c.WompiEventsSecretProd
	}
	return c.WompiEventsSecretTest
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
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
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

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
