// Package config loads and validates all environment variables at startup.
// Every other package receives typed values; nothing else reads the environment.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/shopspring/decimal"

	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

// Config is the fully-parsed application configuration. Field tags name the
// environment variable in lower case.
type Config struct {
	// ── Server ────────────────────────────────────────────────────────────────
	Port            string        `koanf:"port" validate:"required"`
	Env             string        `koanf:"env" validate:"oneof=development staging production"`
	LogLevel        string        `koanf:"log_level" validate:"oneof=debug info warn error"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Timezone        string        `koanf:"timezone" validate:"required"`

	// ── Database ──────────────────────────────────────────────────────────────
	DatabaseURL       string        `koanf:"database_url" validate:"required"`
	DBMaxOpenConns    int           `koanf:"db_max_open_conns" validate:"gt=0"`
	DBMaxIdleConns    int           `koanf:"db_max_idle_conns" validate:"gte=0"`
	DBConnMaxLifetime time.Duration `koanf:"db_conn_max_lifetime"`

	// ── Stripe ────────────────────────────────────────────────────────────────
	StripeSecretKey     string        `koanf:"stripe_secret_key" validate:"required"`
	StripeWebhookSecret string        `koanf:"stripe_webhook_secret" validate:"required"`
	StripeTimeout       time.Duration `koanf:"stripe_timeout" validate:"gt=0"`
	StripeMaxAttempts   int           `koanf:"stripe_max_attempts" validate:"gte=1,lte=5"`
	Currency            string        `koanf:"currency" validate:"len=3"`

	// ── Auth ──────────────────────────────────────────────────────────────────
	JWTSecret string `koanf:"jwt_secret" validate:"required"`

	// ── Email ─────────────────────────────────────────────────────────────────
	PostmarkServerToken string `koanf:"postmark_server_token" validate:"required"`
	// SendGridAPIKey is optional. When set, SendGrid takes over whenever a
	// Postmark send fails.
	SendGridAPIKey string `koanf:"sendgrid_api_key"`
	EmailFromAddr  string `koanf:"email_from_addr" validate:"required,email"`
	EmailFromName  string `koanf:"email_from_name"`

	// ── Push ──────────────────────────────────────────────────────────────────
	OneSignalAppID  string `koanf:"onesignal_app_id" validate:"required"`
	OneSignalAPIKey string `koanf:"onesignal_api_key" validate:"required"`

	// ── Optional integrations ─────────────────────────────────────────────────
	RedisURL     string   `koanf:"redis_url" validate:"omitempty,url"`
	KafkaBrokers []string `koanf:"kafka_brokers" validate:"dive,hostname_port"`
	KafkaTopic   string   `koanf:"kafka_topic"`
	OTLPEndpoint string   `koanf:"otel_exporter_otlp_endpoint"`
	OTLPInsecure bool     `koanf:"otel_exporter_otlp_insecure"`
	ServiceName  string   `koanf:"otel_service_name"`

	// ── Payments ──────────────────────────────────────────────────────────────
	// RefundPolicyOverride replaces both refund policies when set.
	RefundPolicyOverride string `koanf:"refund_policy_override" validate:"omitempty,oneof=lead_time tiered"`
	VATRate              string `koanf:"vat_rate" validate:"numeric"`
	CommissionRate       string `koanf:"commission_rate" validate:"numeric"`
	ServiceFeeRate       string `koanf:"service_fee_rate" validate:"numeric"`

	// ── Worker ────────────────────────────────────────────────────────────────
	SweepsEnabled              bool          `koanf:"sweeps_enabled"`
	SweepTimeout               time.Duration `koanf:"sweep_timeout" validate:"gt=0"`
	NotificationQueueInterval  time.Duration `koanf:"notification_queue_interval"`
	ReservationCleanupInterval time.Duration `koanf:"reservation_cleanup_interval"`
	PaymentActionsInterval     time.Duration `koanf:"payment_actions_interval"`

	location *time.Location
	feeRates policy.FeeRates
}

func defaults() map[string]any {
	return map[string]any{
		"port":             "8080",
		"env":              "development",
		"log_level":        "info",
		"request_timeout":  "30s",
		"shutdown_timeout": "15s",
		"timezone":         "Europe/Copenhagen",

		"db_max_open_conns":    25,
		"db_max_idle_conns":    5,
		"db_conn_max_lifetime": "5m",

		"stripe_timeout":      "15s",
		"stripe_max_attempts": 3,
		"currency":            "dkk",

		"email_from_addr": "noreply@dinnerhelp.dk",
		"email_from_name": "DinnerHelp",

		"kafka_topic":       "dinnerhelp.payments",
		"otel_service_name": "dinnerhelp-backend",

		"vat_rate":         "0.25",
		"commission_rate":  "0.15",
		"service_fee_rate": "0",

		"sweeps_enabled":               true,
		"sweep_timeout":                "2m",
		"notification_queue_interval":  "1m",
		"reservation_cleanup_interval": "5m",
		"payment_actions_interval":     "10m",
	}
}

// Load reads all environment variables and returns a validated Config.
// It loads a .env file from the working directory when present, so plain
// `go run ./cmd/api` works in development without any wrapper. Real
// environment variables always take precedence over .env values.
func Load() (*Config, error) {
	_ = godotenv.Load(".env") // absent file is fine

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return c, c.validate()
}

// envValue maps an environment variable onto its koanf key. Empty variables
// are skipped so they do not blank out a default.
func envValue(key, value string) (string, any) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	key = strings.ToLower(key)
	if key == "kafka_brokers" {
		var brokers []string
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		return key, brokers
	}
	return key, value
}

func (c *Config) validate() error {
	var errs []error

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.ToUpper(f.Tag.Get("koanf"))
	})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			name := strings.SplitN(fe.Field(), "[", 2)[0]
			if fe.Tag() == "required" {
				errs = append(errs, fmt.Errorf("missing required env var: %s", name))
				continue
			}
			errs = append(errs, fmt.Errorf("invalid %s: failed %q", name, fe.Tag()))
		}
	}

	if c.StripeWebhookSecret != "" && !strings.HasPrefix(c.StripeWebhookSecret, "whsec_") {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET must be a webhook signing secret (whsec_...)"))
	}
	if c.Env == "production" && strings.HasPrefix(c.StripeSecretKey, "sk_test_") {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY is a test key in production"))
	}

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
		}
		c.location = loc
	}

	if rates, err := c.parseFeeRates(); err != nil {
		errs = append(errs, err)
	} else {
		c.feeRates = rates
	}

	return errors.Join(errs...)
}

func (c *Config) parseFeeRates() (policy.FeeRates, error) {
	var rates policy.FeeRates
	for _, r := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"VAT_RATE", c.VATRate, &rates.VAT},
		{"COMMISSION_RATE", c.CommissionRate, &rates.Commission},
		{"SERVICE_FEE_RATE", c.ServiceFeeRate, &rates.ServiceFee},
	} {
		d, err := decimal.NewFromString(r.raw)
		if err != nil {
			return policy.FeeRates{}, fmt.Errorf("invalid %s: %w", r.name, err)
		}
		if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return policy.FeeRates{}, fmt.Errorf("invalid %s: %s is outside [0, 1)", r.name, r.raw)
		}
		*r.dst = d
	}
	return rates, nil
}

// Location is the timezone booking dates and times are interpreted in.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// FeeRates are the marketplace rates parsed from the *_RATE variables.
func (c *Config) FeeRates() policy.FeeRates { return c.feeRates }

// RefundPolicies returns the booking and payment refund policies, applying
// REFUND_POLICY_OVERRIDE to both when set.
func (c *Config) RefundPolicies() (booking, payment policy.Policy, err error) {
	if c.RefundPolicyOverride == "" {
		return policy.LeadTime{}, policy.Tiered{}, nil
	}
	p, err := policy.ByName(c.RefundPolicyOverride)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return p, p, nil
}

// IsProduction reports whether ENV=production.
func (c *Config) IsProduction() bool { return c.Env == "production" }
