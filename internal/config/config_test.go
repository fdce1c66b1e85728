package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/dinnerhelp-backend/internal/policy"
)

var requiredEnv = map[string]string{
	"DATABASE_URL":          "postgres://localhost/dinnerhelp?sslmode=disable",
	"STRIPE_SECRET_KEY":     "sk_test_123",
	"STRIPE_WEBHOOK_SECRET": "whsec_abc",
	"JWT_SECRET":            "jwt-secret",
	"POSTMARK_SERVER_TOKEN": "pm-token",
	"ONESIGNAL_APP_ID":      "app-id",
	"ONESIGNAL_API_KEY":     "os-key",
}

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "development", c.Env)
	assert.Equal(t, 15*time.Second, c.StripeTimeout)
	assert.Equal(t, 3, c.StripeMaxAttempts)
	assert.Equal(t, time.Minute, c.NotificationQueueInterval)
	assert.Equal(t, 10*time.Minute, c.PaymentActionsInterval)
	assert.True(t, c.SweepsEnabled)
	assert.Empty(t, c.KafkaBrokers)
	assert.Equal(t, "Europe/Copenhagen", c.Location().String())
	assert.True(t, c.FeeRates().Commission.Equal(decimal.RequireFromString("0.15")))
	assert.False(t, c.IsProduction())

	booking, payment, err := c.RefundPolicies()
	require.NoError(t, err)
	assert.Equal(t, policy.NameLeadTime, booking.Name())
	assert.Equal(t, policy.NameTiered, payment.Name())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("PAYMENT_ACTIONS_INTERVAL", "30s")
	t.Setenv("SWEEPS_ENABLED", "false")
	t.Setenv("REFUND_POLICY_OVERRIDE", "tiered")
	t.Setenv("COMMISSION_RATE", "0.2")
	t.Setenv("EMAIL_FROM_NAME", "")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.KafkaBrokers)
	assert.Equal(t, 30*time.Second, c.PaymentActionsInterval)
	assert.False(t, c.SweepsEnabled)
	assert.True(t, c.FeeRates().Commission.Equal(decimal.RequireFromString("0.2")))
	// An empty variable keeps the default.
	assert.Equal(t, "DinnerHelp", c.EmailFromName)

	booking, payment, err := c.RefundPolicies()
	require.NoError(t, err)
	assert.Equal(t, policy.NameTiered, booking.Name())
	assert.Equal(t, policy.NameTiered, payment.Name())
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required env var: STRIPE_WEBHOOK_SECRET")
	assert.Contains(t, err.Error(), "missing required env var: JWT_SECRET")
}

func TestLoadInvalid(t *testing.T) {
	cases := map[string]struct {
		key, value, want string
	}{
		"webhook secret":  {"STRIPE_WEBHOOK_SECRET", "not-a-secret", "STRIPE_WEBHOOK_SECRET must be"},
		"policy override": {"REFUND_POLICY_OVERRIDE", "generous", "invalid REFUND_POLICY_OVERRIDE"},
		"timezone":        {"TIMEZONE", "Mars/Olympus", "invalid TIMEZONE"},
		"rate":            {"VAT_RATE", "1.5", "invalid VAT_RATE"},
		"env":             {"ENV", "prod", "invalid ENV"},
		"broker":          {"KAFKA_BROKERS", "no-port", "invalid KAFKA_BROKERS"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadRejectsTestKeyInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test key in production")
}
