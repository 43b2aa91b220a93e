package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultFeePercent, cfg.PlatformFeePercent)
	assert.Equal(t, DefaultPayoutHoldDays, cfg.PayoutHoldDays)
	assert.Equal(t, DefaultReservationTTL, cfg.ReservationTTL)
	assert.True(t, cfg.EnableLiabilityShift)
	assert.NotEmpty(t, cfg.WebhookIPAllowlist)
}

func TestLoad_MissingStripeKey(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
}

func TestLoad_MissingWebhookSecret(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("PLATFORM_FEE_PERCENT", "0.15")
	t.Setenv("RESERVATION_TTL", "10m")
	t.Setenv("WEBHOOK_IP_ALLOWLIST", "1.2.3.4, 5.6.7.8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.15, cfg.PlatformFeePercent)
	assert.Equal(t, 10*time.Minute, cfg.ReservationTTL)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, cfg.WebhookIPAllowlist)
}

func TestValidate_RejectsBadFee(t *testing.T) {
	cfg := &Config{
		StripeSecretKey:     "sk",
		StripeWebhookSecret: "whsec",
		PlatformFeePercent:  1.5,
		Currency:            DefaultCurrency,
		ReservationTTL:      time.Minute,
	}
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnsupportedCurrency(t *testing.T) {
	cfg := &Config{
		StripeSecretKey:     "sk",
		StripeWebhookSecret: "whsec",
		PlatformFeePercent:  0.1,
		Currency:            "EUR",
		ReservationTTL:      time.Minute,
	}
	assert.Error(t, cfg.Validate())
}
