package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"settlement-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("secret not found")
	}
	return v, nil
}

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_USER", "settle")
	t.Setenv("POSTGRES_PASSWORD", "env-pass")
	t.Setenv("POSTGRES_DB", "settlement")
	t.Setenv("JWT_SECRET", "env-jwt")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.PollWindow)
	assert.Equal(t, 3, cfg.ConversionMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.ConversionDeliveryTimeout)
	assert.Equal(t, 10*time.Minute, cfg.ConversionReplayAfter)
	assert.InDelta(t, 0.1, cfg.PlatformFeeRate, 1e-9)
	assert.Contains(t, cfg.PostgresDSN(), "dbname=settlement")
}

func TestFromEnv_ParsesOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_WINDOW", "6h")
	t.Setenv("PLATFORM_FEE_RATE", "0.099")
	t.Setenv("CONVERSION_ALLOWED_ORIGINS", "https://shop.example/, https://pay.example")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, cfg.PollWindow)
	assert.InDelta(t, 0.099, cfg.PlatformFeeRate, 1e-9)
	assert.Equal(t, []string{"https://shop.example", "https://pay.example"}, cfg.ConversionOrigins)
}

func TestFromEnv_RejectsInvalidValues(t *testing.T) {
	setRequired(t)
	t.Setenv("POLL_WINDOW", "two days")
	_, err := config.FromEnv()
	assert.Error(t, err)

	t.Setenv("POLL_WINDOW", "")
	t.Setenv("PLATFORM_FEE_RATE", "1.5")
	_, err = config.FromEnv()
	assert.Error(t, err)
}

func TestValidate_ListsMissing(t *testing.T) {
	err := (&config.Config{PostgresUser: "u"}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_PASSWORD")
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.NotContains(t, err.Error(), "POSTGRES_USER")
}

func TestApplySecrets_OverridesOnlyFoundValues(t *testing.T) {
	setRequired(t)
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	config.ApplySecrets(context.Background(), cfg, mapSecrets{
		"settlement/JWT_SECRET":            "sm-jwt",
		"settlement/STRIPE_WEBHOOK_SECRET": "whsec_sm",
	})

	assert.Equal(t, "sm-jwt", cfg.JWTSecret)
	assert.Equal(t, "whsec_sm", cfg.StripeWebhookSecret)
	assert.Equal(t, "env-pass", cfg.PostgresPassword)
}
