package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("DB_DSN", "user:pass@tcp(localhost:3306)/bot?parseTime=true")
	t.Setenv("REPLICATE_API_TOKEN", "r8_token")
	t.Setenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN", "pay-token")
	t.Setenv("ADMIN_PASSWORD", "s3cret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, "memory", cfg.SessionStore)
	assert.Equal(t, 1, cfg.FreeGenerationsOnStart)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.PollTimeout)
	assert.Equal(t, "RUB", cfg.PaymentCurrency)
	require.Len(t, cfg.TopUpAmounts, 4)
	assert.Equal(t, "100", cfg.TopUpAmounts[0].String())
	assert.Equal(t, "https://api.kie.ai", cfg.KIEBaseURL)
	assert.False(t, cfg.S3Enabled())
}

func TestLoadAggregatesMissing(t *testing.T) {
	t.Setenv("CONFIG_ENV_PATH", "")
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "DB_DSN", "REPLICATE_API_TOKEN", "FAL_KEY", "KIE_API_KEY", "TELEGRAM_PAYMENT_PROVIDER_TOKEN", "ADMIN_PASSWORD"} {
		t.Setenv(key, "")
	}

	_, err := Load()
	require.Error(t, err)
	for _, key := range []string{"TELEGRAM_BOT_TOKEN", "DB_DSN", "TELEGRAM_PAYMENT_PROVIDER_TOKEN", "ADMIN_PASSWORD"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoadYooKassaRequiresWebhookSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("PAYMENT_PROVIDER", "yookassa")
	t.Setenv("YOOKASSA_SHOP_ID", "shop")
	t.Setenv("YOOKASSA_SECRET_KEY", "secret")
	t.Setenv("YOOKASSA_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YOOKASSA_WEBHOOK_SECRET")
}

func TestLoadRequiresAdminPassword(t *testing.T) {
	setRequired(t)
	t.Setenv("ADMIN_PASSWORD", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")

	t.Setenv("ADMIN_PASSWORD", "change-me")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_PASSWORD")

	t.Setenv("ADMIN_PASSWORD", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.AdminPassword)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "bot.env")
	require.NoError(t, os.WriteFile(path, []byte("TOPUP_AMOUNTS=50, 150.5\nPOLL_MAX_ATTEMPTS=7\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Setenv("TOPUP_AMOUNTS", "")
	t.Setenv("POLL_MAX_ATTEMPTS", "")
	os.Unsetenv("TOPUP_AMOUNTS")
	os.Unsetenv("POLL_MAX_ATTEMPTS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.PollMaxAttempts)
	require.Len(t, cfg.TopUpAmounts, 2)
	assert.Equal(t, "150.5", cfg.TopUpAmounts[1].String())
}

func TestParseAmountsRejectsGarbage(t *testing.T) {
	_, err := parseAmounts("100,abc")
	assert.Error(t, err)
	_, err = parseAmounts("0")
	assert.Error(t, err)
	_, err = parseAmounts(" , ")
	assert.Error(t, err)
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("kie.ai", "x"))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("https://kie.ai", "x"))
	assert.Equal(t, "fallback", normalizeKIEBaseURL("  ", "fallback"))
}
