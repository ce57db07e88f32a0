package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecNormativeValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 85.0, cfg.Thresholds.MinSuccessRatePercent)
	assert.Equal(t, 3, cfg.Thresholds.MaxDailyFailures)
	assert.Equal(t, 2.5, cfg.Anomaly.ZThreshold)
	assert.Equal(t, 0.05, cfg.Anomaly.OutlierSignificance)
	assert.Equal(t, 1, cfg.Deployment.PerRepoConcurrency)
	assert.Equal(t, 600, cfg.Deployment.WebhookDedupWindowS)
	assert.Equal(t, 180, cfg.Deployment.RollbackBudgetS)
}

func TestLoadRequiresWebhookSecret(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "")
	_, err := Load("", "")
	require.Error(t, err)
}

func TestLoadReadsWebhookSecretFromEnv(t *testing.T) {
	t.Setenv("WEBHOOK_SECRET", "s3cr3t")
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", cfg.Security.WebhookSecret)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_BOOL", "yes")
	assert.True(t, GetEnvBool("CFG_TEST_BOOL", false))

	t.Setenv("CFG_TEST_INT", "42")
	assert.Equal(t, 42, GetEnvInt("CFG_TEST_INT", 0))

	assert.Equal(t, "fallback", GetEnv("CFG_TEST_MISSING", "fallback"))
}
