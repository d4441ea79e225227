package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://mainnet.base.org", cfg.RPCURL)
	assert.Equal(t, "https://robomoustach.io", cfg.BaseURL)
	assert.Equal(t, "api_paid", cfg.DefaultMode)
	assert.True(t, cfg.AllowDemoFallback)
	assert.True(t, cfg.AllowOnchainFallback)
	assert.Equal(t, 8*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 15*time.Minute, cfg.PollInterval)
	assert.Equal(t, int64(20000), cfg.X402MaxPaymentAtomic)

	assert.Equal(t, 30, cfg.Scoring.DecayWindowDays)
	assert.Equal(t, 2, cfg.Scoring.RecentFeedbackWeight)
	assert.Equal(t, 50, cfg.Scoring.ConfidenceThresholdFeedbackCount)
	assert.Equal(t, 1.05, cfg.Scoring.ConfidenceMultiplier)
	assert.Equal(t, 2000, cfg.Scoring.NegativeFlagThresholdBps)
	assert.Equal(t, 0.9, cfg.Scoring.FlaggedScoreMultiplier)
	assert.Equal(t, 1000, cfg.Scoring.MaxScore)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ORACLE_PORT", "9090")
	t.Setenv("ORACLE_POLL_INTERVAL", "1m")
	t.Setenv("ORACLE_MAX_BATCH_SIZE", "5")
	t.Setenv("ORACLE_ALLOW_DEMO_FALLBACK", "false")
	t.Setenv("ORACLE_CONFIDENCE_MULTIPLIER", "1.2")
	t.Setenv("ORACLE_TRUSTSCORE_ADDRESS", "0x00000000000000000000000000000000000000ff")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 5, cfg.MaxBatchSize)
	assert.False(t, cfg.AllowDemoFallback)
	assert.Equal(t, 1.2, cfg.Scoring.ConfidenceMultiplier)
}

func TestValidateRejectsBadAddress(t *testing.T) {
	t.Setenv("ORACLE_TRUSTSCORE_ADDRESS", "not-an-address")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRequiresContractForUpdater(t *testing.T) {
	t.Setenv("ORACLE_UPDATER_KEY", "abcd1234")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsZeroBatch(t *testing.T) {
	t.Setenv("ORACLE_MAX_BATCH_SIZE", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("ORACLE_PORT", "not-a-number")
	t.Setenv("ORACLE_POLL_INTERVAL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.PollInterval)
}
