// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/robomoustach/oracle/internal/scoring"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Chain settings.
	RPCURL            string
	RegistryAddress   string // Reputation registry emitting feedback events.
	TrustScoreAddress string // TrustScore contract holding cached scores.
	UpdaterKeyHex     string // Private key of the score updater; empty disables the indexer.
	StartBlock        uint64 // Registry deployment block.

	// Indexer settings.
	MaxBatchSize   int
	PollInterval   time.Duration
	CheckpointPath string
	AuditDBPath    string // Empty disables the audit trail.

	// Trust client settings.
	BaseURL              string
	DefaultMode          string
	AllowDemoFallback    bool
	AllowOnchainFallback bool
	QueryTimeout         time.Duration

	// x402 payment settings.
	X402Secret           string
	X402PriceAtomic      int64 // Per-request price the API charges.
	X402MaxPaymentAtomic int64 // Per-request cap the client will settle.

	// Scoring knobs.
	Scoring scoring.Config

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel          string
	DemoRatePerMinute int // Demo route rate limit per client IP.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                 envInt("ORACLE_PORT", 8080),
		ReadTimeout:          envDuration("ORACLE_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("ORACLE_WRITE_TIMEOUT", 30*time.Second),
		RPCURL:               envStr("ORACLE_RPC_URL", "https://mainnet.base.org"),
		RegistryAddress:      envStr("ORACLE_REGISTRY_ADDRESS", ""),
		TrustScoreAddress:    envStr("ORACLE_TRUSTSCORE_ADDRESS", ""),
		UpdaterKeyHex:        envStr("ORACLE_UPDATER_KEY", ""),
		StartBlock:           uint64(envInt("ORACLE_START_BLOCK", 0)),
		MaxBatchSize:         envInt("ORACLE_MAX_BATCH_SIZE", 100),
		PollInterval:         envDuration("ORACLE_POLL_INTERVAL", 15*time.Minute),
		CheckpointPath:       envStr("ORACLE_CHECKPOINT_PATH", "oracle-checkpoint.json"),
		AuditDBPath:          envStr("ORACLE_AUDIT_DB_PATH", ""),
		BaseURL:              envStr("ORACLE_BASE_URL", "https://robomoustach.io"),
		DefaultMode:          envStr("ORACLE_DEFAULT_MODE", "api_paid"),
		AllowDemoFallback:    envBool("ORACLE_ALLOW_DEMO_FALLBACK", true),
		AllowOnchainFallback: envBool("ORACLE_ALLOW_ONCHAIN_FALLBACK", true),
		QueryTimeout:         envDuration("ORACLE_QUERY_TIMEOUT", 8*time.Second),
		X402Secret:           envStr("ORACLE_X402_SECRET", ""),
		X402PriceAtomic:      int64(envInt("ORACLE_X402_PRICE_ATOMIC", 10000)),
		X402MaxPaymentAtomic: int64(envInt("ORACLE_X402_MAX_PAYMENT_ATOMIC", 20000)),
		Scoring: scoring.Config{
			DecayWindowDays:                  envInt("ORACLE_DECAY_WINDOW_DAYS", 30),
			RecentFeedbackWeight:             envInt("ORACLE_RECENT_FEEDBACK_WEIGHT", 2),
			OlderFeedbackWeight:              envInt("ORACLE_OLDER_FEEDBACK_WEIGHT", 1),
			ConfidenceThresholdFeedbackCount: envInt("ORACLE_CONFIDENCE_THRESHOLD", 50),
			ConfidenceMultiplier:             envFloat("ORACLE_CONFIDENCE_MULTIPLIER", 1.05),
			RecentNegativeWindowDays:         envInt("ORACLE_RECENT_NEGATIVE_WINDOW_DAYS", 7),
			NegativeFlagThresholdBps:         envInt("ORACLE_NEGATIVE_FLAG_BPS", 2000),
			FlaggedScoreMultiplier:           envFloat("ORACLE_FLAGGED_MULTIPLIER", 0.9),
			MaxScore:                         envInt("ORACLE_MAX_SCORE", 1000),
		},
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:      envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "trust-oracle"),
		LogLevel:          envStr("ORACLE_LOG_LEVEL", "info"),
		DemoRatePerMinute: envInt("ORACLE_DEMO_RATE_PER_MINUTE", 60),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and well-formed.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: ORACLE_RPC_URL is required")
	}
	if c.RegistryAddress != "" && !common.IsHexAddress(c.RegistryAddress) {
		return fmt.Errorf("config: ORACLE_REGISTRY_ADDRESS is not a valid address")
	}
	if c.TrustScoreAddress != "" && !common.IsHexAddress(c.TrustScoreAddress) {
		return fmt.Errorf("config: ORACLE_TRUSTSCORE_ADDRESS is not a valid address")
	}
	if c.UpdaterKeyHex != "" && c.TrustScoreAddress == "" {
		return fmt.Errorf("config: ORACLE_TRUSTSCORE_ADDRESS is required when an updater key is set")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("config: ORACLE_MAX_BATCH_SIZE must be positive")
	}
	if c.Scoring.MaxScore <= 0 {
		return fmt.Errorf("config: ORACLE_MAX_SCORE must be positive")
	}
	if c.X402PriceAtomic < 0 || c.X402MaxPaymentAtomic < 0 {
		return fmt.Errorf("config: x402 amounts must be non-negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
