// Command oracled runs the trust oracle daemon: the HTTP API serving cached
// on-chain scores, and (when an updater key and a registry address are
// configured) the indexer loop that keeps those scores fresh.
package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/robomoustach/oracle/internal/audit"
	"github.com/robomoustach/oracle/internal/backoff"
	"github.com/robomoustach/oracle/internal/chain"
	"github.com/robomoustach/oracle/internal/checkpoint"
	"github.com/robomoustach/oracle/internal/config"
	"github.com/robomoustach/oracle/internal/indexer"
	"github.com/robomoustach/oracle/internal/ratelimit"
	"github.com/robomoustach/oracle/internal/server"
	"github.com/robomoustach/oracle/internal/telemetry"
	"github.com/robomoustach/oracle/internal/x402"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ORACLE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.TrustScoreAddress == "" {
		return fmt.Errorf("ORACLE_TRUSTSCORE_ADDRESS is required")
	}

	slog.Info("oracle starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	rpcClient, chainID, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer rpcClient.Close()
	slog.Info("chain connected", "rpc", cfg.RPCURL, "chain_id", chainID)

	updaterKey, err := parseUpdaterKey(cfg.UpdaterKeyHex)
	if err != nil {
		return err
	}
	trustScore, err := chain.NewTrustScore(rpcClient, common.HexToAddress(cfg.TrustScoreAddress), updaterKey, chainID)
	if err != nil {
		return err
	}

	// HTTP API.
	var payments *x402.Verifier
	if cfg.X402Secret != "" {
		payments = x402.NewVerifier([]byte(cfg.X402Secret), cfg.X402PriceAtomic)
	} else {
		slog.Warn("no x402 secret configured, serving paid routes for free")
	}
	limiter := ratelimit.NewMemoryLimiter(cfg.DemoRatePerMinute, time.Minute)
	defer limiter.Close()

	srv := server.New(server.Config{
		Scores:                           trustScore,
		Logger:                           logger,
		Payments:                         payments,
		Limiter:                          limiter,
		Port:                             cfg.Port,
		ReadTimeout:                      cfg.ReadTimeout,
		WriteTimeout:                     cfg.WriteTimeout,
		Version:                          version,
		ConfidenceThresholdFeedbackCount: cfg.Scoring.ConfidenceThresholdFeedbackCount,
		NegativeFlagThresholdBps:         cfg.Scoring.NegativeFlagThresholdBps,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Indexer loop, when this deployment holds the updater key.
	if updaterKey != nil && cfg.RegistryAddress != "" {
		ix, err := buildIndexer(cfg, rpcClient, trustScore, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := ix.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.Info("indexer disabled", "has_updater_key", updaterKey != nil, "has_registry", cfg.RegistryAddress != "")
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildIndexer(cfg config.Config, rpcClient *ethclient.Client, trustScore *chain.TrustScore, logger *slog.Logger) (*indexer.Indexer, error) {
	retry := backoff.Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxRetries:   5,
	}
	events := chain.NewEventSource(rpcClient, common.HexToAddress(cfg.RegistryAddress), retry, logger)

	var auditLog indexer.AuditLog
	if cfg.AuditDBPath != "" {
		l, err := audit.Open(cfg.AuditDBPath)
		if err != nil {
			return nil, err
		}
		auditLog = l
	}

	return indexer.New(
		indexer.Config{
			StartBlock:   cfg.StartBlock,
			MaxBatchSize: cfg.MaxBatchSize,
			PollInterval: cfg.PollInterval,
			Scoring:      cfg.Scoring,
		},
		indexer.Deps{
			Events:      events,
			Head:        rpcClient,
			Writer:      trustScore,
			Checkpoints: checkpoint.NewStore(cfg.CheckpointPath),
			NewBlockTimes: func() indexer.BlockTimes {
				return chain.NewTimestampCache(rpcClient, retry)
			},
			Audit:  auditLog,
			Logger: logger,
		},
	)
}

func parseUpdaterKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse updater key: %w", err)
	}
	return key, nil
}
