// Package indexer runs the reputation pipeline: discover dirty agents from
// registry events, recompute their scores, commit a batched update on-chain,
// and persist a checkpoint. There is at most one cycle in flight at any time
// — the score contract's updater is a single signer with a monotonic nonce.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/robomoustach/oracle/internal/chain"
	"github.com/robomoustach/oracle/internal/checkpoint"
	"github.com/robomoustach/oracle/internal/scoring"
)

// EventSource yields feedback events for block ranges.
type EventSource interface {
	FeedbackInRange(ctx context.Context, from, to uint64) ([]chain.FeedbackEvent, error)
	AgentFeedback(ctx context.Context, agentID *big.Int, from, to uint64) ([]chain.FeedbackEvent, error)
}

// HeadReader observes the chain head.
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockTimes resolves block timestamps in epoch milliseconds.
type BlockTimes interface {
	BlockTimeMs(ctx context.Context, block uint64) (int64, error)
}

// ScoreWriter commits one batch of score updates and waits for the receipt.
type ScoreWriter interface {
	BatchUpdateScores(ctx context.Context, ids, scores, totals, positives []*big.Int) (*types.Receipt, error)
}

// AuditLog records the feedback events folded in during a cycle. Optional;
// failures are logged, never fatal.
type AuditLog interface {
	RecordEvents(ctx context.Context, cycleStart time.Time, events []chain.FeedbackEvent) error
}

// Config holds indexer settings.
type Config struct {
	// StartBlock is the registry contract's deployment block. Per-agent scans
	// always start here so history is reconstructed from genesis.
	StartBlock uint64
	// MaxBatchSize caps agents committed per cycle; the rest are queued.
	MaxBatchSize int
	PollInterval time.Duration
	Scoring      scoring.Config
	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Deps are the indexer's collaborators.
type Deps struct {
	Events      EventSource
	Head        HeadReader
	Writer      ScoreWriter
	Checkpoints *checkpoint.Store
	// NewBlockTimes builds a fresh timestamp memo for each cycle. The memo
	// must not persist across cycles (reorgs invalidate it).
	NewBlockTimes func() BlockTimes
	Audit         AuditLog // nil disables auditing
	Logger        *slog.Logger
}

// Stats summarizes one completed cycle.
type Stats struct {
	FromBlock           uint64
	LatestBlock         uint64
	DirtyAgentCount     int
	ProcessedAgentCount int
	QueuedAgentCount    int
	EventsScanned       int
	TxHash              string
}

// Indexer runs cycles.
type Indexer struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	cycles     otelmetric.Int64Counter
	processed  otelmetric.Int64Counter
	queued     otelmetric.Int64Counter
	dualEvents otelmetric.Int64Counter
}

// New builds an Indexer.
func New(cfg Config, deps Deps) (*Indexer, error) {
	if deps.Events == nil || deps.Head == nil || deps.Writer == nil ||
		deps.Checkpoints == nil || deps.NewBlockTimes == nil {
		return nil, fmt.Errorf("indexer: missing dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	meter := otel.GetMeterProvider().Meter("oracle/indexer")
	cycles, _ := meter.Int64Counter("indexer.cycles")
	processed, _ := meter.Int64Counter("indexer.agents_processed")
	queued, _ := meter.Int64Counter("indexer.agents_queued")
	dual, _ := meter.Int64Counter("indexer.dual_signature_events")

	return &Indexer{
		cfg:        cfg.withDefaults(),
		deps:       deps,
		logger:     logger,
		cycles:     cycles,
		processed:  processed,
		queued:     queued,
		dualEvents: dual,
	}, nil
}

// RunCycle executes one transactional pass. A failure before the batch
// submission completes leaves the checkpoint untouched; a failure between
// submission and checkpoint persistence may cause a harmless resubmission
// next cycle (batchUpdateScores overwrites).
func (ix *Indexer) RunCycle(ctx context.Context) (Stats, error) {
	cycleStart := ix.cfg.Now()
	var stats Stats

	cp, err := ix.deps.Checkpoints.Load()
	if err != nil {
		return stats, fmt.Errorf("indexer: load checkpoint: %w", err)
	}

	baselineLast := uint64(0)
	if ix.cfg.StartBlock > 0 {
		baselineLast = ix.cfg.StartBlock - 1
	}
	if cp.LastProcessedBlock != nil {
		baselineLast = *cp.LastProcessedBlock
	}
	from := baselineLast + 1

	latest, err := ix.deps.Head.BlockNumber(ctx)
	if err != nil {
		return stats, fmt.Errorf("indexer: chain head: %w", err)
	}
	stats.FromBlock = from
	stats.LatestBlock = latest

	// Discover the dirty set: new events plus agents queued last cycle.
	dirty := make(map[string]*big.Int)
	var scanned []chain.FeedbackEvent
	if from <= latest {
		scanned, err = ix.deps.Events.FeedbackInRange(ctx, from, latest)
		if err != nil {
			return stats, fmt.Errorf("indexer: global scan: %w", err)
		}
		stats.EventsScanned = len(scanned)
		sigs := make(map[string]bool, 2)
		for _, ev := range scanned {
			dirty[ev.AgentID.String()] = ev.AgentID
			sigs[ev.EventName] = true
		}
		if len(sigs) > 1 {
			ix.count(ctx, ix.dualEvents, 1)
			ix.logger.Warn("both feedback event signatures observed in one cycle")
		}
	}
	for _, raw := range cp.PendingAgentIDs {
		id, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			continue
		}
		dirty[id.String()] = id
	}

	agents := make([]*big.Int, 0, len(dirty))
	for _, id := range dirty {
		agents = append(agents, id)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Cmp(agents[j]) < 0 })
	stats.DirtyAgentCount = len(agents)

	toProcess := agents
	var toQueue []*big.Int
	if len(agents) > ix.cfg.MaxBatchSize {
		toProcess = agents[:ix.cfg.MaxBatchSize]
		toQueue = agents[ix.cfg.MaxBatchSize:]
	}

	// Recompute scores from full per-agent history.
	times := ix.deps.NewBlockTimes()
	nowMs := cycleStart.UnixMilli()
	var ids, scores, totals, positives []*big.Int
	for _, agentID := range toProcess {
		result, err := ix.scoreAgent(ctx, agentID, latest, times, nowMs)
		if err != nil {
			return stats, err
		}
		ids = append(ids, agentID)
		scores = append(scores, big.NewInt(int64(result.Score)))
		totals = append(totals, big.NewInt(int64(result.TotalFeedback)))
		positives = append(positives, big.NewInt(int64(result.PositiveFeedback)))
	}

	if len(ids) > 0 {
		receipt, err := ix.deps.Writer.BatchUpdateScores(ctx, ids, scores, totals, positives)
		if err != nil {
			return stats, fmt.Errorf("indexer: batch update: %w", err)
		}
		if receipt != nil {
			stats.TxHash = receipt.TxHash.Hex()
		}
	}

	if ix.deps.Audit != nil && len(scanned) > 0 {
		if err := ix.deps.Audit.RecordEvents(ctx, cycleStart, scanned); err != nil {
			ix.logger.Warn("audit write failed", "error", err)
		}
	}

	newLast := latest
	if latest < baselineLast {
		// A provider serving a stale head must not rewind progress.
		ix.logger.Warn("chain head behind checkpoint", "head", latest, "checkpoint", baselineLast)
		newLast = baselineLast
	}
	pending := make([]string, len(toQueue))
	for i, id := range toQueue {
		pending[i] = id.String()
	}
	if err := ix.deps.Checkpoints.Save(checkpoint.Checkpoint{
		LastProcessedBlock: &newLast,
		PendingAgentIDs:    pending,
	}); err != nil {
		return stats, fmt.Errorf("indexer: save checkpoint: %w", err)
	}

	stats.ProcessedAgentCount = len(toProcess)
	stats.QueuedAgentCount = len(toQueue)

	ix.count(ctx, ix.cycles, 1)
	ix.count(ctx, ix.processed, int64(stats.ProcessedAgentCount))
	ix.count(ctx, ix.queued, int64(stats.QueuedAgentCount))

	ix.logger.Info("cycle complete",
		"from", stats.FromBlock, "latest", stats.LatestBlock,
		"dirty", stats.DirtyAgentCount, "processed", stats.ProcessedAgentCount,
		"queued", stats.QueuedAgentCount, "events", stats.EventsScanned,
		"tx", stats.TxHash,
		"duration_ms", time.Since(cycleStart).Milliseconds())
	return stats, nil
}

func (ix *Indexer) count(ctx context.Context, counter otelmetric.Int64Counter, n int64) {
	if counter != nil {
		counter.Add(ctx, n)
	}
}

func (ix *Indexer) scoreAgent(ctx context.Context, agentID *big.Int, latest uint64, times BlockTimes, nowMs int64) (scoring.Result, error) {
	events, err := ix.deps.Events.AgentFeedback(ctx, agentID, ix.cfg.StartBlock, latest)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("indexer: agent %s scan: %w", agentID, err)
	}

	feedbacks := make([]scoring.Feedback, 0, len(events))
	for _, ev := range events {
		ms, err := times.BlockTimeMs(ctx, ev.BlockNumber)
		if err != nil {
			return scoring.Result{}, fmt.Errorf("indexer: agent %s: %w", agentID, err)
		}
		positive := ev.Value.Sign() > 0
		feedbacks = append(feedbacks, scoring.Feedback{
			Timestamp: float64(ms),
			Positive:  &positive,
		})
	}

	result, err := scoring.Compute(feedbacks, ix.cfg.Scoring, nowMs)
	if err != nil {
		return scoring.Result{}, fmt.Errorf("indexer: score agent %s: %w", agentID, err)
	}
	return result, nil
}

// Run executes cycles spaced by PollInterval until ctx is done. A cycle
// failure is logged and the loop continues on the next tick.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.logger.Info("indexer starting",
		"poll_interval", ix.cfg.PollInterval,
		"start_block", ix.cfg.StartBlock,
		"max_batch", ix.cfg.MaxBatchSize)

	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := ix.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Error("cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
