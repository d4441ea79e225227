// Package chain binds the oracle to the EVM: the reputation registry's
// feedback events, block timestamps, and the TrustScore contract.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/robomoustach/oracle/internal/backoff"
)

// registryABI declares the two accepted feedback event signatures. They share
// a payload shape; a deployment may emit either.
const registryABI = `[
	{"type":"event","name":"FeedbackPosted","inputs":[
		{"indexed":true,"name":"agentId","type":"uint256"},
		{"indexed":true,"name":"clientAddress","type":"address"},
		{"indexed":false,"name":"feedbackIndex","type":"uint64"},
		{"indexed":false,"name":"value","type":"int128"},
		{"indexed":false,"name":"valueDecimals","type":"uint8"},
		{"indexed":true,"name":"indexedTag1","type":"string"},
		{"indexed":false,"name":"tag1","type":"string"},
		{"indexed":false,"name":"tag2","type":"string"},
		{"indexed":false,"name":"endpoint","type":"string"},
		{"indexed":false,"name":"feedbackURI","type":"string"},
		{"indexed":false,"name":"feedbackHash","type":"bytes32"}
	]},
	{"type":"event","name":"NewFeedback","inputs":[
		{"indexed":true,"name":"agentId","type":"uint256"},
		{"indexed":true,"name":"clientAddress","type":"address"},
		{"indexed":false,"name":"feedbackIndex","type":"uint64"},
		{"indexed":false,"name":"value","type":"int128"},
		{"indexed":false,"name":"valueDecimals","type":"uint8"},
		{"indexed":true,"name":"indexedTag1","type":"string"},
		{"indexed":false,"name":"tag1","type":"string"},
		{"indexed":false,"name":"tag2","type":"string"},
		{"indexed":false,"name":"endpoint","type":"string"},
		{"indexed":false,"name":"feedbackURI","type":"string"},
		{"indexed":false,"name":"feedbackHash","type":"bytes32"}
	]}
]`

var (
	parsedRegistryABI abi.ABI
	sigFeedbackPosted common.Hash
	sigNewFeedback    common.Hash
)

func init() {
	var err error
	parsedRegistryABI, err = abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		panic(fmt.Sprintf("chain: parse registry ABI: %v", err))
	}
	sigFeedbackPosted = parsedRegistryABI.Events["FeedbackPosted"].ID
	sigNewFeedback = parsedRegistryABI.Events["NewFeedback"].ID
}

// FeedbackEvent is one decoded registry log.
type FeedbackEvent struct {
	EventName     string // "FeedbackPosted" or "NewFeedback"
	AgentID       *big.Int
	ClientAddress common.Address
	FeedbackIndex uint64
	Value         *big.Int
	ValueDecimals uint8
	Tag1          string
	Tag2          string
	Endpoint      string
	FeedbackURI   string
	FeedbackHash  [32]byte
	BlockNumber   uint64
	LogIndex      uint
	TxHash        common.Hash
}

// DedupKey is the composite identity of an event: payload + emission position
// (block number and transaction hash). Two logs with equal keys are the same
// event even when one carries each signature name.
func (e FeedbackEvent) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d|%s|%d|%s|%s|%s|%s|%x|%d|%s",
		e.AgentID, e.ClientAddress.Hex(), e.FeedbackIndex, e.Value, e.ValueDecimals,
		e.Tag1, e.Tag2, e.Endpoint, e.FeedbackURI, e.FeedbackHash,
		e.BlockNumber, e.TxHash.Hex())
}

// LogReader is the slice of the RPC client the event source needs.
type LogReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EventSource queries feedback logs for block ranges.
type EventSource struct {
	reader   LogReader
	registry common.Address
	retry    backoff.Config
	logger   *slog.Logger
}

// NewEventSource builds a source over reader for the registry at addr.
// RPC calls are retried per retry; pass the zero Config for defaults.
func NewEventSource(reader LogReader, addr common.Address, retry backoff.Config, logger *slog.Logger) *EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSource{reader: reader, registry: addr, retry: retry, logger: logger}
}

// FeedbackInRange returns all deduplicated feedback events in [from, to],
// across all agents, ordered by (blockNumber, logIndex). Used to discover the
// dirty agent set.
func (s *EventSource) FeedbackInRange(ctx context.Context, from, to uint64) ([]FeedbackEvent, error) {
	if from > to {
		return nil, fmt.Errorf("chain: invalid range [%d, %d]", from, to)
	}
	return s.query(ctx, from, to, nil)
}

// AgentFeedback returns agentID's deduplicated feedback events in [from, to],
// ordered by (blockNumber, logIndex). Used for score computation, so callers
// pass the contract's start block to reconstruct history from genesis.
func (s *EventSource) AgentFeedback(ctx context.Context, agentID *big.Int, from, to uint64) ([]FeedbackEvent, error) {
	if from > to {
		return nil, fmt.Errorf("chain: invalid range [%d, %d]", from, to)
	}
	return s.query(ctx, from, to, agentID)
}

func (s *EventSource) query(ctx context.Context, from, to uint64, agentID *big.Int) ([]FeedbackEvent, error) {
	topics := [][]common.Hash{{sigFeedbackPosted, sigNewFeedback}}
	if agentID != nil {
		topics = append(topics, []common.Hash{common.BigToHash(agentID)})
	}
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{s.registry},
		Topics:    topics,
	}

	logs, err := backoff.Retry(ctx, s.withRetryLog(), func(ctx context.Context) ([]types.Log, error) {
		return s.reader.FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs [%d, %d]: %w", from, to, err)
	}

	seen := make(map[string]bool, len(logs))
	events := make([]FeedbackEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := DecodeFeedbackLog(lg)
		if err != nil {
			s.logger.Warn("skipping undecodable registry log",
				"block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		key := ev.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

func (s *EventSource) withRetryLog() backoff.Config {
	cfg := s.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, d time.Duration, err error) {
			s.logger.Warn("retrying registry log query", "attempt", attempt, "delay", d, "error", err)
		}
	}
	return cfg
}

// DecodeFeedbackLog decodes one registry log into a FeedbackEvent.
func DecodeFeedbackLog(lg types.Log) (FeedbackEvent, error) {
	if len(lg.Topics) < 3 {
		return FeedbackEvent{}, fmt.Errorf("expected at least 3 topics, got %d", len(lg.Topics))
	}

	var name string
	switch lg.Topics[0] {
	case sigFeedbackPosted:
		name = "FeedbackPosted"
	case sigNewFeedback:
		name = "NewFeedback"
	default:
		return FeedbackEvent{}, fmt.Errorf("unknown event signature %s", lg.Topics[0].Hex())
	}

	vals, err := parsedRegistryABI.Events[name].Inputs.NonIndexed().Unpack(lg.Data)
	if err != nil {
		return FeedbackEvent{}, fmt.Errorf("unpack %s data: %w", name, err)
	}
	if len(vals) != 8 {
		return FeedbackEvent{}, fmt.Errorf("expected 8 data fields, got %d", len(vals))
	}

	ev := FeedbackEvent{
		EventName:     name,
		AgentID:       new(big.Int).SetBytes(lg.Topics[1].Bytes()),
		ClientAddress: common.BytesToAddress(lg.Topics[2].Bytes()),
		FeedbackIndex: vals[0].(uint64),
		Value:         vals[1].(*big.Int),
		ValueDecimals: vals[2].(uint8),
		Tag1:          vals[3].(string),
		Tag2:          vals[4].(string),
		Endpoint:      vals[5].(string),
		FeedbackURI:   vals[6].(string),
		FeedbackHash:  vals[7].([32]byte),
		BlockNumber:   lg.BlockNumber,
		LogIndex:      lg.Index,
		TxHash:        lg.TxHash,
	}
	return ev, nil
}
