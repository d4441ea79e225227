package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/robomoustach/oracle/internal/backoff"
)

// HeaderReader is the slice of the RPC client the timestamp cache needs.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// TimestampCache memoizes block timestamps for one indexer cycle. It must be
// discarded when the cycle ends: reorgs invalidate the memo across cycles.
type TimestampCache struct {
	reader HeaderReader
	retry  backoff.Config
	memo   map[uint64]int64
}

// NewTimestampCache builds a fresh per-cycle cache.
func NewTimestampCache(reader HeaderReader, retry backoff.Config) *TimestampCache {
	return &TimestampCache{
		reader: reader,
		retry:  retry,
		memo:   make(map[uint64]int64),
	}
}

// BlockTimeMs returns the block's timestamp in epoch milliseconds.
// A missing block is a fatal error for the cycle.
func (c *TimestampCache) BlockTimeMs(ctx context.Context, block uint64) (int64, error) {
	if ms, ok := c.memo[block]; ok {
		return ms, nil
	}
	header, err := backoff.Retry(ctx, c.retry, func(ctx context.Context) (*types.Header, error) {
		return c.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	})
	if err != nil {
		return 0, fmt.Errorf("chain: header for block %d: %w", block, err)
	}
	if header == nil {
		return 0, fmt.Errorf("chain: block %d not found", block)
	}
	ms := int64(header.Time) * 1000
	c.memo[block] = ms
	return ms, nil
}
