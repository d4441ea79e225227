package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomoustach/oracle/internal/backoff"
)

var (
	testRegistry = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testClient   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// makeLog packs a registry log the way the contract would emit it.
func makeLog(t *testing.T, eventName string, agentID int64, value int64, block uint64, logIndex uint, txHash byte) types.Log {
	t.Helper()
	ev := parsedRegistryABI.Events[eventName]
	data, err := ev.Inputs.NonIndexed().Pack(
		uint64(1),            // feedbackIndex
		big.NewInt(value),    // value
		uint8(0),             // valueDecimals
		"quality",            // tag1
		"",                   // tag2
		"/chat",              // endpoint
		"ipfs://feedback",    // feedbackURI
		[32]byte{0xde, 0xad}, // feedbackHash
	)
	require.NoError(t, err)

	return types.Log{
		Address: testRegistry,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(agentID)),
			common.BytesToHash(testClient.Bytes()),
			common.HexToHash("0x01"), // keccak of indexedTag1, opaque
		},
		Data:        data,
		BlockNumber: block,
		Index:       logIndex,
		TxHash:      common.Hash{txHash},
	}
}

type fakeLogReader struct {
	logs  []types.Log
	err   error
	calls int
	lastQ ethereum.FilterQuery
}

func (f *fakeLogReader) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.calls++
	f.lastQ = q
	if f.err != nil {
		return nil, f.err
	}
	return f.logs, nil
}

func fastRetry() backoff.Config {
	return backoff.Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 2}
}

func TestDecodeFeedbackLog(t *testing.T) {
	lg := makeLog(t, "FeedbackPosted", 42, -5, 100, 3, 0x01)

	ev, err := DecodeFeedbackLog(lg)
	require.NoError(t, err)

	assert.Equal(t, "FeedbackPosted", ev.EventName)
	assert.Equal(t, int64(42), ev.AgentID.Int64())
	assert.Equal(t, testClient, ev.ClientAddress)
	assert.Equal(t, uint64(1), ev.FeedbackIndex)
	assert.Equal(t, int64(-5), ev.Value.Int64())
	assert.Equal(t, "quality", ev.Tag1)
	assert.Equal(t, "/chat", ev.Endpoint)
	assert.Equal(t, uint64(100), ev.BlockNumber)
	assert.Equal(t, uint(3), ev.LogIndex)
}

func TestDecodeFeedbackLogUnknownSignature(t *testing.T) {
	lg := makeLog(t, "NewFeedback", 1, 1, 1, 0, 0x01)
	lg.Topics[0] = common.HexToHash("0xffff")

	_, err := DecodeFeedbackLog(lg)
	assert.Error(t, err)
}

func TestFeedbackInRangeSortsAndDedupes(t *testing.T) {
	// Same payload and position under both signature names: one event.
	dupA := makeLog(t, "FeedbackPosted", 7, 10, 50, 2, 0x01)
	dupB := makeLog(t, "NewFeedback", 7, 10, 50, 2, 0x01)
	early := makeLog(t, "FeedbackPosted", 7, 10, 40, 9, 0x02)
	sameBlock := makeLog(t, "NewFeedback", 8, -1, 50, 1, 0x03)

	reader := &fakeLogReader{logs: []types.Log{dupA, sameBlock, dupB, early}}
	src := NewEventSource(reader, testRegistry, fastRetry(), nil)

	events, err := src.FeedbackInRange(context.Background(), 1, 100)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Ordered by (blockNumber, logIndex).
	assert.Equal(t, uint64(40), events[0].BlockNumber)
	assert.Equal(t, uint64(50), events[1].BlockNumber)
	assert.Equal(t, uint(1), events[1].LogIndex)
	assert.Equal(t, uint(2), events[2].LogIndex)
}

func TestDedupLaw(t *testing.T) {
	logs := []types.Log{
		makeLog(t, "FeedbackPosted", 1, 1, 10, 0, 0x01),
		makeLog(t, "NewFeedback", 2, -3, 11, 0, 0x02),
	}
	doubled := append(append([]types.Log{}, logs...), logs...)

	once := &fakeLogReader{logs: logs}
	twice := &fakeLogReader{logs: doubled}

	a, err := NewEventSource(once, testRegistry, fastRetry(), nil).FeedbackInRange(context.Background(), 1, 20)
	require.NoError(t, err)
	b, err := NewEventSource(twice, testRegistry, fastRetry(), nil).FeedbackInRange(context.Background(), 1, 20)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestAgentFeedbackFiltersByTopic(t *testing.T) {
	reader := &fakeLogReader{}
	src := NewEventSource(reader, testRegistry, fastRetry(), nil)

	_, err := src.AgentFeedback(context.Background(), big.NewInt(99), 5, 500)
	require.NoError(t, err)

	q := reader.lastQ
	require.Len(t, q.Topics, 2)
	assert.ElementsMatch(t, []common.Hash{sigFeedbackPosted, sigNewFeedback}, q.Topics[0])
	assert.Equal(t, []common.Hash{common.BigToHash(big.NewInt(99))}, q.Topics[1])
	assert.Equal(t, int64(5), q.FromBlock.Int64())
	assert.Equal(t, int64(500), q.ToBlock.Int64())
	assert.Equal(t, []common.Address{testRegistry}, q.Addresses)
}

func TestQueryRejectsInvertedRange(t *testing.T) {
	src := NewEventSource(&fakeLogReader{}, testRegistry, fastRetry(), nil)
	_, err := src.FeedbackInRange(context.Background(), 10, 5)
	assert.Error(t, err)
}

func TestQueryRetriesTransientErrors(t *testing.T) {
	reader := &fakeLogReader{err: errors.New("429 too many requests")}
	src := NewEventSource(reader, testRegistry, fastRetry(), nil)

	_, err := src.FeedbackInRange(context.Background(), 1, 2)
	assert.Error(t, err)
	assert.Equal(t, 3, reader.calls)
}

func TestTimestampCacheMemoizes(t *testing.T) {
	reader := &fakeHeaderReader{times: map[uint64]uint64{77: 1700000000}}
	cache := NewTimestampCache(reader, fastRetry())

	ms, err := cache.BlockTimeMs(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)

	_, err = cache.BlockTimeMs(context.Background(), 77)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)
}

func TestTimestampCacheMissingBlock(t *testing.T) {
	reader := &fakeHeaderReader{times: map[uint64]uint64{}}
	cache := NewTimestampCache(reader, fastRetry())

	_, err := cache.BlockTimeMs(context.Background(), 123)
	assert.Error(t, err)
}

type fakeHeaderReader struct {
	times map[uint64]uint64
	calls int
}

func (f *fakeHeaderReader) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.calls++
	ts, ok := f.times[number.Uint64()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &types.Header{Number: new(big.Int).Set(number), Time: ts}, nil
}
