package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// trustScoreABI is the fixed interface of the external TrustScore contract.
const trustScoreABI = `[
	{"type":"function","name":"getScore","stateMutability":"view",
		"inputs":[{"name":"agentId","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getDetailedReport","stateMutability":"view",
		"inputs":[{"name":"agentId","type":"uint256"}],
		"outputs":[
			{"name":"score","type":"uint256"},
			{"name":"totalFeedback","type":"uint256"},
			{"name":"positiveFeedback","type":"uint256"},
			{"name":"lastUpdated","type":"uint256"},
			{"name":"exists","type":"bool"}
		]},
	{"type":"function","name":"batchUpdateScores","stateMutability":"nonpayable",
		"inputs":[
			{"name":"ids","type":"uint256[]"},
			{"name":"scores","type":"uint256[]"},
			{"name":"totals","type":"uint256[]"},
			{"name":"positives","type":"uint256[]"}
		],
		"outputs":[]}
]`

// Report mirrors getDetailedReport's return tuple.
type Report struct {
	Score            *big.Int
	TotalFeedback    *big.Int
	PositiveFeedback *big.Int
	LastUpdated      *big.Int
	Exists           bool
}

// Backend is the slice of the RPC client the contract binding needs: calls,
// transactions, and receipt waits. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// TrustScore binds the on-chain score contract. Reads need no signer; batch
// updates require the updater key, which is owned exclusively by the indexer
// loop (single signer, monotonic nonce).
type TrustScore struct {
	contract *bind.BoundContract
	backend  Backend

	mu      sync.Mutex // guards the updater nonce across Transact calls
	updater *bind.TransactOpts
}

// NewTrustScore binds the contract at addr. updaterKey may be nil for a
// read-only binding; chainID is required when a key is given.
func NewTrustScore(backend Backend, addr common.Address, updaterKey *ecdsa.PrivateKey, chainID *big.Int) (*TrustScore, error) {
	parsed, err := abi.JSON(strings.NewReader(trustScoreABI))
	if err != nil {
		return nil, fmt.Errorf("chain: parse trustscore ABI: %w", err)
	}
	ts := &TrustScore{
		contract: bind.NewBoundContract(addr, parsed, backend, backend, backend),
		backend:  backend,
	}
	if updaterKey != nil {
		opts, err := bind.NewKeyedTransactorWithChainID(updaterKey, chainID)
		if err != nil {
			return nil, fmt.Errorf("chain: updater transactor: %w", err)
		}
		ts.updater = opts
	}
	return ts, nil
}

// Score calls getScore. Reverts (nonexistent agent) surface as errors.
func (t *TrustScore) Score(ctx context.Context, agentID *big.Int) (*big.Int, error) {
	var out []any
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getScore", agentID)
	if err != nil {
		return nil, fmt.Errorf("chain: getScore(%s): %w", agentID, err)
	}
	return out[0].(*big.Int), nil
}

// DetailedReport calls getDetailedReport.
func (t *TrustScore) DetailedReport(ctx context.Context, agentID *big.Int) (Report, error) {
	var out []any
	err := t.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getDetailedReport", agentID)
	if err != nil {
		return Report{}, fmt.Errorf("chain: getDetailedReport(%s): %w", agentID, err)
	}
	return Report{
		Score:            out[0].(*big.Int),
		TotalFeedback:    out[1].(*big.Int),
		PositiveFeedback: out[2].(*big.Int),
		LastUpdated:      out[3].(*big.Int),
		Exists:           out[4].(bool),
	}, nil
}

// BatchUpdateScores submits one batchUpdateScores transaction and waits for
// its receipt. Overwrite semantics on the contract make resubmission of the
// same batch idempotent in effect.
func (t *TrustScore) BatchUpdateScores(ctx context.Context, ids, scores, totals, positives []*big.Int) (*types.Receipt, error) {
	if t.updater == nil {
		return nil, fmt.Errorf("chain: no updater key configured")
	}
	if len(ids) != len(scores) || len(ids) != len(totals) || len(ids) != len(positives) {
		return nil, fmt.Errorf("chain: batch array length mismatch: %d/%d/%d/%d",
			len(ids), len(scores), len(totals), len(positives))
	}

	t.mu.Lock()
	opts := *t.updater
	opts.Context = ctx
	tx, err := t.contract.Transact(&opts, "batchUpdateScores", ids, scores, totals, positives)
	t.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("chain: submit batchUpdateScores: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, t.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait for %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: batchUpdateScores %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}
