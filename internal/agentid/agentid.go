// Package agentid parses and range-checks ERC-8004 agent identifiers.
//
// An agent ID is an unsigned integer in [0, 2^256 - 1], carried across the
// system as an opaque base-10 string. Only this package parses it.
package agentid

import (
	"errors"
	"math/big"
)

// Distinct validation failures. Callers branch on these with errors.Is.
var (
	ErrMissing    = errors.New("agentid: agent id is required")
	ErrNotNumeric = errors.New("agentid: agent id must contain only base-10 digits")
	ErrOutOfRange = errors.New("agentid: agent id exceeds 2^256 - 1")
)

// maxAgentID is 2^256 - 1, the largest value representable by a uint256.
var maxAgentID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ID is a validated agent identifier.
type ID struct {
	value *big.Int
}

// Parse validates raw and returns the canonical ID.
// No leading '+', no hex, no whitespace — ASCII digits only.
func Parse(raw string) (ID, error) {
	if raw == "" {
		return ID{}, ErrMissing
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return ID{}, ErrNotNumeric
		}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return ID{}, ErrNotNumeric
	}
	if v.Cmp(maxAgentID) > 0 {
		return ID{}, ErrOutOfRange
	}
	return ID{value: v}, nil
}

// BigInt returns a copy of the identifier's integer value.
func (id ID) BigInt() *big.Int {
	if id.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(id.value)
}

// String returns the canonical decimal form (no leading zeros).
func (id ID) String() string {
	if id.value == nil {
		return "0"
	}
	return id.value.String()
}
