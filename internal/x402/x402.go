// Package x402 implements the payment-proof scheme for paid oracle routes.
//
// A payer mints a short-lived HS256 token declaring the atomic amount they
// are settling for the request; the server verifies the signature, expiry,
// and that the amount covers the route price. Missing or insufficient proof
// yields 402 Payment Required with a price quote.
package x402

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderPayment carries the proof token on paid requests.
const HeaderPayment = "X-Payment"

// Audience identifies tokens minted for this oracle.
const Audience = "trust-oracle"

var (
	// ErrProofInvalid covers bad signatures, malformed tokens, and expiry.
	ErrProofInvalid = errors.New("x402: invalid payment proof")
	// ErrUnderpaid means the proof is genuine but below the route price.
	ErrUnderpaid = errors.New("x402: payment below route price")
)

// Claims is the proof payload. Amount is in atomic payment units.
type Claims struct {
	Amount int64 `json:"amt"`
	jwt.RegisteredClaims
}

// Minter creates payment proofs (client side).
type Minter struct {
	secret []byte
}

// NewMinter returns a minter over the shared payment secret.
func NewMinter(secret []byte) *Minter {
	return &Minter{secret: secret}
}

// Mint signs a proof for amount atomic units, valid for ttl.
func (m *Minter) Mint(amount int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Amount: amount,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("x402: sign proof: %w", err)
	}
	return signed, nil
}

// Verifier validates payment proofs (server side).
type Verifier struct {
	secret      []byte
	priceAtomic int64
}

// NewVerifier returns a verifier requiring priceAtomic per request.
func NewVerifier(secret []byte, priceAtomic int64) *Verifier {
	return &Verifier{secret: secret, priceAtomic: priceAtomic}
}

// PriceAtomic is the configured route price.
func (v *Verifier) PriceAtomic() int64 { return v.priceAtomic }

// Verify checks raw and returns the settled amount.
func (v *Verifier) Verify(raw string) (int64, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithAudience(Audience), jwt.WithExpirationRequired())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	if claims.Amount < v.priceAtomic {
		return claims.Amount, fmt.Errorf("%w: %d < %d", ErrUnderpaid, claims.Amount, v.priceAtomic)
	}
	return claims.Amount, nil
}
