// Package payments implements the two independent gates guarding the paid
// endpoint: replay prevention (the tracker) and on-chain payment
// verification (the verifier).
//
// A payment can be valid but reused, so both gates are required. The
// orchestrator checks them in the order replay-check → verify → mark-used:
// verifying before marking means a verification failure never burns the
// payment id.
package payments

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// DemoPrefix marks free-tier payment ids that bypass verification and
// replay tracking entirely. The prefix is fixed; it is matched against
// the normalized id, never pattern-derived from input.
const DemoPrefix = "demo_"

// txPrefix is stripped during normalization so "tx_0xABC..." and
// "0xabc..." collide to the same key.
const txPrefix = "tx_"

// Verifier errors, matched with errors.Is at the orchestrator boundary.
var (
	ErrMalformedID        = errors.New("payments: malformed payment id")
	ErrTxNotFound         = errors.New("payments: transaction not found")
	ErrTxFailed           = errors.New("payments: transaction failed on chain")
	ErrWrongRecipient     = errors.New("payments: transfer did not target the payment recipient")
	ErrInsufficientAmount = errors.New("payments: transferred amount below the required price")
)

// Normalize canonicalizes a payment id: trim whitespace, lowercase,
// strip one leading "tx_" prefix. Two textually different
// representations of the same transaction must collide to the same key.
func Normalize(paymentID string) string {
	id := strings.ToLower(strings.TrimSpace(paymentID))
	id = strings.TrimPrefix(id, txPrefix)
	return id
}

// IsDemo reports whether the id is a free-tier demo id.
func IsDemo(paymentID string) bool {
	return strings.HasPrefix(Normalize(paymentID), DemoPrefix)
}

var txHashRegex = regexp.MustCompile(`^0x[a-f0-9]{64}$`)

// IsTxHash reports whether a normalized payment id is a transaction hash
// the verifier can look up on chain.
func IsTxHash(paymentID string) bool {
	return txHashRegex.MatchString(paymentID)
}

// Record is a tracked payment use. Metadata is informational only.
type Record struct {
	PaymentID string            `json:"paymentId"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Verification is the successful result of on-chain payment verification.
type Verification struct {
	TxHash      string   `json:"txHash"`
	From        string   `json:"from"`
	To          string   `json:"to"`
	AmountRaw   *big.Int `json:"-"`
	Amount      string   `json:"amount"` // human-readable USDC
	BlockNumber uint64   `json:"blockNumber"`
}
