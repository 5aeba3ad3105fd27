package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/hshadab/rugdetector/internal/metrics"
	"github.com/hshadab/rugdetector/internal/retry"
	"github.com/hshadab/rugdetector/internal/usdc"
)

// ERC20 Transfer event signature
var transferEventSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// EthClient is the slice of ethclient.Client the verifier needs.
type EthClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// VerifierConfig describes the payment the service expects.
type VerifierConfig struct {
	RPCURL       string
	USDCContract common.Address
	Recipient    common.Address
	// MinAmount is a decimal USDC string, e.g. "0.10".
	MinAmount string
}

// Verifier confirms that a transaction hash represents a settled USDC
// transfer of at least the configured amount to the service recipient.
type Verifier struct {
	client    EthClient
	config    VerifierConfig
	minAmount *big.Int
	logger    *slog.Logger
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithClient substitutes the RPC client. Used by tests.
func WithClient(c EthClient) VerifierOption {
	return func(v *Verifier) { v.client = c }
}

// NewVerifier connects to the configured RPC endpoint unless a client is
// injected via WithClient.
func NewVerifier(cfg VerifierConfig, logger *slog.Logger, opts ...VerifierOption) (*Verifier, error) {
	min, ok := usdc.Parse(cfg.MinAmount)
	if !ok {
		return nil, fmt.Errorf("invalid minimum amount %q", cfg.MinAmount)
	}

	v := &Verifier{
		config:    cfg,
		minAmount: min,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		v.client = client
	}
	return v, nil
}

// Close releases the underlying RPC connection.
func (v *Verifier) Close() {
	if v.client != nil {
		v.client.Close()
	}
}

// Verify checks the transaction identified by paymentID. The id must be a
// normalized 0x-prefixed transaction hash; anything else is
// ErrMalformedID. Receipt lookups are retried briefly because a freshly
// submitted transaction may not be indexed yet.
func (v *Verifier) Verify(ctx context.Context, paymentID string) (*Verification, error) {
	if !IsTxHash(paymentID) {
		metrics.PaymentVerificationsTotal.WithLabelValues("malformed").Inc()
		return nil, ErrMalformedID
	}
	txHash := common.HexToHash(paymentID)

	var receipt *types.Receipt
	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		r, err := v.client.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			metrics.PaymentVerificationsTotal.WithLabelValues("not_found").Inc()
			return nil, ErrTxNotFound
		}
		metrics.PaymentVerificationsTotal.WithLabelValues("rpc_error").Inc()
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.PaymentVerificationsTotal.WithLabelValues("tx_failed").Inc()
		return nil, ErrTxFailed
	}

	// Scan USDC Transfer logs for a payment to our recipient.
	// Topics[1] = from, Topics[2] = to, Data = amount.
	var (
		sawRecipient bool
		best         *Verification
	)
	for _, vLog := range receipt.Logs {
		if vLog.Address != v.config.USDCContract {
			continue
		}
		if len(vLog.Topics) < 3 || vLog.Topics[0] != transferEventSig {
			continue
		}
		to := common.BytesToAddress(vLog.Topics[2].Bytes())
		if to != v.config.Recipient {
			continue
		}
		sawRecipient = true

		amount := new(big.Int).SetBytes(vLog.Data)
		if amount.Cmp(v.minAmount) < 0 {
			continue
		}

		from := common.BytesToAddress(vLog.Topics[1].Bytes())
		best = &Verification{
			TxHash:      txHash.Hex(),
			From:        from.Hex(),
			To:          to.Hex(),
			AmountRaw:   amount,
			Amount:      usdc.Format(amount),
			BlockNumber: receipt.BlockNumber.Uint64(),
		}
		break
	}

	if best == nil {
		if sawRecipient {
			metrics.PaymentVerificationsTotal.WithLabelValues("insufficient_amount").Inc()
			return nil, ErrInsufficientAmount
		}
		metrics.PaymentVerificationsTotal.WithLabelValues("wrong_recipient").Inc()
		return nil, ErrWrongRecipient
	}

	metrics.PaymentVerificationsTotal.WithLabelValues("success").Inc()
	v.logger.Info("payment verified",
		"tx", best.TxHash,
		"from", best.From,
		"amount", best.Amount,
		"block", best.BlockNumber,
	)
	return best, nil
}
