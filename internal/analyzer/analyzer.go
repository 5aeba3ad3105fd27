// Package analyzer orchestrates the paid analysis pipeline: payment
// gates, feature extraction, inference and proof generation.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hshadab/rugdetector/internal/circuitbreaker"
	"github.com/hshadab/rugdetector/internal/features"
	"github.com/hshadab/rugdetector/internal/inference"
	"github.com/hshadab/rugdetector/internal/logging"
	"github.com/hshadab/rugdetector/internal/metrics"
	"github.com/hshadab/rugdetector/internal/payments"
	"github.com/hshadab/rugdetector/internal/proof"
	"github.com/hshadab/rugdetector/internal/traces"
)

// Payment rejection reasons, surfaced in 402 response bodies.
const (
	ReasonMissingPayment     = "missing_payment"
	ReasonMalformedPaymentID = "malformed_payment_id"
	ReasonPaymentNotFound    = "payment_not_found"
	ReasonPaymentFailed      = "payment_failed"
	ReasonWrongRecipient     = "wrong_recipient"
	ReasonInsufficientAmount = "insufficient_amount"
	ReasonPaymentAlreadyUsed = "payment_already_used"
	ReasonPaymentRaceLost    = "payment_race_lost"
)

// paymentVerifyTimeout bounds the on-chain verification RPC round trips.
const paymentVerifyTimeout = 10 * time.Second

// ErrExtractionUnavailable is returned when the extraction circuit for
// a chain is open.
var ErrExtractionUnavailable = errors.New("analyzer: feature extraction temporarily unavailable")

// PaymentError is a typed payment gate rejection. The Reason is a
// stable machine-readable token; Message is for humans.
type PaymentError struct {
	Reason  string
	Message string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment rejected (%s): %s", e.Reason, e.Message)
}

// PaymentVerifier confirms a payment id on chain.
type PaymentVerifier interface {
	Verify(ctx context.Context, paymentID string) (*payments.Verification, error)
}

// Analysis is the full result of a paid contract check.
type Analysis struct {
	ContractAddress string             `json:"contractAddress"`
	Chain           string             `json:"chain"`
	RiskScore       float64            `json:"riskScore"`
	RiskCategory    string             `json:"riskCategory"`
	Confidence      float64            `json:"confidence"`
	Probabilities   map[string]float64 `json:"probabilities"`
	Features        map[string]any     `json:"features"`
	Recommendation  string             `json:"recommendation"`
	Timestamp       string             `json:"timestamp"`
	Proof           *proof.Attestation `json:"proof,omitempty"`
	ProofError      string             `json:"proofError,omitempty"`
}

// Service runs the analysis pipeline.
type Service struct {
	tracker   *payments.Tracker
	verifier  PaymentVerifier
	extractor features.Extractor
	engine    *inference.Engine
	proofs    proof.Backend
	breaker   *circuitbreaker.Breaker
	logger    *slog.Logger
}

// NewService wires the pipeline stages together. The circuit breaker
// guards the extraction subprocess per chain.
func NewService(
	tracker *payments.Tracker,
	verifier PaymentVerifier,
	extractor features.Extractor,
	engine *inference.Engine,
	proofs proof.Backend,
	logger *slog.Logger,
) *Service {
	return &Service{
		tracker:   tracker,
		verifier:  verifier,
		extractor: extractor,
		engine:    engine,
		proofs:    proofs,
		breaker:   circuitbreaker.New(5, 30*time.Second),
		logger:    logger,
	}
}

// ProcessPayment runs both payment gates for a payment id: replay
// check, on-chain verification, then the atomic mark-used. Demo ids
// bypass everything. A nil return means the caller may proceed; the
// payment id is burned at that point.
func (s *Service) ProcessPayment(ctx context.Context, paymentID string) (*payments.Verification, *PaymentError) {
	if payments.IsDemo(paymentID) {
		logging.L(ctx).Info("demo payment accepted", "payment_id", payments.Normalize(paymentID))
		return nil, nil
	}

	id := payments.Normalize(paymentID)
	ctx, span := traces.StartSpan(ctx, "payment.process", traces.PaymentID(id))
	defer span.End()

	// Gate 1: replay. Checked before the RPC round trip so reused ids
	// fail fast and cost nothing.
	if s.tracker.IsUsed(ctx, id) {
		metrics.ReplayRejectionsTotal.Inc()
		return nil, &PaymentError{
			Reason:  ReasonPaymentAlreadyUsed,
			Message: "this payment has already been used for an analysis",
		}
	}

	// Gate 2: on-chain verification.
	verifyCtx, cancel := context.WithTimeout(ctx, paymentVerifyTimeout)
	defer cancel()

	verification, err := s.verifier.Verify(verifyCtx, id)
	if err != nil {
		return nil, paymentErrorFrom(err)
	}

	// Burn the id only after verification succeeded, atomically. Losing
	// here means a concurrent request with the same id won the race.
	if !s.tracker.MarkUsed(ctx, id, map[string]string{"tx": verification.TxHash}) {
		metrics.ReplayRejectionsTotal.Inc()
		return nil, &PaymentError{
			Reason:  ReasonPaymentRaceLost,
			Message: "a concurrent request already consumed this payment",
		}
	}

	return verification, nil
}

func paymentErrorFrom(err error) *PaymentError {
	switch {
	case errors.Is(err, payments.ErrMalformedID):
		return &PaymentError{
			Reason:  ReasonMalformedPaymentID,
			Message: "payment id must be a 0x-prefixed transaction hash",
		}
	case errors.Is(err, payments.ErrTxNotFound):
		return &PaymentError{
			Reason:  ReasonPaymentNotFound,
			Message: "transaction not found on chain",
		}
	case errors.Is(err, payments.ErrTxFailed):
		return &PaymentError{
			Reason:  ReasonPaymentFailed,
			Message: "transaction reverted on chain",
		}
	case errors.Is(err, payments.ErrWrongRecipient):
		return &PaymentError{
			Reason:  ReasonWrongRecipient,
			Message: "no USDC transfer to the payment recipient found in this transaction",
		}
	case errors.Is(err, payments.ErrInsufficientAmount):
		return &PaymentError{
			Reason:  ReasonInsufficientAmount,
			Message: "transferred amount is below the required price",
		}
	default:
		// RPC trouble is not the client's fault, but the payment cannot
		// be confirmed, so the request is still rejected unburned.
		return &PaymentError{
			Reason:  ReasonPaymentNotFound,
			Message: "payment verification is temporarily unavailable, the payment was not consumed",
		}
	}
}

// Analyze runs extraction, inference and proof generation for an
// already-paid request. Proof generation failures degrade the response
// rather than failing it; the analysis itself is still sound.
func (s *Service) Analyze(ctx context.Context, contractAddress, chain string) (*Analysis, error) {
	ctx, span := traces.StartSpan(ctx, "analyze",
		traces.Contract(contractAddress), traces.Chain(chain))
	defer span.End()

	named, err := s.extract(ctx, contractAddress, chain)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(chain, "extraction_failed").Inc()
		return nil, err
	}

	vector := features.ToVector(named, logging.L(ctx))
	result, err := s.engine.Score(vector)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(chain, "inference_failed").Inc()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	analysis := &Analysis{
		ContractAddress: contractAddress,
		Chain:           chain,
		RiskScore:       result.RiskScore,
		RiskCategory:    result.RiskCategory,
		Confidence:      result.Confidence,
		Probabilities:   result.Probabilities,
		Features:        named,
		Recommendation:  inference.Recommendation(result.RiskCategory),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	att, err := s.proofs.Generate(ctx, named, result)
	if err != nil {
		logging.L(ctx).Warn("proof generation failed, returning unproven analysis",
			"contract", contractAddress, "error", err)
		analysis.ProofError = "proof generation failed"
	} else {
		// Re-verify before attaching; Verified is never the generator's
		// own claim.
		valid, reason, verr := s.proofs.Verify(ctx, att, named, result)
		att.Verified = verr == nil && valid
		if !att.Verified {
			logging.L(ctx).Warn("local proof verification failed",
				"proof_id", att.ProofID, "reason", reason, "error", verr)
		}
		analysis.Proof = att
		span.SetAttributes(traces.ProofID(att.ProofID))
	}

	metrics.AnalysesTotal.WithLabelValues(chain, "success").Inc()
	span.SetAttributes(traces.RiskCategory(result.RiskCategory))

	logging.L(ctx).Info("analysis complete",
		"contract", contractAddress,
		"chain", chain,
		"category", result.RiskCategory,
		"score", result.RiskScore,
	)
	return analysis, nil
}

func (s *Service) extract(ctx context.Context, contractAddress, chain string) (map[string]any, error) {
	if !s.breaker.Allow(chain) {
		return nil, ErrExtractionUnavailable
	}

	ctx, span := traces.StartSpan(ctx, "features.extract",
		traces.Contract(contractAddress), traces.Chain(chain))
	defer span.End()

	named, err := s.extractor.Extract(ctx, contractAddress, chain)
	if err != nil {
		s.breaker.RecordFailure(chain)
		return nil, fmt.Errorf("feature extraction failed: %w", err)
	}
	s.breaker.RecordSuccess(chain)
	return named, nil
}

// VerifyProof checks an attestation against the presented features and
// result. The reason names the first failed check when valid is false.
func (s *Service) VerifyProof(ctx context.Context, att *proof.Attestation, input map[string]any, output any) (bool, string, error) {
	ctx, span := traces.StartSpan(ctx, "proof.verify")
	if att != nil {
		span.SetAttributes(traces.ProofID(att.ProofID))
	}
	defer span.End()

	return s.proofs.Verify(ctx, att, input, output)
}
