package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hshadab/rugdetector/internal/metrics"
)

// noModelHash is used when the model file cannot be read, so the
// service can still attest what it ran against an absent file.
const noModelHash = "no-model"

// CommitmentBackend produces commitment attestations. It is the
// always-available baseline: no external prover, just sha256 bindings.
type CommitmentBackend struct {
	modelPath string
	logger    *slog.Logger
	now       func() time.Time

	hashOnce  sync.Once
	modelHash string
}

// CommitmentOption configures the backend.
type CommitmentOption func(*CommitmentBackend)

// WithCommitmentClock overrides the time source (for tests).
func WithCommitmentClock(now func() time.Time) CommitmentOption {
	return func(b *CommitmentBackend) { b.now = now }
}

// NewCommitmentBackend creates a backend attesting against the model
// file at modelPath. The model hash is computed once and cached; the
// file is assumed immutable for the process lifetime.
func NewCommitmentBackend(modelPath string, logger *slog.Logger, opts ...CommitmentOption) *CommitmentBackend {
	b := &CommitmentBackend{
		modelPath: modelPath,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ModelHash returns the cached sha256 of the model file.
func (b *CommitmentBackend) ModelHash() string {
	b.hashOnce.Do(func() {
		b.modelHash = hashFile(b.modelPath)
		if b.modelHash == noModelHash {
			b.logger.Warn("model file unreadable, attestations use placeholder hash",
				"path", b.modelPath)
		}
	})
	return b.modelHash
}

func (b *CommitmentBackend) Generate(_ context.Context, input map[string]any, output any) (*Attestation, error) {
	start := time.Now()

	inputCommitment, err := Commit(input)
	if err != nil {
		metrics.ProofsTotal.WithLabelValues("commitment", "error").Inc()
		return nil, err
	}
	outputCommitment, err := Commit(output)
	if err != nil {
		metrics.ProofsTotal.WithLabelValues("commitment", "error").Inc()
		return nil, err
	}

	modelHash := b.ModelHash()
	timestamp := b.now().Unix()
	id, size, err := proofID(inputCommitment, outputCommitment, modelHash, timestamp)
	if err != nil {
		metrics.ProofsTotal.WithLabelValues("commitment", "error").Inc()
		return nil, err
	}

	metrics.ProofGenerationDuration.WithLabelValues("commitment").Observe(time.Since(start).Seconds())
	metrics.ProofsTotal.WithLabelValues("commitment", "success").Inc()

	return &Attestation{
		ProofID:          id,
		Protocol:         ProtocolCommitment,
		InputCommitment:  inputCommitment,
		OutputCommitment: outputCommitment,
		ModelHash:        modelHash,
		Timestamp:        timestamp,
		Verifiable:       true,
		ProofSizeBytes:   size,
		Description:      "Commitment proof binds the analysis to the exact model, input and output",
	}, nil
}

// Verify recomputes both commitments from the presented input and
// output, checks them and the model hash against the attestation, and
// rejects attestations older than MaxAge.
func (b *CommitmentBackend) Verify(_ context.Context, att *Attestation, input map[string]any, output any) (bool, string, error) {
	if att == nil {
		return false, ReasonMissingProof, nil
	}

	age := b.now().Sub(time.Unix(att.Timestamp, 0))
	if age > MaxAge || age < 0 {
		metrics.ProofVerificationsTotal.WithLabelValues("stale").Inc()
		return false, ReasonExpired, nil
	}

	inputCommitment, err := Commit(input)
	if err != nil {
		return false, "", err
	}
	outputCommitment, err := Commit(output)
	if err != nil {
		return false, "", err
	}

	if b.ModelHash() != att.ModelHash {
		metrics.ProofVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, ReasonModelMismatch, nil
	}
	if inputCommitment != att.InputCommitment || outputCommitment != att.OutputCommitment {
		metrics.ProofVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, ReasonCommitmentMismatch, nil
	}

	expectedID, _, err := proofID(att.InputCommitment, att.OutputCommitment, att.ModelHash, att.Timestamp)
	if err != nil {
		return false, "", err
	}
	if expectedID != att.ProofID {
		metrics.ProofVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, ReasonProofIDMismatch, nil
	}

	metrics.ProofVerificationsTotal.WithLabelValues("valid").Inc()
	return true, "", nil
}

func hashFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return noModelHash
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return noModelHash
	}
	return hex.EncodeToString(h.Sum(nil))
}
