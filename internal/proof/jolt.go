package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/hshadab/rugdetector/internal/metrics"
)

// JoltBackend shells out to the Jolt Atlas prover binary. Any prover
// failure degrades to the commitment backend rather than failing the
// analysis; the attestation's protocol field records which path ran.
type JoltBackend struct {
	binary        string
	modelPath     string
	proveTimeout  time.Duration
	verifyTimeout time.Duration
	fallback      *CommitmentBackend
	logger        *slog.Logger
	available     bool
}

// joltOutput is what the prover binary prints on stdout.
type joltOutput struct {
	ProofID          string `json:"proof_id"`
	InputCommitment  string `json:"input_commitment"`
	OutputCommitment string `json:"output_commitment"`
	ModelHash        string `json:"model_hash"`
	ProofSizeBytes   int    `json:"proof_size_bytes"`
	Proof            string `json:"proof"`
	VerifyingKey     string `json:"verifying_key"`
}

// NewJoltBackend wires the prover binary with a commitment fallback.
// A missing binary is detected at construction and logged once; the
// backend then runs permanently in fallback mode.
func NewJoltBackend(binary, modelPath string, proveTimeout, verifyTimeout time.Duration, fallback *CommitmentBackend, logger *slog.Logger) *JoltBackend {
	b := &JoltBackend{
		binary:        binary,
		modelPath:     modelPath,
		proveTimeout:  proveTimeout,
		verifyTimeout: verifyTimeout,
		fallback:      fallback,
		logger:        logger,
	}
	if binary == "" {
		return b
	}
	if _, err := os.Stat(binary); err != nil {
		logger.Warn("prover binary not found, using commitment proofs",
			"binary", binary, "error", err)
		return b
	}
	b.available = true
	return b
}

func (b *JoltBackend) Generate(ctx context.Context, input map[string]any, output any) (*Attestation, error) {
	if !b.available {
		return b.fallback.Generate(ctx, input, output)
	}

	att, err := b.prove(ctx, input, output)
	if err != nil {
		b.logger.Warn("prover failed, falling back to commitment proof", "error", err)
		metrics.ProofsTotal.WithLabelValues("jolt", "fallback").Inc()
		return b.fallback.Generate(ctx, input, output)
	}
	return att, nil
}

func (b *JoltBackend) prove(ctx context.Context, input map[string]any, output any) (*Attestation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, b.proveTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"features": input,
		"result":   output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prover input: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.binary, "prove", "--model", b.modelPath)
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("prover run failed: %w (stderr: %s)", err, stderr.String())
	}

	var out joltOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("prover produced invalid JSON: %w", err)
	}
	// Without the proof payload nobody can ever verify the attestation,
	// so treat it as a prover failure and let Generate fall back.
	if out.Proof == "" || out.VerifyingKey == "" {
		return nil, fmt.Errorf("prover omitted proof payload")
	}

	metrics.ProofGenerationDuration.WithLabelValues("jolt").Observe(time.Since(start).Seconds())
	metrics.ProofsTotal.WithLabelValues("jolt", "success").Inc()

	return &Attestation{
		ProofID:          out.ProofID,
		Protocol:         ProtocolJoltAtlas,
		InputCommitment:  out.InputCommitment,
		OutputCommitment: out.OutputCommitment,
		ModelHash:        out.ModelHash,
		Timestamp:        time.Now().Unix(),
		Verifiable:       true,
		ProofSizeBytes:   out.ProofSizeBytes,
		Proof:            out.Proof,
		VerifyingKey:     out.VerifyingKey,
		Description:      "Jolt Atlas proof of correct model execution without revealing weights",
	}, nil
}

// Available reports whether the prover binary was found at startup.
func (b *JoltBackend) Available() bool {
	return b.available
}

// Verify dispatches on the attestation protocol. Commitment
// attestations are recomputed locally; prover attestations are handed
// to the prover's own verifier subprocess. Nothing self-reported in
// the attestation is trusted.
func (b *JoltBackend) Verify(ctx context.Context, att *Attestation, input map[string]any, output any) (bool, string, error) {
	if att != nil && att.Protocol == ProtocolJoltAtlas {
		return b.verifyJolt(ctx, att, output)
	}
	return b.fallback.Verify(ctx, att, input, output)
}

func (b *JoltBackend) verifyJolt(ctx context.Context, att *Attestation, output any) (bool, string, error) {
	age := time.Since(time.Unix(att.Timestamp, 0))
	if age > MaxAge || age < 0 {
		metrics.ProofVerificationsTotal.WithLabelValues("stale").Inc()
		return false, ReasonExpired, nil
	}
	if att.ModelHash != b.fallback.ModelHash() {
		metrics.ProofVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, ReasonModelMismatch, nil
	}
	if att.Proof == "" || att.VerifyingKey == "" {
		metrics.ProofVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, ReasonMissingProof, nil
	}
	if !b.available {
		metrics.ProofVerificationsTotal.WithLabelValues("unavailable").Inc()
		return false, ReasonVerifierUnavailable, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.verifyTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{
		"proof":         att.Proof,
		"verifying_key": att.VerifyingKey,
		"output":        output,
	})
	if err != nil {
		return false, "", fmt.Errorf("failed to encode verifier input: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.binary, "verify")
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		metrics.ProofVerificationsTotal.WithLabelValues("error").Inc()
		return false, "", fmt.Errorf("verifier run failed: %w (stderr: %s)", err, stderr.String())
	}

	var verdict struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &verdict); err != nil {
		metrics.ProofVerificationsTotal.WithLabelValues("error").Inc()
		return false, "", fmt.Errorf("verifier produced invalid JSON: %w", err)
	}
	if !verdict.Valid {
		metrics.ProofVerificationsTotal.WithLabelValues("rejected").Inc()
		return false, ReasonProofRejected, nil
	}

	metrics.ProofVerificationsTotal.WithLabelValues("valid").Inc()
	return true, "", nil
}
