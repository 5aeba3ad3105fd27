// Package proof produces and checks inference attestations.
//
// Every analysis ships with an attestation binding the feature input,
// the scored output, and the exact model file through sha256
// commitments. The default backend is commitment-based; when an
// external Jolt Atlas prover binary is configured and healthy it is
// used instead, with the commitment backend as fallback.
package proof

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Protocols emitted in attestations.
const (
	ProtocolJoltAtlas  = "jolt-atlas-v1"
	ProtocolCommitment = "commitment-based-v1"
)

// MaxAge is how long an attestation stays verifiable. Older proofs are
// rejected as stale because the deployed model may have rotated since.
const MaxAge = 30 * 24 * time.Hour

// Rejection reasons returned by Verify alongside valid=false.
const (
	ReasonMissingProof        = "missing_proof"
	ReasonExpired             = "proof_expired"
	ReasonCommitmentMismatch  = "commitment_mismatch"
	ReasonModelMismatch       = "model_mismatch"
	ReasonProofIDMismatch     = "proof_id_mismatch"
	ReasonProofRejected       = "proof_rejected"
	ReasonVerifierUnavailable = "verifier_unavailable"
)

// Attestation binds an analysis to the model that produced it.
// Verified is set by the orchestrator after its own re-verification;
// verifiers must never trust it.
type Attestation struct {
	ProofID          string `json:"proof_id"`
	Protocol         string `json:"protocol"`
	InputCommitment  string `json:"input_commitment"`
	OutputCommitment string `json:"output_commitment"`
	ModelHash        string `json:"model_hash"`
	Timestamp        int64  `json:"timestamp"`
	Verifiable       bool   `json:"verifiable"`
	Verified         bool   `json:"verified"`
	ProofSizeBytes   int    `json:"proof_size_bytes"`
	Description      string `json:"description"`

	// Proof and VerifyingKey carry the hex-encoded zk proof payload on
	// prover attestations. Commitment attestations leave them empty.
	Proof        string `json:"proof,omitempty"`
	VerifyingKey string `json:"verifying_key,omitempty"`
}

// Backend generates and verifies attestations. Verify returns a stable
// rejection reason when valid is false.
type Backend interface {
	Generate(ctx context.Context, input map[string]any, output any) (*Attestation, error)
	Verify(ctx context.Context, att *Attestation, input map[string]any, output any) (valid bool, reason string, err error)
}

// Commit hashes the canonical JSON encoding of v. Map keys are sorted
// by the encoder, so two semantically equal inputs commit identically.
func Commit(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode commitment input: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// proofID derives the attestation id from its binding fields. The id
// covers the commitments, the model hash and the timestamp, so any
// mutation changes it.
func proofID(inputCommitment, outputCommitment, modelHash string, timestamp int64) (string, int, error) {
	b, err := json.Marshal(map[string]any{
		"input_commitment":  inputCommitment,
		"output_commitment": outputCommitment,
		"model_hash":        modelHash,
		"timestamp":         timestamp,
	})
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), len(b), nil
}
