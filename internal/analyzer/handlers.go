package analyzer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hshadab/rugdetector/internal/features"
	"github.com/hshadab/rugdetector/internal/inference"
	"github.com/hshadab/rugdetector/internal/logging"
	"github.com/hshadab/rugdetector/internal/proof"
	"github.com/hshadab/rugdetector/internal/validation"
	"github.com/hshadab/rugdetector/pkg/x402"
)

// CheckRequest is the POST /check body.
type CheckRequest struct {
	PaymentID       string `json:"paymentId"`
	ContractAddress string `json:"contractAddress"`
	Chain           string `json:"chain"`
}

// VerifyProofRequest is the POST /proof/verify body.
type VerifyProofRequest struct {
	Proof    *proof.Attestation `json:"proof" binding:"required"`
	Features map[string]any     `json:"features" binding:"required"`
	Result   *inference.Result  `json:"result" binding:"required"`
}

// Handlers exposes the analysis pipeline over HTTP.
type Handlers struct {
	service     *Service
	requirement x402.PaymentRequirement
}

// NewHandlers creates HTTP handlers. The requirement describes the
// payment announced in 402 responses.
func NewHandlers(service *Service, requirement x402.PaymentRequirement) *Handlers {
	return &Handlers{service: service, requirement: requirement}
}

// RegisterRoutes mounts the analysis endpoints on the router group.
func (h *Handlers) RegisterRoutes(r gin.IRoutes) {
	r.POST("/check", h.Check)
	r.POST("/proof/verify", h.VerifyProof)
}

// Check handles POST /check: validate, run the payment gates, analyze.
func (h *Handlers) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid JSON body",
		})
		return
	}

	if req.Chain == "" {
		req.Chain = "ethereum"
	}
	req.ContractAddress = validation.SanitizeAddress(req.ContractAddress)

	// Validation runs before any payment state is touched: a rejected
	// request must never burn a payment id.
	if errs := validation.Validate(
		validation.Required("contractAddress", req.ContractAddress),
		validation.SupportedChain("chain", req.Chain),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "validation failed",
			"details": errs,
		})
		return
	}
	if !validation.IsValidContractAddress(req.ContractAddress, req.Chain) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error":   "contractAddress is not a valid address for the declared chain",
		})
		return
	}

	paymentID := h.resolvePaymentID(c, &req)
	if paymentID == "" {
		h.respond402(c, ReasonMissingPayment, "payment required: supply paymentId or an X-Payment header")
		return
	}

	ctx := c.Request.Context()
	if _, payErr := h.service.ProcessPayment(ctx, paymentID); payErr != nil {
		h.respond402(c, payErr.Reason, payErr.Message)
		return
	}

	analysis, err := h.service.Analyze(ctx, req.ContractAddress, req.Chain)
	if err != nil {
		status := http.StatusInternalServerError
		message := "analysis failed"
		switch {
		case errors.Is(err, ErrExtractionUnavailable):
			status = http.StatusServiceUnavailable
			message = "analysis temporarily unavailable for this chain"
		case errors.Is(err, features.ErrExtractionTimeout):
			message = "feature extraction timed out"
		}
		logging.L(ctx).Error("analysis failed",
			"contract", req.ContractAddress,
			"chain", req.Chain,
			"error", err,
		)
		c.JSON(status, gin.H{
			"success": false,
			"error":   message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    analysis,
	})
}

// resolvePaymentID prefers the body's paymentId and falls back to the
// x402 request header envelope.
func (h *Handlers) resolvePaymentID(c *gin.Context, req *CheckRequest) string {
	if req.PaymentID != "" {
		return req.PaymentID
	}
	header := c.GetHeader(x402.PaymentHeader)
	if header == "" {
		return ""
	}
	env, err := x402.DecodeEnvelope(header)
	if err != nil {
		logging.L(c.Request.Context()).Warn("invalid payment header", "error", err)
		return ""
	}
	return env.TxHash
}

// respond402 emits the x402 payment challenge: machine-readable
// requirement in the header, human-readable detail in the body.
func (h *Handlers) respond402(c *gin.Context, reason, message string) {
	if encoded, err := x402.EncodeRequirement(&h.requirement); err == nil {
		c.Header(x402.PaymentRequiredHeader, encoded)
	}
	c.JSON(http.StatusPaymentRequired, gin.H{
		"success":        false,
		"error":          message,
		"reason":         reason,
		"paymentDetails": h.requirement,
	})
}

// VerifyProof handles POST /proof/verify.
func (h *Handlers) VerifyProof(c *gin.Context) {
	var req VerifyProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "proof, features and result are required",
		})
		return
	}

	valid, reason, err := h.service.VerifyProof(c.Request.Context(), req.Proof, req.Features, req.Result)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "proof verification failed",
		})
		return
	}

	resp := gin.H{
		"success":    true,
		"valid":      valid,
		"proofId":    req.Proof.ProofID,
		"verifiedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if !valid && reason != "" {
		resp["reason"] = reason
	}
	c.JSON(http.StatusOK, resp)
}
