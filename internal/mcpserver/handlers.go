package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *DetectorClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *DetectorClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckContract runs a paid contract analysis.
func (h *Handlers) HandleCheckContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	contractAddress := req.GetString("contract_address", "")
	if contractAddress == "" {
		return mcp.NewToolResultError("contract_address is required"), nil
	}
	chain := req.GetString("chain", "ethereum")
	paymentID := req.GetString("payment_id", "")

	resp, err := h.client.CheckContract(ctx, contractAddress, chain, paymentID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis request failed: %v", err)), nil
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		return mcp.NewToolResultText(formatPaymentRequired(resp)), nil
	}
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis rejected (%d): %s", resp.StatusCode, resp.ErrorMessage)), nil
	}

	text, err := formatAnalysis(resp.Data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse analysis: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleVerifyProof verifies an inference proof.
func (h *Handlers) HandleVerifyProof(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	proof, err := rawArg(args, "proof")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	features, err := rawArg(args, "features")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := rawArg(args, "result")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := h.client.VerifyProof(ctx, proof, features, result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verification failed: %v", err)), nil
	}

	var body struct {
		Valid   bool   `json:"valid"`
		ProofID string `json:"proofId"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse verification result: %v", err)), nil
	}

	if body.Valid {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Proof %s is VALID. The risk score was produced by the published model from the stated features.",
			body.ProofID)), nil
	}
	text := fmt.Sprintf(
		"Proof %s is INVALID. The features, result, or model do not match the attestation.",
		body.ProofID)
	if body.Reason != "" {
		text += fmt.Sprintf(" (reason: %s)", body.Reason)
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetPaymentInfo fetches the service payment requirements.
func (h *Handlers) HandleGetPaymentInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetInfo(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch payment info: %v", err)), nil
	}

	var info struct {
		Payment struct {
			Currency  string `json:"currency"`
			Amount    string `json:"amount"`
			Network   string `json:"network"`
			ChainID   int64  `json:"chainId"`
			Recipient string `json:"recipient"`
		} `json:"payment"`
		Chains []string `json:"chains"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment info: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Contract analysis costs %s %s per check.\n", info.Payment.Amount, info.Payment.Currency)
	fmt.Fprintf(&b, "Pay on %s (chain id %d) to: %s\n", info.Payment.Network, info.Payment.ChainID, info.Payment.Recipient)
	fmt.Fprintf(&b, "Supported analysis chains: %s\n", strings.Join(info.Chains, ", "))
	b.WriteString("After paying, pass the transaction hash as payment_id to check_contract. Each payment is single-use.")
	return mcp.NewToolResultText(b.String()), nil
}

func rawArg(args map[string]any, key string) (json.RawMessage, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%s is required", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", key, err)
	}
	return raw, nil
}

func formatPaymentRequired(resp *CheckResponse) string {
	var b strings.Builder
	b.WriteString("Payment required before analysis.\n")
	if resp.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", resp.Reason)
	}
	if resp.ErrorMessage != "" {
		fmt.Fprintf(&b, "Detail: %s\n", resp.ErrorMessage)
	}

	var details struct {
		Currency  string `json:"currency"`
		Amount    string `json:"amount"`
		Network   string `json:"network"`
		ChainID   int64  `json:"chainId"`
		Recipient string `json:"recipient"`
	}
	if len(resp.PaymentDetails) > 0 && json.Unmarshal(resp.PaymentDetails, &details) == nil {
		fmt.Fprintf(&b, "Send %s %s on %s (chain id %d) to %s, then retry with the transaction hash as payment_id.",
			details.Amount, details.Currency, details.Network, details.ChainID, details.Recipient)
	}
	return b.String()
}

func formatAnalysis(data json.RawMessage) (string, error) {
	var a struct {
		ContractAddress string             `json:"contractAddress"`
		Chain           string             `json:"chain"`
		RiskScore       float64            `json:"riskScore"`
		RiskCategory    string             `json:"riskCategory"`
		Confidence      float64            `json:"confidence"`
		Probabilities   map[string]float64 `json:"probabilities"`
		Recommendation  string             `json:"recommendation"`
		Proof           *struct {
			ProofID  string `json:"proof_id"`
			Protocol string `json:"protocol"`
		} `json:"proof"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Risk analysis for %s on %s:\n\n", a.ContractAddress, a.Chain)
	fmt.Fprintf(&b, "Risk: %s (score %.2f, confidence %.2f)\n", strings.ToUpper(a.RiskCategory), a.RiskScore, a.Confidence)
	fmt.Fprintf(&b, "Probabilities: low %.3f / medium %.3f / high %.3f\n",
		a.Probabilities["low"], a.Probabilities["medium"], a.Probabilities["high"])
	fmt.Fprintf(&b, "Recommendation: %s\n", a.Recommendation)
	if a.Proof != nil {
		fmt.Fprintf(&b, "\nInference proof %s (%s). Use verify_proof to check it independently.",
			a.Proof.ProofID, a.Proof.Protocol)
	}
	return b.String(), nil
}
