package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config holds the configuration for connecting to the analysis service.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
}

// DetectorClient is a pure HTTP client for the analysis service API.
type DetectorClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewDetectorClient creates a new client for the analysis service.
func NewDetectorClient(cfg Config) *DetectorClient {
	return &DetectorClient{
		cfg: cfg,
		httpClient: &http.Client{
			// Analyses block on extraction and proof generation.
			Timeout: 3 * time.Minute,
		},
	}
}

// CheckResponse is a decoded /check response. On 402 the payment
// details are populated instead of the data.
type CheckResponse struct {
	StatusCode     int
	Data           json.RawMessage
	Reason         string
	ErrorMessage   string
	PaymentDetails json.RawMessage
}

// CheckContract posts an analysis request. A 402 is not an error here:
// callers surface the payment requirements to the LLM.
func (c *DetectorClient) CheckContract(ctx context.Context, contractAddress, chain, paymentID string) (*CheckResponse, error) {
	body := map[string]string{"contractAddress": contractAddress}
	if chain != "" {
		body["chain"] = chain
	}
	if paymentID != "" {
		body["paymentId"] = paymentID
	}

	raw, status, err := c.doRequest(ctx, http.MethodPost, "/check", body)
	if err != nil {
		return nil, err
	}

	resp := &CheckResponse{StatusCode: status}
	var envelope struct {
		Success        bool            `json:"success"`
		Data           json.RawMessage `json:"data"`
		Error          string          `json:"error"`
		Reason         string          `json:"reason"`
		PaymentDetails json.RawMessage `json:"paymentDetails"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	resp.Data = envelope.Data
	resp.Reason = envelope.Reason
	resp.ErrorMessage = envelope.Error
	resp.PaymentDetails = envelope.PaymentDetails
	return resp, nil
}

// VerifyProof posts a proof verification request.
func (c *DetectorClient) VerifyProof(ctx context.Context, proof, features, result json.RawMessage) (json.RawMessage, error) {
	body := map[string]json.RawMessage{
		"proof":    proof,
		"features": features,
		"result":   result,
	}
	raw, status, err := c.doRequest(ctx, http.MethodPost, "/proof/verify", body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("verification request failed (%d): %s", status, string(raw))
	}
	return raw, nil
}

// GetInfo fetches the service info, including payment requirements.
func (c *DetectorClient) GetInfo(ctx context.Context) (json.RawMessage, error) {
	raw, status, err := c.doRequest(ctx, http.MethodGet, "/api", nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("info request failed (%d): %s", status, string(raw))
	}
	return raw, nil
}

func (c *DetectorClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	return json.RawMessage(respBody), resp.StatusCode, nil
}
