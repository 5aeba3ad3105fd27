// Package x402 implements the payment envelope types used by the
// HTTP 402 flow: servers announce payment requirements in a response
// header, clients present settled payments in a request header. Both
// directions carry base64-encoded JSON envelopes.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// Header names for the x402 exchange.
const (
	// PaymentHeader carries the client's payment envelope on requests.
	PaymentHeader = "X-Payment"
	// PaymentRequiredHeader carries the server's requirement envelope on 402 responses.
	PaymentRequiredHeader = "X-Payment-Required"
)

// PaymentRequirement is returned by servers in 402 responses.
type PaymentRequirement struct {
	Scheme      string `json:"scheme"` // always "exact" for this service
	Network     string `json:"network"`
	ChainID     int64  `json:"chainId,omitempty"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
	Description string `json:"description,omitempty"`
}

// PaymentEnvelope is sent by clients to present a settled payment.
type PaymentEnvelope struct {
	Scheme   string `json:"scheme"`
	Network  string `json:"network"`
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
	TxHash   string `json:"txHash"`
}

// Error represents an x402 error response.
type Error struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// EncodeRequirement serializes a requirement for the 402 response header.
func EncodeRequirement(req *PaymentRequirement) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal requirement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeRequirement parses a requirement from a 402 response header value.
func DecodeRequirement(header string) (*PaymentRequirement, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode requirement header: %w", err)
	}
	var req PaymentRequirement
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse requirement: %w", err)
	}
	return &req, nil
}

// EncodeEnvelope serializes a payment envelope for the request header.
func EncodeEnvelope(env *PaymentEnvelope) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeEnvelope parses a payment envelope from a request header value.
func DecodeEnvelope(header string) (*PaymentEnvelope, error) {
	data, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payment header: %w", err)
	}
	var env PaymentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse payment envelope: %w", err)
	}
	if env.TxHash == "" {
		return nil, fmt.Errorf("payment envelope missing txHash")
	}
	return &env, nil
}

// Is402Response checks if an HTTP response is a 402 Payment Required.
func Is402Response(resp *http.Response) bool {
	return resp.StatusCode == http.StatusPaymentRequired
}

// ParsePaymentRequirement extracts payment requirements from a 402 response.
// It prefers the header envelope and falls back to the JSON body's
// paymentDetails object.
func ParsePaymentRequirement(resp *http.Response) (*PaymentRequirement, error) {
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, fmt.Errorf("not a 402 response: got %d", resp.StatusCode)
	}

	if header := resp.Header.Get(PaymentRequiredHeader); header != "" {
		return DecodeRequirement(header)
	}

	var body struct {
		PaymentDetails *PaymentRequirement `json:"paymentDetails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to read 402 body: %w", err)
	}
	if body.PaymentDetails == nil {
		return nil, fmt.Errorf("402 response carries no payment details")
	}
	return body.PaymentDetails, nil
}

// AddEnvelopeToRequest attaches the payment envelope header to an HTTP request.
func AddEnvelopeToRequest(req *http.Request, env *PaymentEnvelope) error {
	header, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	req.Header.Set(PaymentHeader, header)
	return nil
}
