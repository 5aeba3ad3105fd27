package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PayFunc settles a payment matching the given requirement and returns
// the transaction hash. Implementations typically submit an on-chain
// USDC transfer and wait for confirmation.
type PayFunc func(ctx context.Context, req *PaymentRequirement) (txHash string, err error)

// Client wraps http.Client with automatic 402 payment handling.
type Client struct {
	httpClient *http.Client
	pay        PayFunc

	// MaxRetries is the max payment retries after a 402 (default: 1).
	MaxRetries int
	// MaxAmount, if set, refuses payments above this USDC amount.
	MaxAmount string

	// OnPayment is called after each successful payment, before the retry.
	OnPayment func(req *PaymentRequirement, txHash string)
}

// NewClient creates an x402-enabled HTTP client. pay is invoked whenever
// a server answers 402; pass nil to surface 402 responses unchanged.
func NewClient(pay PayFunc) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pay:        pay,
		MaxRetries: 1,
	}
}

// Do performs an HTTP request with automatic 402 payment handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoContext(req.Context(), req)
}

// DoContext performs an HTTP request with context and automatic 402 handling.
func (c *Client) DoContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	// Buffer the request body in case we need to retry with payment.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		_ = req.Body.Close()
	}

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode != http.StatusPaymentRequired || c.pay == nil {
			return resp, nil
		}

		requirement, err := ParsePaymentRequirement(resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("unparseable 402 response: %w", err)
		}

		if c.MaxAmount != "" && cmpDecimal(requirement.Amount, c.MaxAmount) > 0 {
			return nil, fmt.Errorf("server asks %s %s, above client limit %s",
				requirement.Amount, requirement.Currency, c.MaxAmount)
		}

		txHash, err := c.pay(ctx, requirement)
		if err != nil {
			return nil, fmt.Errorf("payment failed: %w", err)
		}

		if c.OnPayment != nil {
			c.OnPayment(requirement, txHash)
		}

		env := &PaymentEnvelope{
			Scheme:   requirement.Scheme,
			Network:  requirement.Network,
			Currency: requirement.Currency,
			Amount:   requirement.Amount,
			TxHash:   txHash,
		}
		if err := AddEnvelopeToRequest(req, env); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("still receiving 402 after %d payment attempts", c.MaxRetries)
}

// cmpDecimal compares two non-negative decimal strings.
// Returns -1, 0, or 1. Malformed inputs compare as zero.
func cmpDecimal(a, b string) int {
	fa := parseDecimal(a)
	fb := parseDecimal(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}

func parseDecimal(s string) float64 {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	if err != nil {
		return 0
	}
	return v
}
