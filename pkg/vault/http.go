package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relves/vaultgate/pkg/types"
)

// HTTPClient forwards transfers to a custody webhook as JSON.
type HTTPClient struct {
	url        string
	token      string
	httpClient *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithToken sends token as a bearer credential.
func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// NewHTTPClient creates a client posting to url.
func NewHTTPClient(url string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transferRequest struct {
	From      string          `json:"from"`
	To        types.Principal `json:"to"`
	Amount    uint64          `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// Transfer posts the transfer and treats any non-2xx response as failure.
func (c *HTTPClient) Transfer(ctx context.Context, from string, to types.Principal, amount uint64) error {
	ref, _ := ReferenceFrom(ctx)
	body, err := json.Marshal(transferRequest{From: from, To: to, Amount: amount, Reference: ref})
	if err != nil {
		return fmt.Errorf("failed to encode transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ref != "" {
		req.Header.Set("Idempotency-Key", ref)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("custody returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

var _ Transferer = (*HTTPClient)(nil)
