package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	spltransfer "github.com/pai-labs/spltransfer"
	"github.com/pai-labs/spltransfer/journal"
)

// ClientConfig configures the API client
type ClientConfig struct {
	// URL is the base URL of a running server
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

// Client calls a remote Server
type Client struct {
	url        string
	httpClient *http.Client
}

// readRetries is the number of attempts for idempotent reads answered with 429
const readRetries = 3

// readRetryBaseDelay is the base delay for exponential backoff on retries
const readRetryBaseDelay = 1 * time.Second

// NewClient creates an API client
func NewClient(config ClientConfig) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("server url is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{url: config.URL, httpClient: httpClient}, nil
}

// Transfer submits a transfer. Ledger failures come back as
// *spltransfer.LedgerError, so errors.Is works across the wire.
func (c *Client) Transfer(ctx context.Context, body TransferBody) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", body, &resp, 1); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnsureAccount provisions owner's sub-account for mint
func (c *Client) EnsureAccount(ctx context.Context, body EnsureAccountBody) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/accounts", body, &resp, 1); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balances returns the balances of owner
func (c *Client) Balances(ctx context.Context, owner string) (*BalancesResponse, error) {
	var resp BalancesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/balances/"+url.PathEscape(owner), nil, &resp, readRetries); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransfer returns the journaled entry of requestID
func (c *Client) GetTransfer(ctx context.Context, requestID string) (*journal.Entry, error) {
	var resp journal.Entry
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(requestID), nil, &resp, readRetries); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReleaseTransfer reopens requestID after its unknown outcome was reconciled
func (c *Client) ReleaseTransfer(ctx context.Context, requestID string) (*journal.Entry, error) {
	var resp journal.Entry
	if err := c.do(ctx, http.MethodPost, "/v1/transfers/"+url.PathEscape(requestID)+"/release", nil, &resp, 1); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, attempts int) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := range attempts {
		req, err := http.NewRequestWithContext(ctx, method, c.url+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return spltransfer.WrapLedgerError(spltransfer.ErrCodeTransport, method+" "+path+" failed", err)
		}
		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}

		lastErr = decodeError(resp.StatusCode, responseBody)

		if resp.StatusCode == http.StatusTooManyRequests && attempt < attempts-1 {
			delay := readRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return lastErr
	}
	return lastErr
}

func decodeError(status int, body []byte) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Code == "" {
		return fmt.Errorf("server returned %d: %s", status, string(body))
	}
	switch errResp.Code {
	case CodeBadRequest, CodeNotFound, CodeConflict, CodeInternal:
		return fmt.Errorf("server returned %d (%s): %s", status, errResp.Code, errResp.Message)
	}
	return spltransfer.NewLedgerError(errResp.Code, errResp.Message, errResp.Details)
}
