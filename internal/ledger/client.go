package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client is the narrow interface the core uses to talk to the ledger
// network. Signing, sequence handling and balance queries live behind it.
// No retry logic here: retries belong to the reconciliation sweep, which
// re-enters through the idempotency check.
type Client interface {
	// Submit sends a payment from the signing identity to destination and
	// returns the ledger operation id.
	Submit(ctx context.Context, signingSeed, destination string, amount int64, memo string) (string, error)
	// CreateAccount creates destination on the ledger with a starting
	// balance and returns the ledger operation id.
	CreateAccount(ctx context.Context, signingSeed, destination string, startingBalance int64) (string, error)
}

// HTTPClient submits operations to a horizon-style gateway over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type submitRequest struct {
	Channel         string `json:"channel"`
	Destination     string `json:"destination"`
	Amount          int64  `json:"amount,omitempty"`
	Memo            string `json:"memo,omitempty"`
	StartingBalance int64  `json:"starting_balance,omitempty"`
}

type submitResponse struct {
	OperationID string `json:"operation_id"`
	Error       string `json:"error,omitempty"`
}

func (c *HTTPClient) Submit(ctx context.Context, signingSeed, destination string, amount int64, memo string) (string, error) {
	return c.post(ctx, "/payments", submitRequest{
		Channel:     signingSeed,
		Destination: destination,
		Amount:      amount,
		Memo:        memo,
	})
}

func (c *HTTPClient) CreateAccount(ctx context.Context, signingSeed, destination string, startingBalance int64) (string, error) {
	return c.post(ctx, "/accounts", submitRequest{
		Channel:         signingSeed,
		Destination:     destination,
		StartingBalance: startingBalance,
	})
}

func (c *HTTPClient) post(ctx context.Context, path string, payload submitRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decoding ledger response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 || parsed.OperationID == "" {
		return "", fmt.Errorf("ledger rejected operation (status %d): %s", resp.StatusCode, parsed.Error)
	}

	c.logger.Info("ledger operation accepted",
		"path", path,
		"destination", payload.Destination,
		"operation_id", parsed.OperationID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return parsed.OperationID, nil
}
