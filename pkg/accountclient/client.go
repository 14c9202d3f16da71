/**
 * @description
 * This package provides the client for the remote account service, the sole
 * owner of account balances. Every balance change is a single remote call
 * trusted to be atomic on the account service's side; this client never
 * retries, and a timeout is treated by callers like any other failure of
 * that step.
 */
package accountclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Failure modes surfaced distinctly to callers. Anything else from the
// account service is a generic remote call failure.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotActive  = errors.New("account not active")
	ErrAccountNotFound   = errors.New("account not found")
)

const internalAPIKeyHeader = "X-Internal-API-Key"

// Client is a client for the account service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new account service client. The HTTP client timeout
// bounds every remote call so the saga orchestrator never blocks
// indefinitely on a step.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Balance is the account snapshot returned by the account service.
type Balance struct {
	AccountID     int64           `json:"account_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	CustomerID    int64           `json:"customer_id"`
	Status        string          `json:"status"`
}

type movementRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Debit withdraws amount from the account, tagged with reference.
func (c *Client) Debit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error {
	return c.postMovement(ctx, accountID, "withdraw", amount, reference)
}

// Credit deposits amount into the account, tagged with reference.
func (c *Client) Credit(ctx context.Context, accountID int64, amount decimal.Decimal, reference string) error {
	return c.postMovement(ctx, accountID, "deposit", amount, reference)
}

// GetBalance fetches the current account snapshot.
func (c *Client) GetBalance(ctx context.Context, accountID int64) (*Balance, error) {
	url := fmt.Sprintf("%s/api/v1/accounts/%d", c.baseURL, accountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to account service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.mapError(resp, accountID)
	}

	var balance Balance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, fmt.Errorf("failed to decode account response: %w", err)
	}
	return &balance, nil
}

func (c *Client) postMovement(ctx context.Context, accountID int64, op string, amount decimal.Decimal, reference string) error {
	url := fmt.Sprintf("%s/api/v1/accounts/%d/%s", c.baseURL, accountID, op)

	body, err := json.Marshal(movementRequest{Amount: amount, Reference: reference})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s on account %d: %w", op, accountID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapError(resp, accountID)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(internalAPIKeyHeader, c.apiKey)
	}
}

// mapError converts an account-service error response into a sentinel where
// the failure mode is part of the contract, or a generic error otherwise.
func (c *Client) mapError(resp *http.Response, accountID int64) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil {
		switch parsed.Code {
		case "INSUFFICIENT_FUNDS":
			return fmt.Errorf("account %d: %w", accountID, ErrInsufficientFunds)
		case "ACCOUNT_NOT_ACTIVE":
			return fmt.Errorf("account %d: %w", accountID, ErrAccountNotActive)
		case "ACCOUNT_NOT_FOUND":
			return fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	return fmt.Errorf("account service returned status %d for account %d: %s", resp.StatusCode, accountID, strings.TrimSpace(string(raw)))
}
