package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/terminal-bench/collateralvault/pkg/circuit"
)

// TransferRequest asks the custody layer to move funds between accounts.
// Authority carries the vault's derived signing capability for outbound
// transfers; it is empty for deposits, which the depositor authorizes.
type TransferRequest struct {
	From      uuid.UUID `json:"from"`
	To        uuid.UUID `json:"to"`
	Amount    uint64    `json:"amount"`
	Authority string    `json:"-"`
}

// Receipt confirms a completed custody transfer.
type Receipt struct {
	ID        uuid.UUID `json:"id"`
	From      uuid.UUID `json:"from"`
	To        uuid.UUID `json:"to"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// TransportError means the custody layer could not be reached or gave no
// usable answer. It is distinct from a rejected transfer and from a
// reconciliation discrepancy.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("custody %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transferer moves funds through the custody layer.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (*Receipt, error)
}

// BalanceReader queries the true balance of a custody account.
type BalanceReader interface {
	BalanceOf(ctx context.Context, account uuid.UUID) (uint64, error)
}

// Client talks to the custody layer's REST API. Calls run behind a
// circuit breaker so a dead custody layer fails fast instead of tying up
// every vault operation in timeouts.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
}

// Config holds custody client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a custody client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "custody",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			HalfOpenMax: 3,
		}),
	}
}

// Transfer submits a transfer and waits for the receipt. A confirmed
// receipt is treated as ground truth by the ledger.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer: %w", err)
	}

	var receipt Receipt
	err = c.breaker.Execute(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/transfers", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if req.Authority != "" {
			httpReq.Header.Set("X-Vault-Authority", req.Authority)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return &TransportError{Op: "transfer", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("custody transfer rejected: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
			return &TransportError{Op: "transfer", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

// BalanceOf returns the custody account's current balance in base units.
func (c *Client) BalanceOf(ctx context.Context, account uuid.UUID) (uint64, error) {
	var balance uint64
	err := c.breaker.Execute(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/api/v1/accounts/%s/balance", c.baseURL, account), nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return &TransportError{Op: "balance query", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return &TransportError{Op: "balance query",
				Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}

		var body struct {
			Account uuid.UUID `json:"account"`
			Balance uint64    `json:"balance"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return &TransportError{Op: "balance query", Err: err}
		}
		balance = body.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
