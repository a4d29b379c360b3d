package rpc

import (
	"context"
	"fmt"
)

// Client exposes the typed Solana calls the rest of the service uses. Every
// call routes through the manager, so selection, rate tracking, caching, and
// fallback apply uniformly.
type Client struct {
	manager *Manager
}

// NewClient wraps the manager.
func NewClient(manager *Manager) *Client {
	return &Client{manager: manager}
}

// Manager exposes the underlying manager for callers that need provider
// control (status reporting, explicit error feedback).
func (c *Client) Manager() *Manager {
	return c.manager
}

// GetSlot returns the current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.manager.Execute(ctx, "getSlot", []interface{}{}, &slot); err != nil {
		return 0, fmt.Errorf("getSlot failed: %w", err)
	}
	return slot, nil
}

// GetLatestBlockhash returns the latest blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := c.manager.Execute(ctx, "getLatestBlockhash", []interface{}{}, &resp); err != nil {
		return "", fmt.Errorf("getLatestBlockhash failed: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// GetBalance returns an account balance in lamports.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.manager.Execute(ctx, "getBalance", []interface{}{address}, &resp); err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}
	return resp.Value, nil
}

// GetTokenAccountBalance returns a token account's balance in raw units.
func (c *Client) GetTokenAccountBalance(ctx context.Context, address string) (string, error) {
	var resp struct {
		Value struct {
			Amount   string `json:"amount"`
			Decimals int    `json:"decimals"`
		} `json:"value"`
	}
	if err := c.manager.Execute(ctx, "getTokenAccountBalance", []interface{}{address}, &resp); err != nil {
		return "", fmt.Errorf("getTokenAccountBalance failed: %w", err)
	}
	return resp.Value.Amount, nil
}

// SendTransaction submits a base64-encoded signed transaction and returns
// its signature. Never cached; fallback applies on provider failure.
func (c *Client) SendTransaction(ctx context.Context, encodedTx string) (string, error) {
	params := []interface{}{
		encodedTx,
		map[string]interface{}{
			"encoding":            "base64",
			"skipPreflight":       false,
			"maxRetries":          0,
			"preflightCommitment": "confirmed",
		},
	}
	var signature string
	if err := c.manager.ExecuteWithFallback(ctx, "sendTransaction", params, &signature); err != nil {
		return "", fmt.Errorf("sendTransaction failed: %w", err)
	}
	return signature, nil
}

// SignatureStatus is the confirmation state of one submitted transaction.
type SignatureStatus struct {
	Slot               uint64      `json:"slot"`
	Confirmations      *int        `json:"confirmations"`
	Err                interface{} `json:"err"`
	ConfirmationStatus string      `json:"confirmationStatus"`
}

// GetSignatureStatus returns the status for a signature, or nil when the
// cluster has not seen it yet.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	params := []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.manager.Execute(ctx, "getSignatureStatuses", params, &resp); err != nil {
		return nil, fmt.Errorf("getSignatureStatuses failed: %w", err)
	}
	if len(resp.Value) == 0 {
		return nil, nil
	}
	return resp.Value[0], nil
}

// ConfirmTransaction checks whether a transaction reached confirmed or
// finalized status. A transaction error is a business failure.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	status, err := c.GetSignatureStatus(ctx, signature)
	if err != nil {
		return err
	}
	if status == nil {
		return fmt.Errorf("transaction not found")
	}
	if status.Err != nil {
		return NewError(KindBusiness, "", "getSignatureStatuses", fmt.Errorf("transaction failed: %v", status.Err))
	}
	if status.ConfirmationStatus != "confirmed" && status.ConfirmationStatus != "finalized" {
		return fmt.Errorf("transaction not confirmed, status: %s", status.ConfirmationStatus)
	}
	return nil
}
