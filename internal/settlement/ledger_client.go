package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LedgerClient is the boundary to the external escrow ledger that physically
// moves funds.
type LedgerClient interface {
	Submit(ctx context.Context, intent Intent) (*Receipt, error)
}

type httpLedgerClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPLedgerClient(baseURL string, timeout time.Duration) LedgerClient {
	return &httpLedgerClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpLedgerClient) Submit(ctx context.Context, intent Intent) (*Receipt, error) {
	body, err := json.Marshal(intent)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/releases", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode ledger receipt: %w", err)
	}
	return &receipt, nil
}
