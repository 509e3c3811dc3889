package screening

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// OracleClient is the boundary to the external visual-analysis service
type OracleClient interface {
	Analyze(ctx context.Context, req ScreeningRequest) (*OracleResult, error)
}

type httpOracleClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracleClient creates a client for the analysis service's compare
// endpoint.
func NewHTTPOracleClient(baseURL string, timeout time.Duration) OracleClient {
	return &httpOracleClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *httpOracleClient) Analyze(ctx context.Context, req ScreeningRequest) (*OracleResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}

	var result OracleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode oracle result: %w", err)
	}
	return &result, nil
}
