// Package execution is the client for the external execution venue
// adapter: synchronous order-batch submission over HTTP and an
// asynchronous fill stream over WebSocket. The engine never retries
// failed orders; retry policy belongs to the venue adapter.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
)

const submitTimeout = 10 * time.Second

// Client implements domain.ExecutionClient over the venue adapter's HTTP
// API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new execution venue client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: submitTimeout},
		log:        log.With().Str("component", "execution_client").Logger(),
	}
}

// batchRequest is the wire format of a batch submission.
type batchRequest struct {
	BatchID string                  `json:"batch_id"`
	Orders  []domain.RebalanceOrder `json:"orders"`
}

// batchResponse is the venue's per-order verdict list.
type batchResponse struct {
	Results []domain.OrderResult `json:"results"`
}

// SubmitBatch posts an order batch and returns the venue's per-order
// results. The venue is expected to answer every order in the batch; a
// missing result is a protocol error.
func (c *Client) SubmitBatch(ctx context.Context, batchID string, orders []domain.RebalanceOrder) ([]domain.OrderResult, error) {
	body, err := json.Marshal(batchRequest{BatchID: batchID, Orders: orders})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Info().
		Str("batch_id", batchID).
		Int("orders", len(orders)).
		Msg("Submitting order batch")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit order batch %s: %w", batchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("venue rejected batch %s: status %d: %s", batchID, resp.StatusCode, snippet)
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	if len(parsed.Results) != len(orders) {
		return nil, fmt.Errorf("venue answered %d results for %d orders in batch %s", len(parsed.Results), len(orders), batchID)
	}

	return parsed.Results, nil
}
