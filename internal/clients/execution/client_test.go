package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankmkratzer/acis-ai-platform-sub002/internal/domain"
	"github.com/frankmkratzer/acis-ai-platform-sub002/pkg/logger"
)

func testOrders() []domain.RebalanceOrder {
	return []domain.RebalanceOrder{
		{Ticker: "AAPL", Action: domain.ActionSell, Shares: 20, EstimatedPrice: 150, SequenceIndex: 0},
		{Ticker: "MSFT", Action: domain.ActionBuy, Shares: 20, EstimatedPrice: 300, SequenceIndex: 1},
	}
}

func TestSubmitBatch(t *testing.T) {
	orders := testOrders()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders/batch", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "batch-1", req.BatchID)
		require.Len(t, req.Orders, 2)

		results := make([]domain.OrderResult, len(req.Orders))
		for i, o := range req.Orders {
			results[i] = domain.OrderResult{
				Order:      o,
				Status:     domain.OrderFilled,
				FillPrice:  o.EstimatedPrice,
				FillShares: o.Shares,
			}
		}
		json.NewEncoder(w).Encode(batchResponse{Results: results})
	}))
	defer server.Close()

	client := NewClient(server.URL, logger.New(logger.Config{Level: "error"}))
	results, err := client.SubmitBatch(context.Background(), "batch-1", orders)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, domain.OrderFilled, results[0].Status)
	assert.Equal(t, int64(20), results[0].FillShares)
}

func TestSubmitBatch_VenueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "venue unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, logger.New(logger.Config{Level: "error"}))
	_, err := client.SubmitBatch(context.Background(), "batch-1", testOrders())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSubmitBatch_IncompleteResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(batchResponse{Results: []domain.OrderResult{{}}})
	}))
	defer server.Close()

	client := NewClient(server.URL, logger.New(logger.Config{Level: "error"}))
	_, err := client.SubmitBatch(context.Background(), "batch-1", testOrders())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 results for 2 orders")
}

func TestFillStream_HandleMessage(t *testing.T) {
	var gotBatch string
	var gotResult domain.OrderResult
	fs := NewFillStream("ws://unused", func(batchID string, result domain.OrderResult) {
		gotBatch = batchID
		gotResult = result
	}, logger.New(logger.Config{Level: "error"}))

	msg := []byte(`["fills", {"batch_id": "batch-7", "result": {
		"order": {"ticker": "AAPL", "action": "SELL", "shares": 20},
		"status": "FILLED", "fill_price": 149.5, "fill_shares": 20}}]`)

	require.NoError(t, fs.handleMessage(msg))
	assert.Equal(t, "batch-7", gotBatch)
	assert.Equal(t, "AAPL", gotResult.Order.Ticker)
	assert.Equal(t, domain.OrderFilled, gotResult.Status)
	assert.InDelta(t, 149.5, gotResult.FillPrice, 1e-9)
}

func TestFillStream_HandleMessageIgnoresOtherChannels(t *testing.T) {
	called := false
	fs := NewFillStream("ws://unused", func(string, domain.OrderResult) { called = true },
		logger.New(logger.Config{Level: "error"}))

	require.NoError(t, fs.handleMessage([]byte(`["heartbeat", {}]`)))
	assert.False(t, called)
}

func TestFillStream_HandleMessageMalformed(t *testing.T) {
	fs := NewFillStream("ws://unused", nil, logger.New(logger.Config{Level: "error"}))

	assert.Error(t, fs.handleMessage([]byte(`not json`)))
	assert.Error(t, fs.handleMessage([]byte(`["fills"]`)))
}
