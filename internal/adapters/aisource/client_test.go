package aisource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiInvestSim/internal/domain"
	"aiInvestSim/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func sampleRequest() ports.DecisionRequest {
	return ports.DecisionRequest{
		Snapshot: &domain.StatusSnapshot{
			AccountID:      "sess-1",
			Status:         domain.StatusActive,
			InitialCapital: decimal.RequireFromString("10000"),
			Cash:           decimal.RequireFromString("9500"),
			Equity:         decimal.RequireFromString("10050"),
			AsOf:           time.Now(),
		},
		Prices: domain.PriceMap{"bitcoin": decimal.RequireFromString("50000")},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test-model", Logger: nopLogger{}})
	require.NoError(t, err)
	return client, srv
}

func TestProposeReturnsReplyVerbatim(t *testing.T) {
	const reply = `{"analysis": "hold steady", "actions": []}`
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Cash: 9500")
		assert.Contains(t, req.Messages[1].Content, "bitcoin: 50000")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": reply}},
			},
		})
	})

	payload, err := client.Propose(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, reply, string(payload))
}

func TestProposeMapsRateLimiting(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Propose(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ports.ErrRateLimited)
}

func TestProposeSurfacesAPIErrors(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "model overloaded"}}`))
	})

	_, err := client.Propose(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ports.ErrDecisionSource)
}

func TestProposeRejectsEmptyChoices(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	})

	_, err := client.Propose(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ports.ErrDecisionSource)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}
