package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletflow/internal/models"
)

func newGateway(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
}

func TestConfirmSucceeded(t *testing.T) {
	c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/confirmations", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "abc", body["reference"])

		json.NewEncoder(w).Encode(map[string]any{"outcome": "succeeded", "amount": 1000, "new_balance": 2500})
	})

	conf, err := c.Confirm(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, conf.Outcome)
	assert.Equal(t, int64(1000), conf.Amount)
	require.NotNil(t, conf.NewBalance)
	assert.Equal(t, int64(2500), *conf.NewBalance)
}

func TestConfirmResponses(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome Outcome
		wantKind    error
	}{
		{name: "declined", status: http.StatusOK, body: `{"outcome":"failed","reason":"card_declined"}`, wantOutcome: OutcomeFailed},
		{name: "unknown reference", status: http.StatusNotFound, wantOutcome: OutcomeFailed},
		{name: "bad request", status: http.StatusBadRequest, wantOutcome: OutcomeFailed},
		{name: "pending", status: http.StatusOK, body: `{"outcome":"pending"}`, wantOutcome: OutcomePending, wantKind: models.ErrExternalService},
		{name: "server error", status: http.StatusBadGateway, wantKind: models.ErrExternalService},
		{name: "garbage", status: http.StatusOK, body: `{"outcome":"maybe"}`, wantKind: models.ErrExternalService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			conf, err := c.Confirm(context.Background(), "abc")
			if tt.wantKind != nil {
				assert.ErrorIs(t, err, tt.wantKind)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOutcome, conf.Outcome)
		})
	}
}

func TestConfirmOpensBreaker(t *testing.T) {
	var calls int32
	c := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 8; i++ {
		_, err := c.Confirm(context.Background(), "abc")
		assert.ErrorIs(t, err, models.ErrExternalService)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
}

func TestCheckoutURL(t *testing.T) {
	c := NewClient(Config{CheckoutURL: "https://pay.example/checkout"}, nil)
	raw := c.CheckoutURL(&models.PaymentIntent{ID: "p1", Amount: 1000, Direction: models.DirectionDeposit})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "pay.example", u.Host)
	assert.Equal(t, "p1", u.Query().Get("intent"))
	assert.Equal(t, "1000", u.Query().Get("amount"))
	assert.Equal(t, "deposit", u.Query().Get("direction"))

	assert.Empty(t, NewClient(Config{}, nil).CheckoutURL(&models.PaymentIntent{ID: "p1"}))
}
