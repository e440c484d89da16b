// Package gateway talks to the external payment gateway. Only confirmation is
// in scope: the gateway redirects the user back with a reference and the
// payment lifecycle asks the gateway what actually happened.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"walletflow/internal/metrics"
	"walletflow/internal/models"
)

// Outcome is the gateway's verdict on a reference.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	// OutcomePending means the gateway has not settled yet; ask again later.
	OutcomePending Outcome = "pending"
)

// Confirmation is the gateway's record for a reference.
type Confirmation struct {
	Outcome    Outcome `json:"outcome"`
	Amount     int64   `json:"amount"`
	NewBalance *int64  `json:"new_balance,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// ErrNotSettled is returned when the gateway reports a pending outcome.
var ErrNotSettled = errors.New("payment not settled at gateway")

type Config struct {
	BaseURL     string
	CheckoutURL string
	APIKey      string
	Timeout     time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Confirm asks the gateway for the record behind reference. Transport
// failures, 5xx responses and an open breaker are ExternalServiceErrors. A
// reference the gateway does not know is a failed confirmation, not an error.
func (c *Client) Confirm(ctx context.Context, reference string) (Confirmation, error) {
	const op = "gateway confirm"
	started := time.Now()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.confirm(ctx, reference)
	})
	if err != nil {
		metrics.ObserveGateway("error", started)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("payment gateway unavailable, circuit open", zap.Error(err))
		}
		return Confirmation{}, models.External(op, err)
	}

	conf := res.(Confirmation)
	metrics.ObserveGateway(string(conf.Outcome), started)
	if conf.Outcome == OutcomePending {
		return conf, models.External(op, ErrNotSettled)
	}
	return conf, nil
}

func (c *Client) confirm(ctx context.Context, reference string) (Confirmation, error) {
	body, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return Confirmation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/confirmations", bytes.NewReader(body))
	if err != nil {
		return Confirmation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Confirmation{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Confirmation{Outcome: OutcomeFailed, Reason: "unknown_reference"}, nil
	case resp.StatusCode >= 500:
		return Confirmation{}, fmt.Errorf("gateway returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return Confirmation{Outcome: OutcomeFailed, Reason: "rejected_" + strconv.Itoa(resp.StatusCode)}, nil
	}

	var conf Confirmation
	if err := json.NewDecoder(resp.Body).Decode(&conf); err != nil {
		return Confirmation{}, fmt.Errorf("decode gateway response: %w", err)
	}
	switch conf.Outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomePending:
	default:
		return Confirmation{}, fmt.Errorf("gateway returned unknown outcome %q", conf.Outcome)
	}
	return conf, nil
}

// CheckoutURL is where the client is sent to complete an initiated intent.
func (c *Client) CheckoutURL(intent *models.PaymentIntent) string {
	if c.cfg.CheckoutURL == "" {
		return ""
	}
	q := url.Values{}
	q.Set("intent", intent.ID)
	q.Set("amount", strconv.FormatInt(intent.Amount, 10))
	q.Set("direction", string(intent.Direction))
	return c.cfg.CheckoutURL + "?" + q.Encode()
}
