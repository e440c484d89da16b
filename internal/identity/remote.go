// Package identity resolves trust tokens to principals. Remote asks an
// external identity service; Local signs its own tokens and reads the users
// table. Both look the principal up again on every call.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"walletflow/internal/models"
)

type Remote struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewRemote(baseURL string, timeout time.Duration, logger *zap.Logger) *Remote {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CurrentPrincipal calls GET {base}/current-principal with the token.
func (c *Remote) CurrentPrincipal(ctx context.Context, token string) (*models.Principal, error) {
	const op = "current principal"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/current-principal", nil)
	if err != nil {
		return nil, models.External(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, models.External(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, models.Unauthenticated(op, "token rejected by identity service")
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, models.External(op, fmt.Errorf("identity service returned %d", resp.StatusCode))
	}

	var p models.Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, models.External(op, fmt.Errorf("decode principal: %w", err))
	}
	c.logger.Debug("principal resolved",
		zap.String("user_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.String("account_status", string(p.AccountStatus)),
	)
	return &p, nil
}
