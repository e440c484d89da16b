package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"walletflow/internal/guard"
	"walletflow/internal/middleware"
	"walletflow/internal/models"
	"walletflow/internal/moneyrequest"
	"walletflow/internal/payment"
	"walletflow/internal/routes"
	"walletflow/internal/session"
	"walletflow/internal/utils"
)

// Accounts is implemented by identity providers that own credentials.
type Accounts interface {
	Login(ctx context.Context, req models.LoginRequest) (models.LoginResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.Principal, error)
}

// Deps wires the server. Accounts and Ready are optional.
type Deps struct {
	Identity session.Identity
	Accounts Accounts
	Guard    *guard.Guard
	Table    routes.Table
	Requests *moneyrequest.Service
	Payments *payment.Service
	Limiter  *middleware.RateLimiter
	Ready    func(ctx context.Context) error
	Logger   *zap.Logger
}

type Server struct {
	identity session.Identity
	accounts Accounts
	guard    *guard.Guard
	composer *routes.Composer
	requests *moneyrequest.Service
	payments *payment.Service
	limiter  *middleware.RateLimiter
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// capabilities the HTTP surface gates on; the table must define them all.
var requiredCapabilities = []models.CapabilityKey{
	routes.RequestMoney,
	routes.MoneyRequests,
	routes.AddMoney,
	routes.Withdraw,
	routes.Payments,
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Identity == nil || deps.Guard == nil || deps.Requests == nil || deps.Payments == nil {
		return nil, errors.New("api: identity, guard and services are required")
	}
	if deps.Table == nil {
		deps.Table = routes.DefaultTable()
	}
	for _, key := range requiredCapabilities {
		if _, ok := deps.Table.Lookup(key); !ok {
			return nil, fmt.Errorf("api: capability table has no %q entry", key)
		}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter(5, 10, deps.Logger)
	}

	return &Server{
		identity: deps.Identity,
		accounts: deps.Accounts,
		guard:    deps.Guard,
		composer: routes.NewComposer(deps.Table, deps.Guard),
		requests: deps.Requests,
		payments: deps.Payments,
		limiter:  deps.Limiter,
		ready:    deps.Ready,
		logger:   deps.Logger,
	}, nil
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeError maps error kinds to status codes. Unclassified errors are logged
// and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch models.KindOf(err) {
	case models.ErrValidation:
		status, kind = http.StatusBadRequest, "validation"
	case models.ErrUnauthenticated:
		status, kind = http.StatusUnauthorized, "unauthenticated"
	case models.ErrForbidden:
		status, kind = http.StatusForbidden, "forbidden"
	case models.ErrNotFound:
		status, kind = http.StatusNotFound, "not_found"
	case models.ErrInvalidStateTransition:
		status, kind = http.StatusConflict, "invalid_state_transition"
	case models.ErrExternalService:
		status, kind = http.StatusServiceUnavailable, "external_service"
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			msg = "internal server error"
		}
	}
	utils.WriteJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, r, models.Validation("decode request", "invalid request body"))
		return false
	}
	return true
}

// require gates a route on a capability from the table.
func (s *Server) require(key models.CapabilityKey) func(http.Handler) http.Handler {
	capability, _ := s.composer.Table().Lookup(key)
	return middleware.RequireCapability(s.guard, capability)
}

// principal returns the caller allowed through by the guard. Without one it
// answers with the guard's own decision for the session, so the redirect
// carries the configured target.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := session.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteDecision(w, s.guard.Evaluate(session.FromContext(r.Context()), models.Capability{}))
	}
	return p, ok
}

// transactor is principal plus the requirement that the account can move money.
func (s *Server) transactor(w http.ResponseWriter, r *http.Request) (models.Principal, bool) {
	p, ok := s.principal(w, r)
	if !ok {
		return p, false
	}
	if !p.CanTransact() {
		s.writeError(w, r, models.Forbidden("authorize", "account is %s", p.AccountStatus))
		return p, false
	}
	return p, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
