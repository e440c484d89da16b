package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"walletflow/internal/guard"
	"walletflow/internal/models"
	"walletflow/internal/session"
	"walletflow/internal/utils"
)

// Authenticate resolves the bearer token against identity on every request
// and stores the resulting session state on the request context. A missing or
// rejected token yields an Unauthenticated state, never an error response;
// RequireCapability decides what that means for the route.
func Authenticate(identity session.Identity, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolver := session.NewTokenResolver(identity, utils.BearerToken(r), logger)
			st := resolver.Resolve(r.Context())
			next.ServeHTTP(w, r.WithContext(session.WithState(r.Context(), st)))
		})
	}
}

// RequireCapability lets the request through only when the guard allows the
// session on the request context to reach capability.
func RequireCapability(g *guard.Guard, capability models.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Evaluate(session.FromContext(r.Context()), capability)
			if !d.Allowed() {
				WriteDecision(w, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type decisionResponse struct {
	Error    string         `json:"error"`
	Kind     string         `json:"kind"`
	Decision guard.Decision `json:"decision"`
}

// WriteDecision renders a non-allow decision. The redirect target travels in
// the body so the presentation layer can navigate to it.
func WriteDecision(w http.ResponseWriter, d guard.Decision) {
	resp := decisionResponse{Decision: d}
	status := http.StatusForbidden

	switch d.Kind {
	case guard.Pending:
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "1")
		resp.Error, resp.Kind = "session is still loading", "pending"
	case guard.RedirectLogin:
		status = http.StatusUnauthorized
		resp.Error, resp.Kind = "authentication required", "unauthenticated"
	case guard.RedirectPendingApproval:
		resp.Error, resp.Kind = "account is awaiting approval", "pending_approval"
	default:
		resp.Error, resp.Kind = "role not permitted", "unauthorized"
	}
	utils.WriteJSON(w, status, resp)
}
