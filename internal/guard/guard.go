// Package guard decides whether a session may reach a capability.
package guard

import (
	"context"
	"fmt"

	"walletflow/internal/metrics"
	"walletflow/internal/models"
	"walletflow/internal/session"
)

// Kind is the outcome class of a guard decision.
type Kind int

const (
	Allow Kind = iota
	Pending
	RedirectLogin
	RedirectPendingApproval
	RedirectUnauthorized
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Pending:
		return "pending"
	case RedirectLogin:
		return "redirect_login"
	case RedirectPendingApproval:
		return "redirect_pending_approval"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{Allow, Pending, RedirectLogin, RedirectPendingApproval, RedirectUnauthorized} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown decision kind %q", text)
}

// ReasonSessionLoading is the Pending reason while a session is resolving.
const ReasonSessionLoading = "session-loading"

// Decision is the value returned for every capability check. Target is the
// navigation destination and is empty for Allow and Pending.
type Decision struct {
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason,omitempty"`
	Target string `json:"target,omitempty"`
}

func (d Decision) Allowed() bool { return d.Kind == Allow }

// Targets maps redirect decisions to application routes.
type Targets struct {
	Login           string
	PendingApproval string
	Unauthorized    string
}

type Guard struct {
	targets Targets
}

func New(targets Targets) *Guard {
	return &Guard{targets: targets}
}

// Evaluate applies the precedence rules to an already resolved state:
// loading, then authentication, then pending approval, then role.
func (g *Guard) Evaluate(st session.State, capability models.Capability) Decision {
	d := g.evaluate(st, capability)
	metrics.RecordDecision(string(capability.Key), d.Kind.String())
	return d
}

func (g *Guard) evaluate(st session.State, capability models.Capability) Decision {
	switch st.Phase {
	case session.Loading:
		return Decision{Kind: Pending, Reason: ReasonSessionLoading}
	case session.Authenticated:
	default:
		return Decision{Kind: RedirectLogin, Target: g.targets.Login}
	}

	p := st.Principal
	if p == nil {
		return Decision{Kind: RedirectLogin, Target: g.targets.Login}
	}
	if p.AccountStatus == models.AccountPending {
		return Decision{Kind: RedirectPendingApproval, Target: g.targets.PendingApproval}
	}
	if capability.RequiredRole != nil && *capability.RequiredRole != p.Role {
		return Decision{Kind: RedirectUnauthorized, Target: g.targets.Unauthorized}
	}
	return Decision{Kind: Allow}
}

// Check resolves the session and evaluates the capability against it.
func (g *Guard) Check(ctx context.Context, resolver session.Resolver, capability models.Capability) Decision {
	return g.Evaluate(resolver.Resolve(ctx), capability)
}

// Observable is a source of session state changes.
type Observable interface {
	Subscribe(fn func(session.State)) func()
}

// Watch recomputes the decision for capability on every session change and
// passes it to fn. Decisions are never reused across changes.
func (g *Guard) Watch(src Observable, capability models.Capability, fn func(Decision)) func() {
	return src.Subscribe(func(st session.State) {
		fn(g.Evaluate(st, capability))
	})
}
