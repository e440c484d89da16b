package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"walletflow/internal/models"
	"walletflow/internal/session"
)

var targets = Targets{Login: "/login", PendingApproval: "/pending-approval", Unauthorized: "/unauthorized"}

func principal(role models.Role, status models.AccountStatus) session.State {
	return session.AuthenticatedState(models.Principal{ID: "p1", Role: role, AccountStatus: status})
}

func TestEvaluatePrecedence(t *testing.T) {
	adminOnly := models.Capability{Key: "admin-dashboard", RequiredRole: models.RoleRef(models.RoleAdmin)}
	open := models.Capability{Key: "profile"}

	tests := []struct {
		name       string
		state      session.State
		capability models.Capability
		want       Decision
	}{
		{
			name:       "loading is pending",
			state:      session.LoadingState(),
			capability: adminOnly,
			want:       Decision{Kind: Pending, Reason: ReasonSessionLoading},
		},
		{
			name:       "unauthenticated redirects to login",
			state:      session.UnauthenticatedState(),
			capability: open,
			want:       Decision{Kind: RedirectLogin, Target: "/login"},
		},
		{
			name:       "pending account beats role mismatch",
			state:      principal(models.RoleUser, models.AccountPending),
			capability: adminOnly,
			want:       Decision{Kind: RedirectPendingApproval, Target: "/pending-approval"},
		},
		{
			name:       "pending account on open capability",
			state:      principal(models.RoleAgent, models.AccountPending),
			capability: open,
			want:       Decision{Kind: RedirectPendingApproval, Target: "/pending-approval"},
		},
		{
			name:       "role mismatch",
			state:      principal(models.RoleUser, models.AccountActive),
			capability: adminOnly,
			want:       Decision{Kind: RedirectUnauthorized, Target: "/unauthorized"},
		},
		{
			name:       "role match",
			state:      principal(models.RoleAdmin, models.AccountActive),
			capability: adminOnly,
			want:       Decision{Kind: Allow},
		},
		{
			name:       "no required role",
			state:      principal(models.RoleAgent, models.AccountActive),
			capability: open,
			want:       Decision{Kind: Allow},
		},
		{
			name:       "authenticated without principal fails closed",
			state:      session.State{Phase: session.Authenticated},
			capability: open,
			want:       Decision{Kind: RedirectLogin, Target: "/login"},
		},
	}

	g := New(targets)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Evaluate(tt.state, tt.capability))
		})
	}
}

func TestPendingAccountNeverUnauthorized(t *testing.T) {
	g := New(targets)
	roles := []models.Role{models.RoleUser, models.RoleAgent, models.RoleAdmin}

	for _, actual := range roles {
		for _, required := range roles {
			capability := models.Capability{Key: "x", RequiredRole: models.RoleRef(required)}
			d := g.Evaluate(principal(actual, models.AccountPending), capability)
			assert.Equal(t, RedirectPendingApproval, d.Kind, "actual=%s required=%s", actual, required)
		}
	}
}

func TestLoadingNeverRedirectsToLogin(t *testing.T) {
	g := New(targets)
	for _, capability := range []models.Capability{
		{Key: "profile"},
		{Key: "wallet", RequiredRole: models.RoleRef(models.RoleUser)},
		{Key: "admin", RequiredRole: models.RoleRef(models.RoleAdmin)},
	} {
		d := g.Evaluate(session.LoadingState(), capability)
		assert.Equal(t, Pending, d.Kind)
		assert.False(t, d.Allowed())
	}
}

func TestCheckResolvesSession(t *testing.T) {
	g := New(targets)
	resolver := session.ResolverFunc(func(ctx context.Context) session.State {
		return principal(models.RoleUser, models.AccountActive)
	})

	d := g.Check(context.Background(), resolver, models.Capability{Key: "wallet", RequiredRole: models.RoleRef(models.RoleUser)})
	assert.True(t, d.Allowed())
}

func TestWatchRecomputesOnEveryChange(t *testing.T) {
	g := New(targets)
	status := models.AccountActive
	s := session.New(session.ResolverFunc(func(ctx context.Context) session.State {
		return principal(models.RoleUser, status)
	}))

	var kinds []Kind
	stop := g.Watch(s, models.Capability{Key: "wallet", RequiredRole: models.RoleRef(models.RoleUser)}, func(d Decision) {
		kinds = append(kinds, d.Kind)
	})
	defer stop()

	s.Refresh(context.Background())
	status = models.AccountPending
	s.Refresh(context.Background())

	assert.Equal(t, []Kind{Pending, Pending, Allow, Pending, RedirectPendingApproval}, kinds)
}
