// Package session resolves the acting principal from a trust token.
//
// Resolution never fails: a missing token, a rejected token and an identity
// service outage all collapse to Unauthenticated so callers fail closed.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"walletflow/internal/models"
)

// Phase is the coarse state of a session.
type Phase int

const (
	Loading Phase = iota
	Unauthenticated
	Authenticated
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// State is the outcome of a resolution. Principal is set only when Phase is
// Authenticated.
type State struct {
	Phase     Phase
	Principal *models.Principal
}

func LoadingState() State         { return State{Phase: Loading} }
func UnauthenticatedState() State { return State{Phase: Unauthenticated} }

func AuthenticatedState(p models.Principal) State {
	return State{Phase: Authenticated, Principal: &p}
}

// Identity looks up the principal a token belongs to.
type Identity interface {
	CurrentPrincipal(ctx context.Context, token string) (*models.Principal, error)
}

// Resolver produces the current session state.
type Resolver interface {
	Resolve(ctx context.Context) State
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) State

func (f ResolverFunc) Resolve(ctx context.Context) State { return f(ctx) }

// TokenResolver resolves a single trust token against an identity service.
// It performs a fresh lookup on every call.
type TokenResolver struct {
	identity Identity
	token    string
	logger   *zap.Logger
}

func NewTokenResolver(identity Identity, token string, logger *zap.Logger) *TokenResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenResolver{identity: identity, token: token, logger: logger}
}

func (r *TokenResolver) Resolve(ctx context.Context) State {
	if r.token == "" || r.identity == nil {
		return UnauthenticatedState()
	}

	principal, err := r.identity.CurrentPrincipal(ctx, r.token)
	if err != nil {
		if !errors.Is(err, models.ErrUnauthenticated) {
			r.logger.Warn("identity lookup failed, treating session as unauthenticated", zap.Error(err))
		}
		return UnauthenticatedState()
	}
	if principal == nil || principal.ID == "" || !principal.Role.Valid() || !principal.AccountStatus.Valid() {
		r.logger.Warn("identity service returned an unusable principal")
		return UnauthenticatedState()
	}
	return AuthenticatedState(*principal)
}

// Session holds the latest observed state and notifies subscribers of every
// change. It starts in Loading until the first resolution completes.
type Session struct {
	resolver Resolver

	mu     sync.Mutex
	state  State
	nextID int
	subs   map[int]func(State)
}

func New(resolver Resolver) *Session {
	return &Session{
		resolver: resolver,
		state:    LoadingState(),
		subs:     make(map[int]func(State)),
	}
}

// State returns the latest observed state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn for state changes and calls it once with the current
// state. The returned function removes the subscription.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	current := s.state
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Refresh moves the session back to Loading, resolves again and publishes the
// result.
func (s *Session) Refresh(ctx context.Context) State {
	s.set(LoadingState())
	st := s.resolver.Resolve(ctx)
	s.set(st)
	return st
}

// Resolve implements Resolver by refreshing the session.
func (s *Session) Resolve(ctx context.Context) State {
	return s.Refresh(ctx)
}

func (s *Session) set(st State) {
	s.mu.Lock()
	s.state = st
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

type contextKey struct{}

// WithState stores a resolved state on ctx.
func WithState(ctx context.Context, st State) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

// FromContext returns the state stored by WithState, or Unauthenticated.
func FromContext(ctx context.Context) State {
	if st, ok := ctx.Value(contextKey{}).(State); ok {
		return st
	}
	return UnauthenticatedState()
}

// PrincipalFromContext returns the authenticated principal on ctx, if any.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	st := FromContext(ctx)
	if st.Phase != Authenticated || st.Principal == nil {
		return models.Principal{}, false
	}
	return *st.Principal, true
}
