package auth

import (
	"context"
	"sync"
	"time"
)

// GateState tracks where the gate is in resolving the caller's identity.
type GateState int

const (
	StateUnresolved GateState = iota
	StateResolving
	StateAuthorized
	StateUnauthorized
	StateAnonymous
)

func (s GateState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAuthorized:
		return "authorized"
	case StateUnauthorized:
		return "unauthorized"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unresolved"
	}
}

// ProfileLookup resolves the stored role for an authenticated identity.
type ProfileLookup interface {
	RoleFor(ctx context.Context, userID, email string) (Role, error)
}

// ProfileLookupFunc adapts a function to the ProfileLookup interface.
type ProfileLookupFunc func(ctx context.Context, userID, email string) (Role, error)

func (f ProfileLookupFunc) RoleFor(ctx context.Context, userID, email string) (Role, error) {
	return f(ctx, userID, email)
}

// Gate resolves bearer tokens to sessions. A resolved result is reused until
// the presented token changes, and a failed role lookup never blocks the
// caller: the identity is admitted as a plain viewer.
type Gate struct {
	cache  SessionCache
	lookup ProfileLookup

	mu        sync.Mutex
	state     GateState
	lastToken string
	session   *Session
	revoked   map[string]time.Time
}

func NewGate(cache SessionCache, lookup ProfileLookup) *Gate {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Gate{
		cache:   cache,
		lookup:  lookup,
		state:   StateUnresolved,
		revoked: make(map[string]time.Time),
	}
}

// State reports the outcome of the most recent resolution.
func (g *Gate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resolve maps a bearer token to a session. An empty token resolves to the
// anonymous state. The same token is not re-resolved on every call.
func (g *Gate) Resolve(ctx context.Context, token string) (*Session, GateState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if token == "" {
		g.state = StateAnonymous
		g.lastToken = ""
		g.session = nil
		return nil, g.state, nil
	}
	if token == g.lastToken && g.state != StateUnresolved && g.state != StateResolving {
		return g.session, g.state, nil
	}

	g.state = StateResolving
	g.lastToken = token

	claims, err := ParseAndValidate(token)
	if err != nil {
		g.state = StateUnauthorized
		g.session = nil
		return nil, g.state, ErrUnauthorized
	}
	if _, gone := g.revoked[claims.ID]; gone {
		g.state = StateUnauthorized
		g.session = nil
		return nil, g.state, ErrUnauthorized
	}

	if cached, err := g.cache.Get(ctx, claims.ID); err == nil {
		g.state = StateAuthorized
		g.session = cached
		return cached, g.state, nil
	}

	session := &Session{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Role:      g.resolveRole(ctx, claims),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	_ = g.cache.Put(ctx, claims.ID, session)

	g.state = StateAuthorized
	g.session = session
	return session, g.state, nil
}

// resolveRole consults the profile lookup when one is wired. Any lookup
// failure falls back to the viewer role rather than surfacing an error.
func (g *Gate) resolveRole(ctx context.Context, claims *Claims) Role {
	if g.lookup == nil {
		return ParseRole(claims.Role)
	}
	role, err := g.lookup.RoleFor(ctx, claims.Subject, claims.Email)
	if err != nil {
		return RoleViewer
	}
	return ParseRole(string(role))
}

// SignOut revokes the session behind the token. The cache entry is cleared
// before the local state so a crash mid-way errs on the side of signed out.
// The token id stays on a deny list until the token itself expires, so a
// replayed token cannot resurrect the session.
func (g *Gate) SignOut(ctx context.Context, token string) error {
	claims, err := ParseAndValidate(token)
	if err == nil {
		if derr := g.cache.Delete(ctx, claims.ID); derr != nil {
			return derr
		}
	}
	g.mu.Lock()
	if claims != nil {
		now := time.Now().UTC()
		for id, exp := range g.revoked {
			if now.After(exp) {
				delete(g.revoked, id)
			}
		}
		g.revoked[claims.ID] = claims.ExpiresAt.Time
	}
	g.state = StateAnonymous
	g.lastToken = ""
	g.session = nil
	g.mu.Unlock()
	return nil
}

// SessionTTL derives the cache TTL left on a session.
func SessionTTL(s *Session) time.Duration {
	if s == nil {
		return 0
	}
	return time.Until(s.ExpiresAt)
}
