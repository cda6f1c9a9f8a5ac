package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingLookup struct {
	role  Role
	err   error
	calls int
}

func (l *countingLookup) RoleFor(_ context.Context, _, _ string) (Role, error) {
	l.calls++
	return l.role, l.err
}

func TestGateAnonymousWithoutToken(t *testing.T) {
	g := NewGate(NewMemoryCache(), nil)

	session, state, err := g.Resolve(context.Background(), "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if session != nil || state != StateAnonymous {
		t.Fatalf("expected anonymous, got state=%v session=%+v", state, session)
	}
}

func TestGateAuthorizesValidToken(t *testing.T) {
	withSecret(t)
	lookup := &countingLookup{role: RoleAdmin}
	g := NewGate(NewMemoryCache(), lookup)

	token, err := GenerateToken("user-1", "admin@ucaep.org", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	session, state, err := g.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state != StateAuthorized {
		t.Fatalf("expected authorized, got %v", state)
	}
	if session.Role != RoleAdmin {
		t.Fatalf("lookup role should win, got %s", session.Role)
	}
	if session.UserID != "user-1" || session.Email != "admin@ucaep.org" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestGateResolvesOnlyWhenTokenChanges(t *testing.T) {
	withSecret(t)
	lookup := &countingLookup{role: RoleProducer}
	g := NewGate(NewMemoryCache(), lookup)

	first, err := GenerateToken("user-1", "", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := g.Resolve(context.Background(), first); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if lookup.calls != 1 {
		t.Fatalf("same token should resolve once, lookup ran %d times", lookup.calls)
	}

	second, err := GenerateToken("user-2", "", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, _, err := g.Resolve(context.Background(), second); err != nil {
		t.Fatalf("Resolve new token: %v", err)
	}
	if lookup.calls != 2 {
		t.Fatalf("new token should trigger a fresh lookup, got %d calls", lookup.calls)
	}
}

func TestGateFailedLookupAdmitsAsViewer(t *testing.T) {
	withSecret(t)
	lookup := &countingLookup{err: errors.New("profiles table unavailable")}
	g := NewGate(NewMemoryCache(), lookup)

	token, err := GenerateToken("user-1", "", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	session, state, err := g.Resolve(context.Background(), token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if state != StateAuthorized {
		t.Fatalf("lookup failure must not block the caller, got %v", state)
	}
	if session.Role != RoleViewer {
		t.Fatalf("lookup failure must default to viewer, got %s", session.Role)
	}
}

func TestGateRejectsInvalidToken(t *testing.T) {
	withSecret(t)
	g := NewGate(NewMemoryCache(), nil)

	session, state, err := g.Resolve(context.Background(), "bogus.token.value")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if session != nil || state != StateUnauthorized {
		t.Fatalf("expected unauthorized, got state=%v session=%+v", state, session)
	}
}

func TestGateSignOutRevokesSession(t *testing.T) {
	withSecret(t)
	cache := NewMemoryCache()
	lookup := &countingLookup{role: RoleProducer}
	g := NewGate(cache, lookup)

	token, err := GenerateToken("user-1", "", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, _, err := g.Resolve(context.Background(), token); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := g.SignOut(context.Background(), token); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if g.State() != StateAnonymous {
		t.Fatalf("expected anonymous after sign-out, got %v", g.State())
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if _, err := cache.Get(context.Background(), claims.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cache entry should be gone, got %v", err)
	}

	// The still-valid JWT must not resurrect the session.
	if _, state, err := g.Resolve(context.Background(), token); !errors.Is(err, ErrUnauthorized) || state != StateUnauthorized {
		t.Fatalf("revoked token should stay out: state=%v err=%v", state, err)
	}
}

func TestMemoryCacheExpiresSessions(t *testing.T) {
	cache := NewMemoryCache()
	session := &Session{UserID: "u1", Role: RoleViewer, ExpiresAt: time.Now().UTC().Add(-time.Minute)}
	if err := cache.Put(context.Background(), "tok-1", session); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cache.Get(context.Background(), "tok-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session should be evicted, got %v", err)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
