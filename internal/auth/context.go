package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	userIDKey  ctxKey = "auth_user_id"
	roleKey    ctxKey = "auth_role"
	sessionKey ctxKey = "auth_session"
)

// ContextWithUser stores user identity in the context.
func ContextWithUser(ctx context.Context, userID string, role Role) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	return context.WithValue(ctx, roleKey, ParseRole(string(role)))
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the role stored in context, viewer when absent.
func RoleFromContext(ctx context.Context) Role {
	v, ok := ctx.Value(roleKey).(Role)
	if !ok {
		return RoleViewer
	}
	return v
}

// HasRole reports whether the context carries at least the given role.
func HasRole(ctx context.Context, required Role) bool {
	if _, ok := UserIDFromContext(ctx); !ok {
		return false
	}
	return RoleFromContext(ctx).AtLeast(required)
}

// ContextWithSession attaches a resolved session to the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	ctx = ContextWithUser(ctx, s.UserID, s.Role)
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session attached by the auth middleware.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	v, ok := ctx.Value(sessionKey).(*Session)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
