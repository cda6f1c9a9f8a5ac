package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ucaep.org/internal/audit"
	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

// profileRoles resolves a signed-in identity's role from its profile record.
type profileRoles struct {
	svc *content.Service
}

func (p profileRoles) RoleFor(ctx context.Context, _, email string) (auth.Role, error) {
	rec, err := p.findProfile(ctx, email)
	if err != nil {
		return auth.RoleViewer, err
	}
	role, _ := rec.Fields["role"].(string)
	return auth.ParseRole(role), nil
}

func (p profileRoles) findProfile(ctx context.Context, email string) (content.Record, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return content.Record{}, content.ErrNotFound
	}
	recs, err := p.svc.List(ctx, content.KindProfile, content.ListOptions{
		Filters: map[string]any{"email": email},
	})
	if err != nil {
		return content.Record{}, err
	}
	if len(recs) == 0 {
		return content.Record{}, content.ErrNotFound
	}
	return recs[0], nil
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	lookup := profileRoles{svc: a.content}
	profile, err := lookup.findProfile(r.Context(), email)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login unavailable")
		return
	}

	hash, _ := profile.Fields["passwordHash"].(string)
	if err := auth.VerifyPassword(hash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	roleField, _ := profile.Fields["role"].(string)
	role := auth.ParseRole(roleField)

	token, err := auth.GenerateToken(profile.ID, email, role, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	if claims, err := auth.ParseAndValidate(token); err == nil {
		_ = a.sessions.Put(r.Context(), claims.ID, &auth.Session{
			UserID:    profile.ID,
			Email:     email,
			Role:      role,
			ExpiresAt: expiresAt,
		})
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id": profile.ID,
		"role":    role.String(),
	})

	name, _ := profile.Fields["name"].(string)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User: userView{
			ID:    profile.ID,
			Email: email,
			Name:  name,
			Role:  role.String(),
		},
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, err.Error())
		return
	}
	if err := a.gate.SignOut(r.Context(), token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "signed_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userView{
		ID:    session.UserID,
		Email: session.Email,
		Role:  session.Role.String(),
	})
}
