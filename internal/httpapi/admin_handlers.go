package httpapi

import (
	"net/http"
	"strings"

	"ucaep.org/internal/audit"
	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
	"ucaep.org/internal/stream"
)

type statusRequest struct {
	Status string `json:"status"`
}

// handlePendingProducers lists producers awaiting moderation from both
// backends, so locally captured registrations surface even while detached.
func (a *API) handlePendingProducers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.requireRole(w, r, auth.RoleModerator) {
		return
	}

	recs, err := a.content.AllMerged(r.Context(), content.KindProducer)
	if err != nil {
		handleContentError(w, r, err)
		return
	}
	pending := make([]content.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.Status() == "pending" || len(rec.Degraded) > 0 {
			pending = append(pending, rec)
		}
	}

	markDegraded(w, pending...)
	writeJSON(w, http.StatusOK, map[string]any{
		"producers": pending,
		"total":     len(pending),
	})
}

// handleProducerModeration handles PATCH /api/admin/producers/{id}/status.
func (a *API) handleProducerModeration(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/producers/")
	id, suffix, _ := strings.Cut(path, "/")
	if id == "" || suffix != "status" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}
	if !a.requireRole(w, r, auth.RoleAdmin) {
		return
	}

	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !statuses[status] {
		writeError(w, r, http.StatusBadRequest, "status must be pending, approved or rejected")
		return
	}

	rec, err := a.content.Update(r.Context(), content.KindProducer, id, content.Fields{"status": status}, nil)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "moderated", rec)
	a.publish(stream.ActionUpdated, rec, r)

	markDegraded(w, rec)
	writeJSON(w, http.StatusOK, rec)
}

// Profile management is admin only; profiles carry credentials and roles.

func (a *API) handleProfilesCollection(w http.ResponseWriter, r *http.Request) {
	if !a.requireRole(w, r, auth.RoleAdmin) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		recs, err := a.content.List(r.Context(), content.KindProfile, content.ListOptions{
			OrderBy: "createdAt", Descending: true,
		})
		if err != nil {
			handleContentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"profiles": sanitizeProfiles(recs),
			"total":    len(recs),
		})
	case http.MethodPost:
		a.createProfile(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createProfile(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := content.Normalize(raw)

	email, _ := fields["email"].(string)
	password, _ := fields["password"].(string)
	if !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, "email is invalid")
		return
	}
	if len(password) < 8 {
		writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	delete(fields, "password")
	fields["passwordHash"] = hash
	fields["email"] = strings.ToLower(strings.TrimSpace(email))
	roleField, _ := fields["role"].(string)
	fields["role"] = auth.ParseRole(roleField).String()

	rec, err := a.content.Create(r.Context(), content.KindProfile, fields, nil)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "created", rec)
	writeJSON(w, http.StatusCreated, sanitizeProfile(rec))
}

func (a *API) handleProfileResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/admin/profiles/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.requireRole(w, r, auth.RoleAdmin) {
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := a.content.Get(r.Context(), content.KindProfile, id)
		if err != nil {
			handleContentError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sanitizeProfile(rec))
	case http.MethodPut, http.MethodPatch:
		a.updateProfile(w, r, id)
	case http.MethodDelete:
		if err := a.content.Delete(r.Context(), content.KindProfile, id); err != nil {
			handleContentError(w, r, err)
			return
		}
		audit.RecordChange(r.Context(), "deleted", content.Record{ID: id, Kind: content.KindProfile})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) updateProfile(w http.ResponseWriter, r *http.Request, id string) {
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	fields := content.Normalize(raw)

	if password, ok := fields["password"].(string); ok {
		if len(password) < 8 {
			writeError(w, r, http.StatusBadRequest, "password must be at least 8 characters")
			return
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		delete(fields, "password")
		fields["passwordHash"] = hash
	}
	if roleField, ok := fields["role"].(string); ok {
		fields["role"] = auth.ParseRole(roleField).String()
	}

	rec, err := a.content.Update(r.Context(), content.KindProfile, id, fields, nil)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "updated", rec)
	writeJSON(w, http.StatusOK, sanitizeProfile(rec))
}

// sanitizeProfile strips credential material from API responses.
func sanitizeProfile(rec content.Record) content.Record {
	rec.Fields = rec.Fields.Clone()
	delete(rec.Fields, "passwordHash")
	return rec
}

func sanitizeProfiles(recs []content.Record) []content.Record {
	out := make([]content.Record, len(recs))
	for i, rec := range recs {
		out[i] = sanitizeProfile(rec)
	}
	return out
}
