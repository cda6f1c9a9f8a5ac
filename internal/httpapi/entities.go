package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ucaep.org/internal/audit"
	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
	"ucaep.org/internal/stream"
)

var businessTypes = map[string]bool{
	"agriculture": true,
	"livestock":   true,
	"fisheries":   true,
	"mixed":       true,
}

var regions = map[string]bool{
	"ngazidja": true,
	"ndzuwani": true,
	"mwali":    true,
}

var statuses = map[string]bool{
	"pending":  true,
	"approved": true,
	"rejected": true,
}

// entityDef describes one REST-exposed record kind. The handlers below are
// shared by every kind; only the table rows differ.
type entityDef struct {
	kind         content.Kind
	plural       string
	searchFields []string
	required     []string
	readRole     auth.Role // zero value means public reads
	writeRole    auth.Role
	publicCreate bool
	validate     func(fields content.Fields) error
}

var entityDefs = []entityDef{
	{
		kind: content.KindNews, plural: "news",
		searchFields: []string{"title", "content"},
		required:     []string{"title"},
		writeRole:    auth.RoleModerator,
	},
	{
		kind: content.KindProducer, plural: "producers",
		searchFields: []string{"businessName", "description", "location"},
		required:     []string{"businessName", "email", "description"},
		writeRole:    auth.RoleModerator,
		publicCreate: true,
		validate:     validateProducer,
	},
	{
		kind: content.KindService, plural: "services",
		searchFields: []string{"name", "description"},
		required:     []string{"name"},
		writeRole:    auth.RoleModerator,
	},
	{
		kind: content.KindPartnership, plural: "partnerships",
		searchFields: []string{"name", "description"},
		required:     []string{"name"},
		writeRole:    auth.RoleModerator,
	},
	{
		kind: content.KindResource, plural: "resources",
		searchFields: []string{"title", "description"},
		required:     []string{"title"},
		writeRole:    auth.RoleModerator,
	},
	{
		kind: content.KindEvent, plural: "events",
		searchFields: []string{"title", "description", "location"},
		required:     []string{"title"},
		writeRole:    auth.RoleModerator,
	},
	{
		kind: content.KindMessage, plural: "messages",
		searchFields: []string{"name", "subject", "message"},
		required:     []string{"name", "email", "message"},
		readRole:     auth.RoleModerator,
		writeRole:    auth.RoleModerator,
		publicCreate: true,
	},
}

func validateProducer(fields content.Fields) error {
	if desc, _ := fields["description"].(string); len(strings.TrimSpace(desc)) < 20 {
		return errors.New("description must be at least 20 characters")
	}
	email, _ := fields["email"].(string)
	if !strings.Contains(email, "@") || strings.Contains(email, " ") {
		return errors.New("email is invalid")
	}
	if bt, ok := fields["businessType"].(string); ok && bt != "" && !businessTypes[strings.ToLower(bt)] {
		return errors.New("unknown businessType")
	}
	if region, ok := fields["region"].(string); ok && region != "" && !regions[strings.ToLower(region)] {
		return errors.New("unknown region")
	}
	return nil
}

func (d entityDef) check(fields content.Fields) error {
	for _, name := range d.required {
		if v, _ := fields[name].(string); strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if d.validate != nil {
		return d.validate(fields)
	}
	return nil
}

type paginationMeta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func (a *API) handleEntityCollection(w http.ResponseWriter, r *http.Request, def entityDef) {
	switch r.Method {
	case http.MethodGet:
		if def.readRole != "" {
			if !a.requireRole(w, r, def.readRole) {
				return
			}
		}
		a.listEntities(w, r, def)
	case http.MethodPost:
		if !def.publicCreate && !a.requireRole(w, r, def.writeRole) {
			return
		}
		a.createEntity(w, r, def)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleEntityResource(w http.ResponseWriter, r *http.Request, def entityDef) {
	id := strings.TrimPrefix(r.URL.Path, "/api/"+def.plural+"/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if def.readRole != "" && !a.requireRole(w, r, def.readRole) {
			return
		}
		a.getEntity(w, r, def, id)
	case http.MethodPut, http.MethodPatch:
		if !a.requireRole(w, r, def.writeRole) {
			return
		}
		a.updateEntity(w, r, def, id)
	case http.MethodDelete:
		if !a.requireRole(w, r, def.writeRole) {
			return
		}
		a.deleteEntity(w, r, def, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) listEntities(w http.ResponseWriter, r *http.Request, def entityDef) {
	q := r.URL.Query()

	page, err := parsePositiveInt(q.Get("page"), 1, 1, 10000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := parsePositiveInt(q.Get("limit"), 20, 1, 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	var recs []content.Record
	if term := strings.TrimSpace(q.Get("q")); term != "" {
		recs, err = a.content.Search(r.Context(), def.kind, term, def.searchFields)
	} else {
		opts := content.ListOptions{
			Filters:    collectFilters(q),
			OrderBy:    "createdAt",
			Descending: true,
		}
		recs, err = a.content.List(r.Context(), def.kind, opts)
	}
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	total := len(recs)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	pageRecs := recs[start:end]

	markDegraded(w, pageRecs...)
	writeJSON(w, http.StatusOK, map[string]any{
		def.plural: pageRecs,
		"pagination": paginationMeta{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

func collectFilters(q map[string][]string) map[string]any {
	filters := make(map[string]any)
	for _, name := range []string{"status", "region", "businessType", "category"} {
		if vals := q[name]; len(vals) > 0 && strings.TrimSpace(vals[0]) != "" {
			filters[name] = strings.ToLower(strings.TrimSpace(vals[0]))
		}
	}
	return filters
}

func (a *API) createEntity(w http.ResponseWriter, r *http.Request, def entityDef) {
	fields, file, err := a.decodePayload(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := def.check(fields); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Self-registered producers always start pending; only staff can seed
	// another status.
	if def.kind == content.KindProducer {
		if status, _ := fields["status"].(string); status == "" || !auth.HasRole(r.Context(), auth.RoleModerator) {
			fields["status"] = "pending"
		} else if !statuses[strings.ToLower(status)] {
			writeError(w, r, http.StatusBadRequest, "unknown status")
			return
		}
	}

	rec, err := a.content.Create(r.Context(), def.kind, fields, file)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "created", rec)
	a.publish(stream.ActionCreated, rec, r)

	markDegraded(w, rec)
	w.Header().Set("Location", "/api/"+def.plural+"/"+rec.ID)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) getEntity(w http.ResponseWriter, r *http.Request, def entityDef, id string) {
	rec, err := a.content.Get(r.Context(), def.kind, id)
	if err != nil {
		handleContentError(w, r, err)
		return
	}
	markDegraded(w, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) updateEntity(w http.ResponseWriter, r *http.Request, def entityDef, id string) {
	fields, file, err := a.decodePayload(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if status, ok := fields["status"].(string); ok && !statuses[strings.ToLower(status)] {
		writeError(w, r, http.StatusBadRequest, "unknown status")
		return
	}

	rec, err := a.content.Update(r.Context(), def.kind, id, fields, file)
	if err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "updated", rec)
	a.publish(stream.ActionUpdated, rec, r)

	markDegraded(w, rec)
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) deleteEntity(w http.ResponseWriter, r *http.Request, def entityDef, id string) {
	if err := a.content.Delete(r.Context(), def.kind, id); err != nil {
		handleContentError(w, r, err)
		return
	}

	audit.RecordChange(r.Context(), "deleted", content.Record{ID: id, Kind: def.kind})
	a.publish(stream.ActionDeleted, content.Record{ID: id, Kind: def.kind}, r)

	w.WriteHeader(http.StatusNoContent)
}

// decodePayload accepts either a JSON body or a multipart form with an
// optional "file" part alongside regular fields.
func (a *API) decodePayload(w http.ResponseWriter, r *http.Request) (content.Fields, *content.FileUpload, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return decodeMultipart(r)
	}
	var raw map[string]any
	if err := decodeJSON(w, r, &raw); err != nil {
		return nil, nil, err
	}
	return content.Normalize(raw), nil, nil
}

func (a *API) publish(action string, rec content.Record, r *http.Request) {
	if a.stream == nil {
		return
	}
	actor, _ := auth.UserIDFromContext(r.Context())
	a.stream.Publish(stream.Mutation(action, rec, actor))
}
