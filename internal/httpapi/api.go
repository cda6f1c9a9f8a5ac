package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
	"ucaep.org/internal/dashboard"
	"ucaep.org/internal/obs"
	"ucaep.org/internal/stream"
)

// ReadyProbe reports backend readiness, e.g. a database ping. A nil DB means
// detached mode and always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the content service, gate and aggregator.
type API struct {
	mux        *http.ServeMux
	content    *content.Service
	gate       *auth.Gate
	sessions   auth.SessionCache
	dashboard  *dashboard.Poller
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string

	tokenTTL   time.Duration
	rateBurst  int
	ratePerSec int
	maxBody    int64
}

// Option tunes API construction.
type Option func(*API)

// WithTokenTTL sets the lifetime of issued session tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(a *API) {
		if ttl > 0 {
			a.tokenTTL = ttl
		}
	}
}

// WithRateLimit overrides the per-client token bucket parameters.
func WithRateLimit(perSec, burst int) Option {
	return func(a *API) {
		if perSec > 0 {
			a.ratePerSec = perSec
		}
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

// WithMaxBodyBytes caps the accepted request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(rp ReadyProbe, version string, svc *content.Service, poller *dashboard.Poller, str *stream.Stream, sessions auth.SessionCache, opts ...Option) *API {
	if sessions == nil {
		sessions = auth.NewMemoryCache()
	}
	a := &API{
		mux:        http.NewServeMux(),
		content:    svc,
		sessions:   sessions,
		dashboard:  poller,
		stream:     str,
		readyProbe: rp,
		version:    version,
		tokenTTL:   24 * time.Hour,
		rateBurst:  40,
		ratePerSec: 20,
		maxBody:    10 << 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.gate = auth.NewGate(sessions, profileRoles{svc: svc})

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/auth/me", a.handleMe)

	a.mux.HandleFunc("/api/uploads", a.handleUpload)
	a.mux.HandleFunc("/api/dashboard/summary", a.handleDashboardSummary)
	a.mux.HandleFunc("/api/activity/stream", a.handleActivityStream)

	for _, def := range entityDefs {
		def := def
		a.mux.HandleFunc("/api/"+def.plural, func(w http.ResponseWriter, r *http.Request) {
			a.handleEntityCollection(w, r, def)
		})
		a.mux.HandleFunc("/api/"+def.plural+"/", func(w http.ResponseWriter, r *http.Request) {
			a.handleEntityResource(w, r, def)
		})
	}

	a.mux.HandleFunc("/api/admin/producers/pending", a.handlePendingProducers)
	a.mux.HandleFunc("/api/admin/producers/", a.handleProducerModeration)
	a.mux.HandleFunc("/api/admin/profiles", a.handleProfilesCollection)
	a.mux.HandleFunc("/api/admin/profiles/", a.handleProfileResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(obs.Instrument(a.mux))
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "ucaep-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"detached": a.content.Detached(),
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ucaep-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("value must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("value out of range")
	}
	return val, nil
}

func handleContentError(w http.ResponseWriter, r *http.Request, err error) {
	var uploadErr *content.UploadError
	switch {
	case errors.Is(err, content.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, content.ErrInvalidKind):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.As(err, &uploadErr):
		writeError(w, r, http.StatusBadGateway, "file upload failed")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// markDegraded surfaces partial records to clients without failing the call.
func markDegraded(w http.ResponseWriter, recs ...content.Record) {
	for _, rec := range recs {
		if len(rec.Degraded) > 0 {
			w.Header().Set("Warning", `199 - "response contains degraded records"`)
			return
		}
	}
}
