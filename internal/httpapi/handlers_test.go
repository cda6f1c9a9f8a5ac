package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"ucaep.org/internal/auth"
	"ucaep.org/internal/content"
	"ucaep.org/internal/dashboard"
	"ucaep.org/internal/stream"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	svc     *content.Service
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("UCAEP_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	local, err := content.NewLocalStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	svc := content.NewService(nil, local)

	poller := dashboard.NewPoller(dashboard.NewAggregator(svc), 0)

	api := New(ReadyProbe{}, "test", svc, poller, stream.New(), auth.NewMemoryCache())
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// seedUser writes a profile record and signs it in.
func (c *apiClient) seedUser(email string, role auth.Role) string {
	c.t.Helper()
	hash, err := auth.HashPassword("correct-password")
	if err != nil {
		c.t.Fatalf("HashPassword: %v", err)
	}
	if _, err := c.svc.Create(c.t.Context(), content.KindProfile, content.Fields{
		"email":        email,
		"passwordHash": hash,
		"role":         role.String(),
		"name":         "Test User",
	}, nil); err != nil {
		c.t.Fatalf("seed profile: %v", err)
	}

	resp := c.post("/api/auth/login", map[string]any{
		"email":    email,
		"password": "correct-password",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[loginResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestProducerRegistrationAndModerationFlow(t *testing.T) {
	api := newTestAPI(t)

	// Anonymous self-registration; the claimed status must be ignored.
	resp := api.post("/api/producers", map[string]any{
		"businessName": "Vanille de Ngazidja",
		"email":        "coop@example.km",
		"description":  "Vanilla growers cooperative from the north of the island",
		"businessType": "agriculture",
		"region":       "ngazidja",
		"status":       "approved",
		"products":     []string{"vanilla", "cloves"},
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	created := decode[content.Record](t, resp)
	if created.Status() != "pending" {
		t.Fatalf("self-registration must start pending, got %q", created.Status())
	}
	if resp.Header.Get("Location") == "" {
		t.Fatalf("expected Location header")
	}

	// Public read works without a token.
	resp = api.get("/api/producers/"+created.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public read status: %d", resp.StatusCode)
	}
	fetched := decode[content.Record](t, resp)
	if products, ok := fetched.Fields["products"].([]any); !ok || len(products) != 2 {
		t.Fatalf("products not preserved: %v", fetched.Fields["products"])
	}

	admin := api.seedUser("admin@ucaep.org", auth.RoleAdmin)

	// Pending queue shows the new producer.
	resp = api.get("/api/admin/producers/pending", nil, bearerHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending status: %d", resp.StatusCode)
	}
	pending := decode[map[string]any](t, resp)
	if pending["total"].(float64) != 1 {
		t.Fatalf("expected 1 pending producer, got %v", pending["total"])
	}

	// Approve it.
	resp = api.do(http.MethodPatch, "/api/admin/producers/"+created.ID+"/status",
		map[string]any{"status": "approved"}, bearerHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("moderation status: %d", resp.StatusCode)
	}
	moderated := decode[content.Record](t, resp)
	if moderated.Status() != "approved" {
		t.Fatalf("status not applied: %q", moderated.Status())
	}

	// Status filter now finds it.
	resp = api.get("/api/producers", url.Values{"status": []string{"approved"}}, nil)
	listing := decode[map[string]any](t, resp)
	producers := listing["producers"].([]any)
	if len(producers) != 1 {
		t.Fatalf("expected 1 approved producer, got %d", len(producers))
	}
	pagination := listing["pagination"].(map[string]any)
	if pagination["total"].(float64) != 1 || pagination["page"].(float64) != 1 {
		t.Fatalf("unexpected pagination: %v", pagination)
	}
}

func TestProducerValidation(t *testing.T) {
	api := newTestAPI(t)

	cases := map[string]map[string]any{
		"short description": {
			"businessName": "X", "email": "a@b.km", "description": "too short",
		},
		"bad email": {
			"businessName": "X", "email": "not-an-email",
			"description": "long enough description for the validator",
		},
		"unknown region": {
			"businessName": "X", "email": "a@b.km",
			"description": "long enough description for the validator",
			"region":      "mayotte",
		},
		"unknown business type": {
			"businessName": "X", "email": "a@b.km",
			"description":  "long enough description for the validator",
			"businessType": "aquaponics",
		},
	}
	for name, body := range cases {
		resp := api.post("/api/producers", body, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestMessagesArePrivateToStaff(t *testing.T) {
	api := newTestAPI(t)

	// Anyone can send a message.
	resp := api.post("/api/messages", map[string]any{
		"name":    "Visitor",
		"email":   "visitor@example.km",
		"message": "How do I join the cooperative?",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("message create status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Reading them anonymously is rejected.
	resp = api.get("/api/messages", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous, got %d", resp.StatusCode)
	}

	// A plain viewer is authenticated but still not allowed.
	viewer := api.seedUser("viewer@ucaep.org", auth.RoleViewer)
	resp = api.get("/api/messages", nil, bearerHeader(viewer))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", resp.StatusCode)
	}

	moderator := api.seedUser("mod@ucaep.org", auth.RoleModerator)
	resp = api.get("/api/messages", nil, bearerHeader(moderator))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for moderator, got %d", resp.StatusCode)
	}
	listing := decode[map[string]any](t, resp)
	if msgs := listing["messages"].([]any); len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestWriteRequiresRole(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/api/news", map[string]any{"title": "Harvest season"}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	moderator := api.seedUser("mod@ucaep.org", auth.RoleModerator)
	resp = api.post("/api/news", map[string]any{"title": "Harvest season"}, bearerHeader(moderator))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginLogoutAndMe(t *testing.T) {
	api := newTestAPI(t)
	token := api.seedUser("admin@ucaep.org", auth.RoleAdmin)

	resp := api.get("/api/auth/me", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decode[userView](t, resp)
	if me.Email != "admin@ucaep.org" || me.Role != "admin" {
		t.Fatalf("unexpected identity: %+v", me)
	}

	resp = api.post("/api/auth/logout", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}

	// The revoked token no longer authenticates.
	resp = api.get("/api/auth/me", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.seedUser("admin@ucaep.org", auth.RoleAdmin)

	resp := api.post("/api/auth/login", map[string]any{
		"email":    "admin@ucaep.org",
		"password": "wrong",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = api.post("/api/auth/login", map[string]any{
		"email":    "nobody@ucaep.org",
		"password": "whatever",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user, got %d", resp.StatusCode)
	}
}

func TestDashboardSummaryEndpoint(t *testing.T) {
	api := newTestAPI(t)
	moderator := api.seedUser("mod@ucaep.org", auth.RoleModerator)

	// Not ready until the poller has refreshed once.
	resp := api.get("/api/dashboard/summary", nil, bearerHeader(moderator))
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first refresh, got %d", resp.StatusCode)
	}
}

func TestProfilesHidePasswordHash(t *testing.T) {
	api := newTestAPI(t)
	admin := api.seedUser("admin@ucaep.org", auth.RoleAdmin)

	resp := api.get("/api/admin/profiles", nil, bearerHeader(admin))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profiles status: %d", resp.StatusCode)
	}
	listing := decode[map[string]any](t, resp)
	profiles := listing["profiles"].([]any)
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	fields := profiles[0].(map[string]any)["fields"].(map[string]any)
	if _, leaked := fields["passwordHash"]; leaked {
		t.Fatalf("passwordHash leaked in response")
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}

	resp := api.get("/readyz", nil, nil)
	ready := decode[map[string]any](t, resp)
	if ready["detached"] != true {
		t.Fatalf("detached flag missing from readiness: %v", ready)
	}
}

func TestUnknownEntityPathIs404(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/api/widgets", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActivityStreamRequiresStaff(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/api/activity/stream", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	api := newTestAPI(t)
	moderator := api.seedUser("mod@ucaep.org", auth.RoleModerator)

	for _, title := range []string{"Vanilla harvest begins", "New irrigation project"} {
		resp := api.post("/api/news", map[string]any{"title": title}, bearerHeader(moderator))
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("news create status: %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.get("/api/news", url.Values{"q": []string{"vanilla"}}, nil)
	listing := decode[map[string]any](t, resp)
	items := listing["news"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 search hit, got %d", len(items))
	}
	title := items[0].(map[string]any)["fields"].(map[string]any)["title"].(string)
	if !strings.Contains(strings.ToLower(title), "vanilla") {
		t.Fatalf("unexpected hit: %s", title)
	}
}
