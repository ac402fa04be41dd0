package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"testing"
	"time"

	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/store/memory"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	tokens  *auth.TokenVerifier
	svc     *auth.Service
	org     auth.Organization
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	store := memory.New()
	svc, err := auth.NewService(store)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Bootstrap(ctx); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	org, err := svc.CreateOrganization(ctx, "Mojave Power")
	if err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	tokens := newVerifier(t)

	api := New(svc, tokens, ReadinessCheck{Store: store}, "test", WithRateLimit(0, 0))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		tokens:  tokens,
		svc:     svc,
		org:     org,
	}
}

// member creates a user in the test organization and returns its auth
// header. Admins also receive every default role.
func (c *apiClient) member(authID string, admin bool) map[string]string {
	c.t.Helper()
	ctx := context.Background()
	u, err := c.svc.CreateUser(ctx, authID)
	if err != nil {
		c.t.Fatalf("CreateUser: %v", err)
	}
	if _, err := c.svc.AddUserToOrg(ctx, u.ID, c.org.ID); err != nil {
		c.t.Fatalf("AddUserToOrg: %v", err)
	}
	if admin {
		if err := c.svc.PromoteUserToOrgAdmin(ctx, u.ID, c.org.ID); err != nil {
			c.t.Fatalf("PromoteUserToOrgAdmin: %v", err)
		}
	}
	token, err := c.tokens.Sign(authID, time.Minute)
	if err != nil {
		c.t.Fatalf("Sign: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
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
	c.t.Helper()
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
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

func expectStatus(t *testing.T, r *http.Response, want int) {
	t.Helper()
	if r.StatusCode != want {
		t.Fatalf("expected %d, got %d", want, r.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := api.get(path, nil, nil)
		expectStatus(t, resp, http.StatusOK)
		body := decode[map[string]any](t, resp)
		if len(body) == 0 {
			t.Fatalf("%s: empty body", path)
		}
	}

	resp := api.get("/metrics", nil, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/access/check", map[string]any{"object_id": "x", "action": "read"}, nil)
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)

	resp2 := api.get("/v1/objects", url.Values{"type": {"sites"}}, map[string]string{"Authorization": "Bearer nope"})
	defer resp2.Body.Close()
	expectStatus(t, resp2, http.StatusUnauthorized)
}

func TestObjectLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := api.member("auth0|admin", true)
	viewer := api.member("auth0|viewer", false)

	resp := api.post("/v1/objects", map[string]any{
		"object_type": "sites",
		"name":        "Ivanpah",
		"attributes":  map[string]any{"latitude": 35.55},
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	site := decode[auth.Object](t, resp)
	if site.ID == "" || site.OrganizationID != api.org.ID {
		t.Fatalf("unexpected site: %+v", site)
	}

	resp = api.post("/v1/objects", map[string]any{
		"object_type": "forecasts",
		"name":        "day ahead",
		"parent_id":   site.ID,
	}, admin)
	expectStatus(t, resp, http.StatusCreated)
	forecast := decode[auth.Object](t, resp)

	resp = api.post("/v1/access/check", map[string]any{"object_id": site.ID, "action": "delete"}, admin)
	expectStatus(t, resp, http.StatusOK)
	if d := decode[auth.Decision](t, resp); !d.Allowed || d.PermissionID == "" {
		t.Fatalf("expected admin delete to be allowed: %+v", d)
	}

	resp = api.post("/v1/access/check", map[string]any{"object_id": site.ID, "action": "read"}, viewer)
	expectStatus(t, resp, http.StatusOK)
	if d := decode[auth.Decision](t, resp); d.Allowed {
		t.Fatalf("expected viewer read to be denied: %+v", d)
	}

	resp = api.get("/v1/objects/"+site.ID+"/actions", nil, admin)
	expectStatus(t, resp, http.StatusOK)
	actions := decode[actionsResponse](t, resp)
	if !slices.Contains(actions.Actions, auth.ActionRead) || !slices.Contains(actions.Actions, auth.ActionDelete) {
		t.Fatalf("unexpected actions: %v", actions.Actions)
	}

	resp = api.get("/v1/objects/"+site.ID, nil, viewer)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)

	resp = api.get("/v1/objects", url.Values{"type": {"forecasts"}}, admin)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[objectsResponse](t, resp); len(list.Objects) != 1 || list.Objects[0].ID != forecast.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	resp = api.do(http.MethodDelete, "/v1/objects/"+site.ID, nil, admin)
	expectStatus(t, resp, http.StatusConflict)
	if body := decode[map[string]any](t, resp); body["dependency"] != "1 forecasts" {
		t.Fatalf("unexpected restrict body: %v", body)
	}

	resp = api.do(http.MethodDelete, "/v1/objects/"+forecast.ID, nil, admin)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)
	resp = api.do(http.MethodDelete, "/v1/objects/"+site.ID, nil, admin)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNoContent)

	resp = api.get("/v1/objects/"+site.ID+"/actions", nil, admin)
	resp.Body.Close()
	expectStatus(t, resp, http.StatusNotFound)
}

func TestCheckCreate(t *testing.T) {
	api := newTestAPI(t)
	admin := api.member("auth0|admin", true)
	viewer := api.member("auth0|viewer", false)

	body := map[string]any{"object_type": "observations", "organization_id": api.org.ID}
	resp := api.post("/v1/access/check-create", body, admin)
	expectStatus(t, resp, http.StatusOK)
	if d := decode[auth.Decision](t, resp); !d.Allowed {
		t.Fatalf("expected admin create to be allowed: %+v", d)
	}

	resp = api.post("/v1/access/check-create", body, viewer)
	expectStatus(t, resp, http.StatusOK)
	if d := decode[auth.Decision](t, resp); d.Allowed {
		t.Fatalf("expected viewer create to be denied: %+v", d)
	}
}

func TestRequestValidation(t *testing.T) {
	api := newTestAPI(t)
	admin := api.member("auth0|admin", true)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"unknown action", "/v1/access/check", map[string]any{"object_id": "x", "action": "fly"}},
		{"missing object", "/v1/access/check", map[string]any{"action": "read"}},
		{"unknown field", "/v1/access/check", map[string]any{"object_id": "x", "action": "read", "extra": 1}},
		{"unknown type", "/v1/access/check-create", map[string]any{"object_type": "planets", "organization_id": "x"}},
		{"rbac type", "/v1/objects", map[string]any{"object_type": "roles", "name": "r"}},
		{"orphan forecast", "/v1/objects", map[string]any{"object_type": "forecasts", "name": "fx"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := api.post(tc.path, tc.body, admin)
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}
}

func TestHandleAuthErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{auth.ErrAccessDenied, http.StatusNotFound},
		{auth.ErrNotFound, http.StatusNotFound},
		{auth.ErrInvalidInput, http.StatusBadRequest},
		{auth.ErrConflict, http.StatusConflict},
		{&auth.RestrictError{ObjectType: auth.TypeSites}, http.StatusConflict},
		{auth.ErrPrecondition, http.StatusPreconditionFailed},
		{auth.ErrCrossOrganization, http.StatusPreconditionFailed},
		{auth.ErrReferentialIntegrity, http.StatusFailedDependency},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		handleAuthError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rr.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rr.Code)
		}
	}
}
