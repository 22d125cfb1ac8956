package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testAdminUser     = "admin"
	testAdminPassword = "supersecretpassword"
	testStaticToken   = "static-token-for-tests"
)

// fakeUpstream answers every forward with a fixed JSON body.
type fakeUpstream struct {
	calls int
}

func (f *fakeUpstream) Forward(_ context.Context, method, path string, body []byte) (*http.Response, error) {
	f.calls++
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body: io.NopCloser(strings.NewReader(
			`{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`,
		)),
	}, nil
}

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	keys     *service.KeyRegistry
	ledger   *service.QuotaLedger
	audit    *service.AuditLog
	upstream *fakeUpstream
}

func newBackend(t *testing.T) store.Backend {
	t.Helper()
	dir := t.TempDir()
	return store.NewFileBackend(map[string]string{
		store.KeysCollection:  filepath.Join(dir, "api_keys.json"),
		store.UsageCollection: filepath.Join(dir, "api_key_usage.json"),
		store.AuditCollection: filepath.Join(dir, "api_key_audit.json"),
	})
}

// newTestEnv creates a fully wired Server over a temporary file store.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	return newTestEnvWithBackend(t, newBackend(t), mutate)
}

func newTestEnvWithBackend(t *testing.T, backend store.Backend, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		keys:     service.NewKeyRegistry(backend, nil),
		ledger:   service.NewQuotaLedger(backend, logger),
		audit:    service.NewAuditLog(backend, logger),
		upstream: &fakeUpstream{},
	}
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	env.server = New(cfg, Services{
		Keys:     env.keys,
		Usage:    env.ledger,
		Audit:    env.audit,
		Signer:   service.NewSessionSigner(testAdminUser, testAdminPassword),
		Upstream: env.upstream,
	}, logger)
	return env
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	e.server.Wait()
	return rr
}

// login authenticates as the admin and returns the session cookie header.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	rr := e.do(t, "POST", "/admin/login", jsonBody(t, map[string]string{
		"username": testAdminUser,
		"password": testAdminPassword,
	}), nil)
	assertStatus(t, rr, http.StatusOK)
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.SessionCookieName {
			return c.Name + "=" + c.Value
		}
	}
	t.Fatal("login did not set a session cookie")
	return ""
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp model.ErrorResponse
	decodeJSON(t, rr, &resp)
	return resp.Error.Message
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" || resp.Checks["store"] != "ok" {
		t.Errorf("readyz = %+v", resp)
	}
}

func TestReadyzDegradedWhenStoreUnreadable(t *testing.T) {
	// No collection paths: every read fails.
	env := newTestEnvWithBackend(t, store.NewFileBackend(nil), nil)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "degraded" || !strings.HasPrefix(resp.Checks["store"], "error:") {
		t.Errorf("readyz = %+v", resp)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var doc struct {
		OpenAPI string `json:"openapi"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]json.RawMessage `json:"paths"`
	}
	decodeJSON(t, rr, &doc)
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) == 0 || doc.Servers[0].URL != "http://example.com" {
		t.Errorf("servers = %+v", doc.Servers)
	}
	for _, p := range []string{"/admin/login", "/admin/api-keys", "/v1/chat/completions", "/embeddings"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("path %s missing from document", p)
		}
	}
}

// ---------------------------------------------------------------------------
// Admin API tests
// ---------------------------------------------------------------------------

func TestAdminRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t, nil)

	paths := []struct{ method, path string }{
		{"GET", "/admin/api-keys"},
		{"POST", "/admin/api-keys"},
		{"GET", "/admin/api-keys/any"},
		{"DELETE", "/admin/api-keys/any"},
		{"PATCH", "/admin/api-keys/any/settings"},
		{"GET", "/admin/api-keys/any/usage"},
		{"GET", "/admin/api-keys/any/audit"},
	}
	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rr := env.do(t, p.method, p.path, nil, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}

	rr := env.do(t, "GET", "/admin/api-keys", nil, map[string]string{
		"Cookie": middleware.SessionCookieName + "=forged.token",
	})
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminSessionFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "GET", "/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	var state struct {
		Configured    bool `json:"configured"`
		Authenticated bool `json:"authenticated"`
	}
	decodeJSON(t, rr, &state)
	if !state.Configured || state.Authenticated {
		t.Errorf("anonymous session = %+v", state)
	}

	cookie := env.login(t)
	rr = env.do(t, "GET", "/admin/session", nil, map[string]string{"Cookie": cookie})
	decodeJSON(t, rr, &state)
	if !state.Authenticated {
		t.Error("session should be authenticated after login")
	}

	rr = env.do(t, "GET", "/admin/api-keys", nil, map[string]string{"Cookie": cookie})
	assertStatus(t, rr, http.StatusOK)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.LoginRateLimit = 2 })

	bad := map[string]string{"username": testAdminUser, "password": "wrong"}
	for i := 0; i < 2; i++ {
		rr := env.do(t, "POST", "/admin/login", jsonBody(t, bad), nil)
		assertStatus(t, rr, http.StatusUnauthorized)
	}
	rr := env.do(t, "POST", "/admin/login", jsonBody(t, bad), nil)
	assertStatus(t, rr, http.StatusTooManyRequests)
}

// ---------------------------------------------------------------------------
// Completion surface tests
// ---------------------------------------------------------------------------

func TestCompletionRequiresConfiguredAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "POST", "/v1/chat/completions", strings.NewReader(`{"model":"m"}`), nil)
	assertStatus(t, rr, http.StatusUnauthorized)
	if got := errorMessage(t, rr); got != middleware.MsgNotConfigured {
		t.Errorf("message = %q, want %q", got, middleware.MsgNotConfigured)
	}
	if env.upstream.calls != 0 {
		t.Error("upstream called for rejected request")
	}
}

func TestCompletionWithManagedKey(t *testing.T) {
	env := newTestEnv(t, nil)
	cookie := env.login(t)

	rr := env.do(t, "POST", "/admin/api-keys", jsonBody(t, map[string]interface{}{
		"id":         "client",
		"totalLimit": 2,
	}), map[string]string{"Cookie": cookie})
	assertStatus(t, rr, http.StatusOK)
	var created model.ManagedAPIKey
	decodeJSON(t, rr, &created)

	auth := map[string]string{"Authorization": "Bearer " + created.Key}
	for _, path := range []string{"/v1/chat/completions", "/chat/completions"} {
		rr = env.do(t, "POST", path, strings.NewReader(`{"model":"m","messages":[]}`), auth)
		assertStatus(t, rr, http.StatusOK)
	}

	// Quota of 2 is now spent.
	rr = env.do(t, "POST", "/v1/chat/completions", strings.NewReader(`{"model":"m"}`), auth)
	assertStatus(t, rr, http.StatusTooManyRequests)
	if got := errorMessage(t, rr); got != middleware.MsgTotalQuotaExceeded {
		t.Errorf("message = %q", got)
	}
	if env.upstream.calls != 2 {
		t.Errorf("upstream calls = %d, want 2", env.upstream.calls)
	}

	sum, err := env.ledger.Summary(context.Background(), "client", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 2 {
		t.Errorf("recorded usage = %d, want 2", sum.Total)
	}

	page, err := env.audit.Page(context.Background(), "client", service.AuditQuery{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("audit events = %d, want 2", page.Total)
	}
	if tu := page.Items[0].TokenUsage; tu == nil || *tu != 4 {
		t.Errorf("tokenUsage = %v, want 4", tu)
	}
}

func TestCompletionWithStaticToken(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.StaticTokens = []string{testStaticToken} })

	for i := 0; i < 3; i++ {
		rr := env.do(t, "GET", "/v1/models", nil, map[string]string{"X-API-Key": testStaticToken})
		assertStatus(t, rr, http.StatusOK)
	}

	totals, err := env.ledger.Totals(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(totals) != 0 {
		t.Errorf("static token usage recorded: %v", totals)
	}

	rr := env.do(t, "GET", "/v1/models", nil, map[string]string{"X-API-Key": "wrong"})
	assertStatus(t, rr, http.StatusUnauthorized)
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}
}

func TestCORSPreflightBypassesAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, "OPTIONS", "/v1/chat/completions", nil, map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Authorization, Content-Type",
	})
	if rr.Code == http.StatusUnauthorized {
		t.Fatalf("preflight rejected: %s", rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin on preflight")
	}
}

func TestConfigFrom(t *testing.T) {
	c := config.Default()
	c.Server.Port = 9999
	c.Server.CORSOrigins = []string{"https://ui.example.com"}

	cfg := ConfigFrom(c)
	if cfg.Port != 9999 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "https://ui.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if len(cfg.ProtectedPrefixes) == 0 {
		t.Error("ProtectedPrefixes should default")
	}
	if cfg.LoginRateLimit != DefaultConfig().LoginRateLimit {
		t.Errorf("LoginRateLimit = %d", cfg.LoginRateLimit)
	}
}
