package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	keys    *service.KeyRegistry
	ledger  *service.QuotaLedger
	audit   *service.AuditLog
	signer  *service.SessionSigner
	handler *AdminHandler
	router  chi.Router
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	dir := t.TempDir()
	return store.NewFileBackend(map[string]string{
		store.KeysCollection:  filepath.Join(dir, "api_keys.json"),
		store.UsageCollection: filepath.Join(dir, "api_key_usage.json"),
		store.AuditCollection: filepath.Join(dir, "api_key_audit.json"),
	})
}

// newTestEnv creates a fresh test environment over a temporary file backend
// with admin routes mounted (no session middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := newTestBackend(t)
	env := &testEnv{
		keys:   service.NewKeyRegistry(backend, nil),
		ledger: service.NewQuotaLedger(backend, discardLogger()),
		audit:  service.NewAuditLog(backend, discardLogger()),
		signer: service.NewSessionSigner(testAdminUser, testAdminPassword),
	}
	env.handler = NewAdminHandler(env.keys, env.ledger, env.audit, env.signer, discardLogger())

	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", env.handler.Login)
		r.Post("/logout", env.handler.Logout)
		r.Get("/session", env.handler.Session)

		r.Get("/api-keys", env.handler.ListKeys)
		r.Post("/api-keys", env.handler.CreateKey)
		r.Get("/api-keys/{id}", env.handler.GetKey)
		r.Delete("/api-keys/{id}", env.handler.DeleteKey)
		r.Patch("/api-keys/{id}/settings", env.handler.UpdateSettings)
		r.Get("/api-keys/{id}/usage", env.handler.Usage)
		r.Get("/api-keys/{id}/audit", env.handler.Audit)
	})
	env.router = r
	return env
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
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
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &body)
	return body.Error.Message
}
