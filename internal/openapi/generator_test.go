package openapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGatewaySpec_Info(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("OpenAPI version = %q, want %q", doc.OpenAPI, "3.1.0")
	}
	if doc.Info == nil || doc.Info.Title != "keygate API" {
		t.Fatalf("Info = %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:4141" {
		t.Errorf("Servers not set correctly")
	}
}

func TestGatewaySpec_SecuritySchemes(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")

	apiKey, ok := doc.Components.SecuritySchemes[SchemeAPIKey]
	if !ok {
		t.Fatal("apiKey security scheme not found")
	}
	if apiKey.Value.In != "header" || apiKey.Value.Name != "X-API-Key" {
		t.Errorf("apiKey = %+v", apiKey.Value)
	}

	bearer, ok := doc.Components.SecuritySchemes[SchemeBearer]
	if !ok || bearer.Value.Scheme != "bearer" {
		t.Error("bearer security scheme missing")
	}

	session, ok := doc.Components.SecuritySchemes[SchemeSession]
	if !ok || session.Value.In != "cookie" || session.Value.Name != "keygate_admin_session" {
		t.Error("session cookie scheme missing")
	}
}

func TestGatewaySpec_Paths(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")

	tests := []struct {
		path    string
		methods []string
	}{
		{"/healthz", []string{"GET"}},
		{"/admin/login", []string{"POST"}},
		{"/admin/logout", []string{"POST"}},
		{"/admin/session", []string{"GET"}},
		{"/admin/api-keys", []string{"GET", "POST"}},
		{"/admin/api-keys/{id}", []string{"GET", "DELETE"}},
		{"/admin/api-keys/{id}/settings", []string{"PATCH"}},
		{"/admin/api-keys/{id}/usage", []string{"GET"}},
		{"/admin/api-keys/{id}/audit", []string{"GET"}},
		{"/chat/completions", []string{"POST"}},
		{"/v1/chat/completions", []string{"POST"}},
		{"/embeddings", []string{"POST"}},
		{"/v1/embeddings", []string{"POST"}},
		{"/models", []string{"GET"}},
		{"/v1/models", []string{"GET"}},
	}
	for _, tt := range tests {
		item := doc.Paths.Value(tt.path)
		if item == nil {
			t.Errorf("path %s missing", tt.path)
			continue
		}
		for _, m := range tt.methods {
			if item.GetOperation(m) == nil {
				t.Errorf("%s %s missing", m, tt.path)
			}
		}
	}
}

func TestGatewaySpec_OperationIDsUnique(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")
	seen := map[string]string{}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if prev, dup := seen[op.OperationID]; dup {
				t.Errorf("operationId %q used by %s and %s %s", op.OperationID, prev, method, path)
			}
			seen[op.OperationID] = method + " " + path
		}
	}
}

func TestGatewaySpec_KeyRoutesRequireSession(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")
	op := doc.Paths.Value("/admin/api-keys").Post
	if op.Security == nil || len(*op.Security) != 1 {
		t.Fatalf("create key security = %v", op.Security)
	}
	if _, ok := (*op.Security)[0][SchemeSession]; !ok {
		t.Error("create key does not require the session scheme")
	}
	if op.Responses.Value("409") == nil {
		t.Error("create key should document 409")
	}

	chat := doc.Paths.Value("/v1/chat/completions").Post
	if chat.Responses.Value("429") == nil {
		t.Error("chat completions should document 429")
	}
}

func TestGatewaySpec_ErrorResponseSchema(t *testing.T) {
	doc := GatewaySpec("http://localhost:4141")

	errSchema, ok := doc.Components.Schemas["ErrorResponse"]
	if !ok {
		t.Fatal("ErrorResponse schema not found in components")
	}
	errorProp, ok := errSchema.Value.Properties["error"]
	if !ok {
		t.Fatal("error property not found in ErrorResponse schema")
	}
	for _, field := range []string{"code", "message", "context"} {
		if _, ok := errorProp.Value.Properties[field]; !ok {
			t.Errorf("%s property not found in error object", field)
		}
	}
}

func TestGatewaySpec_MarshalsToJSON(t *testing.T) {
	data, err := json.Marshal(GatewaySpec("http://localhost:4141"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"openapi":"3.1.0"`, `"/admin/api-keys/{id}/audit"`, `"#/components/schemas/AuditPage"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON missing %s", want)
		}
	}
}
