// Package openapi describes the keygate HTTP API as an OpenAPI 3.1 document.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

// Security scheme names.
const (
	SchemeAPIKey  = "apiKey"
	SchemeBearer  = "bearerAuth"
	SchemeSession = "adminSession"
)

// sessionCookie mirrors the admin session cookie name.
const sessionCookie = "keygate_admin_session"

// GatewaySpec returns the OpenAPI document for the gateway served at baseURL.
func GatewaySpec(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "keygate API",
			Description: "Managed API keys, quota enforcement and audit for an OpenAI-compatible gateway.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	// Initialize components
	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes[SchemeAPIKey] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes[SchemeBearer] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:   "http",
			Scheme: "bearer",
		},
	}
	doc.Components.SecuritySchemes[SchemeSession] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "cookie",
			Name: sessionCookie,
		},
	}

	addSchemas(doc.Components.Schemas)
	doc.Paths = openapi3.NewPaths()

	addHealthPaths(doc)
	addSessionPaths(doc)
	addKeyPaths(doc)
	for _, prefix := range []string{"", "/v1"} {
		addCompletionPaths(doc, prefix)
	}
	return doc
}

var (
	apiKeySecurity = openapi3.SecurityRequirements{
		{SchemeAPIKey: {}},
		{SchemeBearer: {}},
	}
	sessionSecurity = openapi3.SecurityRequirements{
		{SchemeSession: {}},
	}
)

func addHealthPaths(doc *openapi3.T) {
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Liveness probe",
			OperationID: "healthz",
			Responses:   okResponses("Process is running", objectSchema(openapi3.Schemas{"status": stringSchema()})),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"system"},
			Summary:     "Readiness probe",
			Description: "Reports 503 when the record store cannot be read.",
			OperationID: "readyz",
			Responses:   okResponses("Record store is readable", objectSchema(openapi3.Schemas{"status": stringSchema()})),
		},
	})
}

func addSessionPaths(doc *openapi3.T) {
	doc.Paths.Set("/admin/login", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Sign in as the operator",
			Description: "Accepts JSON or form credentials and sets the session cookie. Rate limited per client IP.",
			OperationID: "adminLogin",
			RequestBody: jsonBody("Operator credentials", ref("LoginRequest")),
			Responses:   withErrors(okResponses("Signed in", ref("OKResponse")), "401", "429"),
		},
	})
	doc.Paths.Set("/admin/logout", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Clear the session cookie",
			OperationID: "adminLogout",
			Responses:   okResponses("Signed out", ref("OKResponse")),
		},
	})
	doc.Paths.Set("/admin/session", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Report the caller's session state",
			OperationID: "adminSession",
			Responses:   okResponses("Session state", ref("SessionState")),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	idParam := &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("id").
			WithDescription("Key name.").
			WithSchema(openapi3.NewStringSchema()),
	}

	doc.Paths.Set("/admin/api-keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "List managed keys",
			Description: "Secrets are masked. Each item carries its lifetime request count.",
			OperationID: "listKeys",
			Security:    &sessionSecurity,
			Responses:   withErrors(okResponses("Managed keys", ref("KeyList")), "401"),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Create a managed key",
			Description: "Returns the full record including the secret.",
			OperationID: "createKey",
			Security:    &sessionSecurity,
			RequestBody: jsonBody("Key name and policy", ref("CreateKeyRequest")),
			Responses:   withErrors(okResponses("Created key", ref("ManagedAPIKey")), "400", "401", "409"),
		},
	})
	doc.Paths.Set("/admin/api-keys/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Reveal a key's secret",
			OperationID: "getKey",
			Security:    &sessionSecurity,
			Responses: withErrors(okResponses("Key secret", objectSchema(openapi3.Schemas{
				"id":  stringSchema(),
				"key": stringSchema(),
			})), "401", "404"),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Delete a key",
			Description: "Usage and audit history are kept.",
			OperationID: "deleteKey",
			Security:    &sessionSecurity,
			Responses:   withErrors(okResponses("Deleted", ref("OKResponse")), "401", "404"),
		},
	})
	doc.Paths.Set("/admin/api-keys/{id}/settings", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Patch: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Replace a key's limits and expiry",
			Description: "Absent or null fields clear the corresponding setting.",
			OperationID: "updateKeySettings",
			Security:    &sessionSecurity,
			RequestBody: jsonBody("New policy", ref("KeySettings")),
			Responses:   withErrors(okResponses("Updated policy", ref("KeySettingsResponse")), "400", "401", "404"),
		},
	})
	doc.Paths.Set("/admin/api-keys/{id}/usage", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Usage events in a time range",
			OperationID: "keyUsage",
			Security:    &sessionSecurity,
			Parameters: openapi3.Parameters{
				timeParam("from", "Inclusive range start.", true),
				timeParam("to", "Inclusive range end.", true),
			},
			Responses: withErrors(okResponses("Usage report", ref("UsageReport")), "400", "401", "404"),
		},
	})
	doc.Paths.Set("/admin/api-keys/{id}/audit", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			Tags:        []string{"api-keys"},
			Summary:     "Page through audit events",
			Description: "Newest first. query matches path, method, status, token counts, error and payloads case-insensitively.",
			OperationID: "keyAudit",
			Security:    &sessionSecurity,
			Parameters: openapi3.Parameters{
				timeParam("from", "Inclusive range start.", false),
				timeParam("to", "Inclusive range end.", false),
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("query").
						WithDescription("Substring filter.").
						WithSchema(openapi3.NewStringSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("page").
						WithDescription("1-based page, clamped to the last page.").
						WithSchema(intSchema()),
				},
				&openapi3.ParameterRef{
					Value: openapi3.NewQueryParameter("pageSize").
						WithDescription("Items per page, 1 to 200. Defaults to 20.").
						WithSchema(intSchema()),
				},
			},
			Responses: withErrors(okResponses("Audit page", ref("AuditPage")), "400", "401", "404"),
		},
	})
}

func addCompletionPaths(doc *openapi3.T, prefix string) {
	quota := []string{"401", "429"}
	doc.Paths.Set(prefix+"/chat/completions", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"completions"},
			Summary:     "Create a chat completion",
			Description: "Proxied to the upstream provider. With stream=true the response is a server-sent event stream.",
			OperationID: "chatCompletions" + opSuffix(prefix),
			Security:    &apiKeySecurity,
			RequestBody: jsonBody("Chat completion request", freeformSchema()),
			Responses:   withErrors(okResponses("Completion", freeformSchema()), quota...),
		},
	})
	doc.Paths.Set(prefix+"/embeddings", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"completions"},
			Summary:     "Create embeddings",
			OperationID: "embeddings" + opSuffix(prefix),
			Security:    &apiKeySecurity,
			RequestBody: jsonBody("Embeddings request", freeformSchema()),
			Responses:   withErrors(okResponses("Embeddings", freeformSchema()), quota...),
		},
	})
	doc.Paths.Set(prefix+"/models", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"completions"},
			Summary:     "List models",
			OperationID: "models" + opSuffix(prefix),
			Security:    &apiKeySecurity,
			Responses:   withErrors(okResponses("Model list", freeformSchema()), quota...),
		},
	})
}

func opSuffix(prefix string) string {
	if prefix == "" {
		return ""
	}
	return "V1"
}
