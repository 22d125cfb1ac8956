package openapi

import (
	"net/http"
	"strconv"

	"github.com/getkin/kin-openapi/openapi3"
)

// ─── Schema Builders ────────────────────────────────────────────────────────

func ref(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, nil)
}

func stringSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
}

func intSchema() *openapi3.Schema {
	return &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}
}

func integerSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: intSchema()}
}

func boolSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
}

func nullableInt(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"integer", "null"},
		Min:         openapi3.Float64Ptr(0),
		Description: description,
	}}
}

func dateTime() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
}

func nullableDateTime(description string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:        &openapi3.Types{"string", "null"},
		Format:      "date-time",
		Description: description,
	}}
}

func objectSchema(props openapi3.Schemas, required ...string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: props,
		Required:   required,
	}}
}

func arrayOf(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

// freeformSchema is an object passed through to the provider unchanged.
func freeformSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
}

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

func timeParam(name, description string, required bool) *openapi3.ParameterRef {
	p := openapi3.NewQueryParameter(name).
		WithDescription(description).
		WithSchema(&openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"})
	p.Required = required
	return &openapi3.ParameterRef{Value: p}
}

// ─── Responses ──────────────────────────────────────────────────────────────

func okResponses(description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
	return responses
}

// withErrors adds error envelope responses for codes plus the catch-all 500.
func withErrors(responses *openapi3.Responses, codes ...string) *openapi3.Responses {
	errorRef := ref("ErrorResponse")
	for _, code := range append(codes, "500") {
		n, _ := strconv.Atoi(code)
		desc := http.StatusText(n)
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return responses
}

// ─── Components ─────────────────────────────────────────────────────────────

func addSchemas(schemas openapi3.Schemas) {
	schemas["ErrorResponse"] = objectSchema(openapi3.Schemas{
		"error": objectSchema(openapi3.Schemas{
			"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
			"message": stringSchema(),
			"context": freeformSchema(),
		}, "code", "message"),
	}, "error")

	schemas["OKResponse"] = objectSchema(openapi3.Schemas{"ok": boolSchema()}, "ok")

	schemas["LoginRequest"] = objectSchema(openapi3.Schemas{
		"username": stringSchema(),
		"password": stringSchema(),
	})

	schemas["SessionState"] = objectSchema(openapi3.Schemas{
		"configured":    boolSchema(),
		"authenticated": boolSchema(),
	}, "configured", "authenticated")

	settings := openapi3.Schemas{
		"totalLimit": nullableInt("Lifetime request cap. Null means unlimited."),
		"dailyLimit": nullableInt("Requests per local calendar day. Null means unlimited."),
		"expiresAt":  nullableDateTime("Instant after which the key is rejected. Null means never."),
	}
	schemas["KeySettings"] = objectSchema(settings)

	createProps := openapi3.Schemas{
		"id": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:        &openapi3.Types{"string"},
			Pattern:     `^[A-Za-z0-9_.-]+$`,
			Description: "Key name. Surrounding whitespace is trimmed.",
		}},
	}
	for k, v := range settings {
		createProps[k] = v
	}
	schemas["CreateKeyRequest"] = objectSchema(createProps, "id")

	responseProps := openapi3.Schemas{"id": stringSchema()}
	for k, v := range settings {
		responseProps[k] = v
	}
	schemas["KeySettingsResponse"] = objectSchema(responseProps, "id", "totalLimit", "dailyLimit", "expiresAt")

	schemas["ManagedAPIKey"] = objectSchema(openapi3.Schemas{
		"id":         stringSchema(),
		"key":        stringSchema(),
		"createdAt":  dateTime(),
		"totalLimit": settings["totalLimit"],
		"dailyLimit": settings["dailyLimit"],
		"expiresAt":  settings["expiresAt"],
	}, "id", "key", "createdAt")

	schemas["KeyList"] = objectSchema(openapi3.Schemas{
		"items": arrayOf(objectSchema(openapi3.Schemas{
			"id":         stringSchema(),
			"prefix":     stringSchema(),
			"createdAt":  dateTime(),
			"totalLimit": settings["totalLimit"],
			"dailyLimit": settings["dailyLimit"],
			"expiresAt":  settings["expiresAt"],
			"totalUsage": integerSchema(),
		}, "id", "prefix", "createdAt", "totalUsage")),
	}, "items")

	schemas["UsageEvent"] = objectSchema(openapi3.Schemas{
		"keyId":     stringSchema(),
		"timestamp": dateTime(),
		"method":    stringSchema(),
		"path":      stringSchema(),
		"status":    integerSchema(),
	}, "keyId", "timestamp", "method", "path", "status")

	schemas["UsageReport"] = objectSchema(openapi3.Schemas{
		"keyId":      stringSchema(),
		"from":       dateTime(),
		"to":         dateTime(),
		"count":      integerSchema(),
		"totalUsage": integerSchema(),
		"dailyUsage": integerSchema(),
		"records":    arrayOf(ref("UsageEvent")),
	}, "keyId", "from", "to", "count", "totalUsage", "dailyUsage", "records")

	nullableTokens := func() *openapi3.SchemaRef { return nullableInt("") }
	schemas["AuditEvent"] = objectSchema(openapi3.Schemas{
		"id":           stringSchema(),
		"keyId":        stringSchema(),
		"timestamp":    dateTime(),
		"method":       stringSchema(),
		"path":         stringSchema(),
		"status":       integerSchema(),
		"durationMs":   integerSchema(),
		"tokenUsage":   nullableTokens(),
		"inputTokens":  nullableTokens(),
		"outputTokens": nullableTokens(),
		"request":      &openapi3.SchemaRef{Value: &openapi3.Schema{Description: "Request payload as received."}},
		"response":     &openapi3.SchemaRef{Value: &openapi3.Schema{Description: "Response payload, stream summary, or null on error."}},
		"error": &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"string", "null"},
		}},
	}, "id", "keyId", "timestamp", "method", "path", "status", "durationMs")

	schemas["AuditPage"] = objectSchema(openapi3.Schemas{
		"total":    integerSchema(),
		"pages":    integerSchema(),
		"page":     integerSchema(),
		"pageSize": integerSchema(),
		"items":    arrayOf(ref("AuditEvent")),
	}, "total", "pages", "page", "pageSize", "items")
}
