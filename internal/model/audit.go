package model

import "encoding/json"

// AuditEvent is a full capture of one request attempt made under a managed
// key, recorded regardless of outcome.
type AuditEvent struct {
	ID           string          `json:"id"`
	KeyID        string          `json:"keyId"`
	Timestamp    Timestamp       `json:"timestamp"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Status       int             `json:"status"`
	DurationMs   int64           `json:"durationMs"`
	TokenUsage   *int            `json:"tokenUsage"`
	InputTokens  *int            `json:"inputTokens"`
	OutputTokens *int            `json:"outputTokens"`
	Request      json.RawMessage `json:"request"`
	Response     json.RawMessage `json:"response"`
	Error        *string         `json:"error"`
}

// AuditContext is the caller-supplied part of an AuditEvent. Request and
// Response are marshaled as-is; a nil Response is stored as JSON null.
type AuditContext struct {
	Method       string
	Path         string
	Status       int
	DurationMs   int64
	TokenUsage   *int
	InputTokens  *int
	OutputTokens *int
	Request      any
	Response     any
	Error        string
}

// AuditPage is one page of audit events, newest first.
type AuditPage struct {
	Total    int          `json:"total"`
	Pages    int          `json:"pages"`
	Page     int          `json:"page"`
	PageSize int          `json:"pageSize"`
	Items    []AuditEvent `json:"items"`
}
