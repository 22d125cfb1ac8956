package model

// UsageEvent is the minimal per-request record used to compute quota
// counters. One is appended for each authorized managed-key request.
type UsageEvent struct {
	KeyID     string    `json:"keyId"`
	Timestamp Timestamp `json:"timestamp"`
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
}

// UsageContext carries the request facts recorded with a UsageEvent.
type UsageContext struct {
	Method string
	Path   string
	Status int
}

// UsageSummary holds the lifetime and current-day request counts for a key.
type UsageSummary struct {
	Total int `json:"total"`
	Daily int `json:"daily"`
}
