package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/model"
)

func newTestAudit(t *testing.T, c *clock) *AuditLog {
	t.Helper()
	a := NewAuditLog(newTestBackend(t), nil)
	if c != nil {
		a.now = c.Now
	}
	return a
}

func TestRecordAudit(t *testing.T) {
	a := newTestAudit(t, nil)
	ctx := context.Background()

	ev, err := a.Record(ctx, "k", model.AuditContext{
		Method:     "POST",
		Path:       "/v1/chat/completions",
		Status:     502,
		DurationMs: 12,
		TokenUsage: intp(30),
		Request:    map[string]any{"model": "gpt-4o"},
		Error:      "upstream failed",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected generated id")
	}
	if string(ev.Response) != "null" {
		t.Errorf("response = %s, want null", ev.Response)
	}
	if ev.Error == nil || *ev.Error != "upstream failed" {
		t.Errorf("error = %v", ev.Error)
	}

	page, _ := a.Page(ctx, "k", AuditQuery{Page: 1, PageSize: 10})
	if page.Total != 1 {
		t.Fatalf("total = %d", page.Total)
	}
	var req map[string]any
	if err := json.Unmarshal(page.Items[0].Request, &req); err != nil || req["model"] != "gpt-4o" {
		t.Errorf("request round trip: %s", page.Items[0].Request)
	}
}

func TestRecordSafelySkipsWithoutKey(t *testing.T) {
	a := newTestAudit(t, nil)
	ctx := context.Background()
	a.RecordSafely(ctx, "", model.AuditContext{Status: 200})
	a.RecordSafely(ctx, "k", model.AuditContext{Status: 200})

	page, _ := a.Page(ctx, "k", AuditQuery{})
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}
	empty, _ := a.Page(ctx, "", AuditQuery{})
	if empty.Total != 0 {
		t.Errorf("keyless event recorded")
	}
}

func TestPagePagination(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	a := newTestAudit(t, c)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		a.Record(ctx, "k", model.AuditContext{Method: "POST", Path: fmt.Sprintf("/p/%d", i), Status: 200})
		c.Advance(time.Second)
	}
	a.Record(ctx, "other", model.AuditContext{Status: 200})

	tests := []struct {
		page, wantPage, wantItems int
	}{
		{1, 1, 20},
		{2, 2, 20},
		{3, 3, 5},
		{0, 1, 20},
		{-4, 1, 20},
		{99, 3, 5},
	}
	for _, tt := range tests {
		p, err := a.Page(ctx, "k", AuditQuery{Page: tt.page, PageSize: 20})
		if err != nil {
			t.Fatalf("Page(%d): %v", tt.page, err)
		}
		if p.Total != 45 || p.Pages != 3 {
			t.Errorf("Page(%d): total=%d pages=%d", tt.page, p.Total, p.Pages)
		}
		if p.Page != tt.wantPage || len(p.Items) != tt.wantItems {
			t.Errorf("Page(%d): page=%d items=%d, want %d/%d", tt.page, p.Page, len(p.Items), tt.wantPage, tt.wantItems)
		}
	}

	first, _ := a.Page(ctx, "k", AuditQuery{Page: 1, PageSize: 20})
	if first.Items[0].Path != "/p/44" {
		t.Errorf("newest first: got %s", first.Items[0].Path)
	}
}

func TestPageEmptyAndPageSizeClamp(t *testing.T) {
	a := newTestAudit(t, nil)
	ctx := context.Background()

	p, _ := a.Page(ctx, "k", AuditQuery{Page: 5, PageSize: 0})
	if p.Pages != 1 || p.Page != 1 || p.PageSize != 1 || p.Total != 0 {
		t.Errorf("empty page = %+v", p)
	}
	if p.Items == nil {
		t.Error("items should be an empty slice, not nil")
	}
}

func TestPageFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &clock{t: base}
	a := newTestAudit(t, c)
	ctx := context.Background()

	a.Record(ctx, "k", model.AuditContext{Method: "POST", Path: "/v1/chat/completions", Status: 200, Request: map[string]string{"prompt": "Find the Needle"}})
	c.Advance(time.Hour)
	a.Record(ctx, "k", model.AuditContext{Method: "POST", Path: "/v1/embeddings", Status: 500, Error: "Upstream Timeout"})
	c.Advance(time.Hour)
	a.Record(ctx, "k", model.AuditContext{Method: "GET", Path: "/v1/models", Status: 200, InputTokens: intp(4242)})

	count := func(q AuditQuery) int {
		t.Helper()
		p, err := a.Page(ctx, "k", q)
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		return p.Total
	}

	if n := count(AuditQuery{Query: "needle"}); n != 1 {
		t.Errorf("request match: %d", n)
	}
	if n := count(AuditQuery{Query: "upstream timeout"}); n != 1 {
		t.Errorf("error match: %d", n)
	}
	if n := count(AuditQuery{Query: "4242"}); n != 1 {
		t.Errorf("token match: %d", n)
	}
	if n := count(AuditQuery{Query: "500"}); n != 1 {
		t.Errorf("status match: %d", n)
	}
	if n := count(AuditQuery{Query: "post"}); n != 2 {
		t.Errorf("method match: %d", n)
	}
	if n := count(AuditQuery{Query: "   "}); n != 3 {
		t.Errorf("blank query should match all: %d", n)
	}

	from := base.Add(time.Hour)
	to := base.Add(2 * time.Hour)
	if n := count(AuditQuery{From: &from}); n != 2 {
		t.Errorf("from filter: %d", n)
	}
	if n := count(AuditQuery{To: &from}); n != 2 {
		t.Errorf("to filter inclusive: %d", n)
	}
	if n := count(AuditQuery{From: &from, To: &to, Query: "EMBEDDINGS"}); n != 1 {
		t.Errorf("combined: %d", n)
	}
}

func TestHaystackIncludesPayloads(t *testing.T) {
	ev := &model.AuditEvent{
		Path:     "/x",
		Method:   "POST",
		Status:   201,
		Request:  json.RawMessage(`{"A":"B"}`),
		Response: json.RawMessage(`{"C":"D"}`),
	}
	h := haystack(ev)
	for _, want := range []string{"/x", "post", "201", `{"a":"b"}`, `{"c":"d"}`} {
		if !strings.Contains(h, want) {
			t.Errorf("haystack %q missing %q", h, want)
		}
	}
}
