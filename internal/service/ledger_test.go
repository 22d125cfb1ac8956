package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/model"
)

func newTestLedger(t *testing.T, c *clock) *QuotaLedger {
	t.Helper()
	l := NewQuotaLedger(newTestBackend(t), nil)
	if c != nil {
		l.now = c.Now
	}
	return l
}

func TestSummaryDailyResetsAtLocalMidnight(t *testing.T) {
	c := &clock{t: time.Date(2026, 4, 9, 23, 59, 59, 0, time.Local)}
	l := newTestLedger(t, c)
	ctx := context.Background()

	if err := l.RecordUsage(ctx, "k", model.UsageContext{Method: "POST", Path: "/v1/chat/completions", Status: 200}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	sum, _ := l.Summary(ctx, "k", c.Now())
	if sum.Total != 1 || sum.Daily != 1 {
		t.Errorf("same day: got %+v", sum)
	}

	c.Advance(2 * time.Second) // 00:00:01 next day
	l.RecordUsage(ctx, "k", model.UsageContext{Method: "POST", Path: "/v1/chat/completions", Status: 200})

	sum, err := l.Summary(ctx, "k", c.Now())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Total != 2 {
		t.Errorf("total = %d, want 2", sum.Total)
	}
	if sum.Daily != 1 {
		t.Errorf("daily = %d, want 1 after midnight", sum.Daily)
	}
}

func TestSummaryIsolatesKeys(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		l.RecordUsage(ctx, "a", model.UsageContext{})
	}
	l.RecordUsage(ctx, "b", model.UsageContext{})

	sum, _ := l.Summary(ctx, "a", time.Now())
	if sum.Total != 3 {
		t.Errorf("a total = %d, want 3", sum.Total)
	}
	totals, err := l.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals["a"] != 3 || totals["b"] != 1 {
		t.Errorf("totals = %v", totals)
	}
}

func TestConcurrentRecordUsageCountsEveryEvent(t *testing.T) {
	l := newTestLedger(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordUsage(ctx, "k", model.UsageContext{Status: 200})
		}()
	}
	wg.Wait()

	sum, _ := l.Summary(ctx, "k", time.Now())
	if sum.Total != 25 {
		t.Errorf("total = %d, want 25", sum.Total)
	}
}

func TestByRangeInclusive(t *testing.T) {
	start := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	c := &clock{t: start}
	l := newTestLedger(t, c)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.RecordUsage(ctx, "k", model.UsageContext{Status: 200 + i})
		c.Advance(time.Minute)
	}

	got, err := l.ByRange(ctx, "k", start.Add(time.Minute), start.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("ByRange: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Status != 201 || got[2].Status != 203 {
		t.Errorf("wrong events: %+v", got)
	}

	none, _ := l.ByRange(ctx, "other", start, start.Add(time.Hour))
	if none == nil || len(none) != 0 {
		t.Errorf("other key: got %v, want empty slice", none)
	}
}
