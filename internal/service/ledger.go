package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

// QuotaLedger records usage events and derives counters from them. Counters
// are always recomputed from the log, never cached.
type QuotaLedger struct {
	usage  *store.Collection[model.UsageEvent]
	now    func() time.Time
	logger *slog.Logger
}

// NewQuotaLedger creates a ledger over backend.
func NewQuotaLedger(backend store.Backend, logger *slog.Logger) *QuotaLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuotaLedger{
		usage:  store.NewCollection(backend, store.UsageCollection, validUsage),
		now:    time.Now,
		logger: logger,
	}
}

func validUsage(e *model.UsageEvent) bool {
	return e.KeyID != "" && !e.Timestamp.IsZero()
}

// RecordUsage appends one event for keyID stamped with the current time.
func (l *QuotaLedger) RecordUsage(ctx context.Context, keyID string, uc model.UsageContext) error {
	ev := model.UsageEvent{
		KeyID:     keyID,
		Timestamp: model.NewTimestamp(l.now()),
		Method:    uc.Method,
		Path:      uc.Path,
		Status:    uc.Status,
	}
	return l.usage.Update(ctx, func(events []model.UsageEvent) ([]model.UsageEvent, error) {
		return append(events, ev), nil
	})
}

// RecordUsageSafely is RecordUsage with errors logged instead of returned.
func (l *QuotaLedger) RecordUsageSafely(ctx context.Context, keyID string, uc model.UsageContext) {
	if err := l.RecordUsage(ctx, keyID, uc); err != nil {
		l.logger.Warn("failed to record usage", "key_id", keyID, "error", err)
	}
}

// StartOfDay returns local midnight of the calendar day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.In(time.Local).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// Summary counts all events for keyID and those at or after the start of
// ref's local calendar day.
func (l *QuotaLedger) Summary(ctx context.Context, keyID string, ref time.Time) (model.UsageSummary, error) {
	events, err := l.usage.Read(ctx)
	if err != nil {
		return model.UsageSummary{}, err
	}
	dayStart := StartOfDay(ref)
	var sum model.UsageSummary
	for _, e := range events {
		if e.KeyID != keyID {
			continue
		}
		sum.Total++
		if !e.Timestamp.Before(dayStart) {
			sum.Daily++
		}
	}
	return sum, nil
}

// Totals returns the lifetime event count for every key in one read.
func (l *QuotaLedger) Totals(ctx context.Context) (map[string]int, error) {
	events, err := l.usage.Read(ctx)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int)
	for _, e := range events {
		totals[e.KeyID]++
	}
	return totals, nil
}

// ByRange returns the events for keyID with from <= timestamp <= to.
func (l *QuotaLedger) ByRange(ctx context.Context, keyID string, from, to time.Time) ([]model.UsageEvent, error) {
	events, err := l.usage.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := []model.UsageEvent{}
	for _, e := range events {
		if e.KeyID != keyID || e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ensure creates the usage collection if absent.
func (l *QuotaLedger) Ensure(ctx context.Context) error {
	return l.usage.Ensure(ctx)
}
