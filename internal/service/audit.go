package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/store"
)

// AuditQuery selects a page of audit events. From and To are inclusive.
type AuditQuery struct {
	From     *time.Time
	To       *time.Time
	Query    string
	Page     int
	PageSize int
}

// AuditLog records full request captures per managed key.
type AuditLog struct {
	events *store.Collection[model.AuditEvent]
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewAuditLog creates an audit log over backend.
func NewAuditLog(backend store.Backend, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{
		events: store.NewCollection(backend, store.AuditCollection, validAudit),
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
}

func validAudit(e *model.AuditEvent) bool {
	return e.ID != "" && e.KeyID != ""
}

func marshalPayload(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 || !json.Valid(raw) {
			return json.RawMessage("null")
		}
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(strconv.Quote(fmt.Sprintf("unserializable payload: %v", err)))
	}
	return b
}

// Record appends one audit event for keyID.
func (a *AuditLog) Record(ctx context.Context, keyID string, ac model.AuditContext) (*model.AuditEvent, error) {
	ev := model.AuditEvent{
		ID:           a.newID(),
		KeyID:        keyID,
		Timestamp:    model.NewTimestamp(a.now()),
		Method:       ac.Method,
		Path:         ac.Path,
		Status:       ac.Status,
		DurationMs:   ac.DurationMs,
		TokenUsage:   ac.TokenUsage,
		InputTokens:  ac.InputTokens,
		OutputTokens: ac.OutputTokens,
		Request:      marshalPayload(ac.Request),
		Response:     marshalPayload(ac.Response),
	}
	if ac.Error != "" {
		msg := ac.Error
		ev.Error = &msg
	}
	err := a.events.Update(ctx, func(events []model.AuditEvent) ([]model.AuditEvent, error) {
		return append(events, ev), nil
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// RecordSafely records an event when keyID is set and logs any failure.
func (a *AuditLog) RecordSafely(ctx context.Context, keyID string, ac model.AuditContext) {
	if keyID == "" {
		return
	}
	if _, err := a.Record(ctx, keyID, ac); err != nil {
		a.logger.Warn("failed to record audit", "key_id", keyID, "error", err)
	}
}

func intField(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// haystack is the text a free-text query is matched against.
func haystack(e *model.AuditEvent) string {
	parts := []string{
		e.Path,
		e.Method,
		strconv.Itoa(e.Status),
		intField(e.TokenUsage),
		intField(e.InputTokens),
		intField(e.OutputTokens),
	}
	if e.Error != nil {
		parts = append(parts, *e.Error)
	}
	parts = append(parts, string(e.Request), string(e.Response))
	return strings.ToLower(strings.Join(parts, " "))
}

// Page filters, sorts newest first and paginates audit events for keyID.
// PageSize is at least 1 and Page is clamped into [1, pages], with at
// least one page even when nothing matches.
func (a *AuditLog) Page(ctx context.Context, keyID string, q AuditQuery) (*model.AuditPage, error) {
	events, err := a.events.Read(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Query))
	matched := make([]model.AuditEvent, 0)
	for i := range events {
		e := &events[i]
		if e.KeyID != keyID {
			continue
		}
		if q.From != nil && e.Timestamp.Before(*q.From) {
			continue
		}
		if q.To != nil && e.Timestamp.After(*q.To) {
			continue
		}
		if needle != "" && !strings.Contains(haystack(e), needle) {
			continue
		}
		matched = append(matched, *e)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp.Time)
	})

	pageSize := max(1, q.PageSize)
	total := len(matched)
	pages := max(1, int(math.Ceil(float64(total)/float64(pageSize))))
	page := min(max(1, q.Page), pages)

	start := (page - 1) * pageSize
	end := min(start+pageSize, total)
	items := []model.AuditEvent{}
	if start < total {
		items = matched[start:end]
	}

	return &model.AuditPage{
		Total:    total,
		Pages:    pages,
		Page:     page,
		PageSize: pageSize,
		Items:    items,
	}, nil
}

// Ensure creates the audit collection if absent.
func (a *AuditLog) Ensure(ctx context.Context) error {
	return a.events.Ensure(ctx)
}
