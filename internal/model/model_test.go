package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimestampCanonicalJSON(t *testing.T) {
	ts := NewTimestamp(time.Date(2026, 3, 4, 5, 6, 7, 891234567, time.FixedZone("X", 3600)))

	b, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(b), `"2026-03-04T04:06:07.891Z"`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	var back Timestamp
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equal(ts.Time) {
		t.Errorf("round trip: got %v, want %v", back, ts)
	}
}

func TestTimestampUnmarshalRejectsNonString(t *testing.T) {
	var ts Timestamp
	for _, in := range []string{`null`, `12345`, `"not a date"`} {
		if err := json.Unmarshal([]byte(in), &ts); err == nil {
			t.Errorf("Unmarshal(%s): expected error", in)
		}
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-01-02T03:04:05Z", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2026-01-02T03:04:05.123+02:00", time.Date(2026, 1, 2, 1, 4, 5, 123e6, time.UTC)},
		{"2026-01-02", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2026-01-02T03:04", time.Date(2026, 1, 2, 3, 4, 0, 0, time.Local)},
		{"  2026-01-02T03:04:05  ", time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "tomorrow", "2026-13-40"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q): expected error", bad)
		}
	}
}

func TestManagedAPIKeyNullableFields(t *testing.T) {
	k := ManagedAPIKey{ID: "a", Key: "cpk_x", CreatedAt: NewTimestamp(time.Unix(0, 0))}
	b, err := json.Marshal(k)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, field := range []string{`"totalLimit":null`, `"dailyLimit":null`, `"expiresAt":null`} {
		if !strings.Contains(s, field) {
			t.Errorf("expected %s in %s", field, s)
		}
	}
}

func TestManagedAPIKeyExpired(t *testing.T) {
	now := NewTimestamp(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	past := NewTimestamp(now.Add(-time.Second))
	future := NewTimestamp(now.Add(time.Second))

	if (&ManagedAPIKey{}).Expired(now) {
		t.Error("key without expiry should never be expired")
	}
	if !(&ManagedAPIKey{ExpiresAt: &past}).Expired(now) {
		t.Error("key with past expiry should be expired")
	}
	if !(&ManagedAPIKey{ExpiresAt: &now}).Expired(now) {
		t.Error("key expiring exactly now should be expired")
	}
	if (&ManagedAPIKey{ExpiresAt: &future}).Expired(now) {
		t.Error("key with future expiry should not be expired")
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	b, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 429, Message: "quota"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got, want := string(b), `{"error":{"code":429,"message":"quota"}}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
