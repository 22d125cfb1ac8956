package model

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the canonical wire form for every persisted instant:
// UTC with millisecond precision, e.g. 2026-01-02T15:04:05.000Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Timestamp is a time.Time that always serializes in TimestampLayout so the
// persisted JSON documents stay byte-stable across writers.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalizes t to UTC millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

// String returns the canonical representation.
func (t Timestamp) String() string {
	return t.UTC().Format(TimestampLayout)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. Any layout accepted by
// ParseTimestamp is allowed so documents written by older tools still load.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return errors.New("timestamp: null")
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp: expected string, got %s", data)
	}
	parsed, err := ParseTimestamp(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// accepted layouts, tried in order. Layouts without a zone are read in the
// local zone, matching how a browser datetime-local input is interpreted.
var timestampLayouts = []struct {
	layout string
	local  bool
}{
	{time.RFC3339Nano, false},
	{time.RFC3339, false},
	{"2006-01-02T15:04:05.000", true},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02 15:04:05", true},
}

// ParseTimestamp parses an instant in any of the supported layouts. A bare
// date (2006-01-02) is read as UTC midnight.
func ParseTimestamp(raw string) (Timestamp, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Timestamp{}, errors.New("timestamp: empty")
	}
	for _, l := range timestampLayouts {
		var (
			parsed time.Time
			err    error
		)
		if l.local {
			parsed, err = time.ParseInLocation(l.layout, s, time.Local)
		} else {
			parsed, err = time.Parse(l.layout, s)
		}
		if err == nil {
			return NewTimestamp(parsed), nil
		}
	}
	if parsed, err := time.Parse("2006-01-02", s); err == nil {
		return NewTimestamp(parsed), nil
	}
	return Timestamp{}, fmt.Errorf("timestamp: cannot parse %q", raw)
}
