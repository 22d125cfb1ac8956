package cli

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

func TestFormatLimit(t *testing.T) {
	n := 0
	if got := formatLimit(nil); got != "unlimited" {
		t.Errorf("formatLimit(nil) = %q", got)
	}
	if got := formatLimit(&n); got != "0" {
		t.Errorf("formatLimit(0) = %q", got)
	}
}

func TestLimitFlag(t *testing.T) {
	if limitFlag(-1) != nil {
		t.Error("negative flag should mean unlimited")
	}
	if got := limitFlag(0); got == nil || *got != 0 {
		t.Errorf("limitFlag(0) = %v, want 0", got)
	}
}

func TestFormatExpiry(t *testing.T) {
	if got := formatExpiry(nil); got != "never" {
		t.Errorf("formatExpiry(nil) = %q", got)
	}
	ts := model.NewTimestamp(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if got := formatExpiry(&ts); got != ts.String() {
		t.Errorf("formatExpiry = %q, want %q", got, ts.String())
	}
}

func TestParseRange(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.Local)

	from, to, err := parseRange("", "", now)
	if err != nil {
		t.Fatal(err)
	}
	if !to.Equal(now) || from.Hour() != 0 || from.Day() != 10 {
		t.Errorf("default range = %v .. %v", from, to)
	}

	if _, _, err := parseRange("2026-03-11", "2026-03-10", now); err == nil {
		t.Error("expected error for reversed range")
	}
	if _, _, err := parseRange("soon", "", now); err == nil {
		t.Error("expected error for unparseable --from")
	}
}

func TestStorageDSN(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = "/var/lib/keygate"

	cfg.Storage.Driver = "sqlite"
	if got := storageDSN(cfg); got != filepath.Join("/var/lib/keygate", "keygate.db") {
		t.Errorf("sqlite dsn = %q", got)
	}

	cfg.Storage.DSN = "file:custom.db"
	if got := storageDSN(cfg); got != "file:custom.db" {
		t.Errorf("explicit dsn = %q", got)
	}

	cfg.Storage.Driver = "file"
	cfg.Storage.DSN = ""
	if got := storageDSN(cfg); got != "" {
		t.Errorf("file dsn = %q, want empty", got)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	if _, err := readPID(cfg); err == nil {
		t.Fatal("expected error before the PID file exists")
	}
	if err := writePID(cfg, 4242); err != nil {
		t.Fatal(err)
	}
	pid, err := readPID(cfg)
	if err != nil || pid != 4242 {
		t.Errorf("readPID = %d, %v", pid, err)
	}
	removePID(cfg)
	if _, err := readPID(cfg); err == nil {
		t.Error("PID file should be removed")
	}
}

func TestMaskValue(t *testing.T) {
	if maskValue("") != "" {
		t.Error("empty value should stay empty")
	}
	if got := maskValue("secret"); got == "secret" {
		t.Error("value not masked")
	}
}

func TestAdminAuthWarning(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		pass     string
		contains string
	}{
		{name: "unset", contains: "unauthenticated and open"},
		{name: "password only", pass: "secret", contains: "rejects every login"},
		{name: "configured", user: "admin", pass: "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := adminAuthWarning(service.NewSessionSigner(tt.user, tt.pass), tt.user)
			if tt.contains == "" {
				if got != "" {
					t.Errorf("warning = %q, want none", got)
				}
				return
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("warning = %q, want it to mention %q", got, tt.contains)
			}
		})
	}
}
