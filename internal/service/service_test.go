package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/faucetdb/keygate/internal/store"
)

// newTestBackend returns a file backend rooted in a temp dir.
func newTestBackend(t *testing.T) store.Backend {
	t.Helper()
	dir := t.TempDir()
	return store.NewFileBackend(map[string]string{
		store.KeysCollection:  filepath.Join(dir, "api_keys.json"),
		store.UsageCollection: filepath.Join(dir, "api_key_usage.json"),
		store.AuditCollection: filepath.Join(dir, "api_key_audit.json"),
	})
}

// clock is a settable time source.
type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func intp(n int) *int { return &n }
