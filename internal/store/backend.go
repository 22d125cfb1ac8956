// Package store persists record collections as whole JSON array documents.
//
// Every collection is read and written in full. The default backend keeps
// one file per collection on the local filesystem; the SQL backend keeps
// the same documents as rows of a single table so several gateway processes
// can share them.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoChange can be returned from an update function to skip the write.
var ErrNoChange = errors.New("store: no change")

// Collection names used by the gateway.
const (
	KeysCollection  = "api_keys"
	UsageCollection = "api_key_usage"
	AuditCollection = "api_key_audit"
)

// Backend reads and writes raw collection documents.
type Backend interface {
	// Load returns the current document, or nil when none exists yet.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the document atomically.
	Save(ctx context.Context, name string, doc []byte) error

	// Update runs a read-modify-write cycle. fn receives the current
	// document (nil when absent) and returns the replacement. Returning
	// ErrNoChange skips the write without error.
	Update(ctx context.Context, name string, fn func(current []byte) ([]byte, error)) error

	// Ensure creates an empty array document when none exists.
	Ensure(ctx context.Context, name string) error

	Close() error
}

// Open returns the backend for driver. "file" (or empty) uses paths to
// locate each collection; "sqlite" and "postgres" use dsn.
func Open(driver, dsn string, paths map[string]string) (Backend, error) {
	switch driver {
	case "", "file":
		return NewFileBackend(paths), nil
	case "sqlite", "postgres":
		return NewSQLBackend(driver, dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// EnsureAll creates every named collection.
func EnsureAll(ctx context.Context, b Backend, names ...string) error {
	for _, name := range names {
		if err := b.Ensure(ctx, name); err != nil {
			return fmt.Errorf("ensure %s: %w", name, err)
		}
	}
	return nil
}
