package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLBackend keeps collection documents in a "collections" table on
// SQLite or PostgreSQL.
type SQLBackend struct {
	db       *sqlx.DB
	postgres bool
}

// NewSQLBackend connects and creates the collections table. For sqlite an
// empty dsn opens a private in-memory database.
func NewSQLBackend(driver, dsn string) (*SQLBackend, error) {
	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		}
	case "postgres":
		if dsn == "" {
			return nil, errors.New("postgres storage requires a dsn")
		}
		db, err = sqlx.Connect("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", driver, err)
	}

	b := &SQLBackend{db: db, postgres: driver == "postgres"}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate storage: %w", err)
	}
	return b, nil
}

func (b *SQLBackend) migrate() error {
	_, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Load returns the stored document or nil.
func (b *SQLBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var doc string
	err := b.db.GetContext(ctx, &doc, b.db.Rebind(`SELECT doc FROM collections WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return []byte(doc), nil
}

// Save upserts the document.
func (b *SQLBackend) Save(ctx context.Context, name string, doc []byte) error {
	q := b.db.Rebind(`INSERT INTO collections (name, doc, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`)
	if _, err := b.db.ExecContext(ctx, q, name, string(doc), now()); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Update performs the read-modify-write in one transaction. The row is
// created first so concurrent writers contend on it; PostgreSQL also takes
// a row lock before reading.
func (b *SQLBackend) Update(ctx context.Context, name string, fn func([]byte) ([]byte, error)) error {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	seed := tx.Rebind(`INSERT INTO collections (name, doc, updated_at) VALUES (?, '[]', ?)
		ON CONFLICT (name) DO NOTHING`)
	if _, err := tx.ExecContext(ctx, seed, name, now()); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}

	sel := `SELECT doc FROM collections WHERE name = ?`
	if b.postgres {
		sel += ` FOR UPDATE`
	}
	var doc string
	if err := tx.GetContext(ctx, &doc, tx.Rebind(sel), name); err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	next, err := fn([]byte(doc))
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}

	upd := tx.Rebind(`UPDATE collections SET doc = ?, updated_at = ? WHERE name = ?`)
	if _, err := tx.ExecContext(ctx, upd, string(next), now(), name); err != nil {
		return fmt.Errorf("update %s: %w", name, err)
	}
	return tx.Commit()
}

// Ensure inserts an empty array document if the row is missing.
func (b *SQLBackend) Ensure(ctx context.Context, name string) error {
	q := b.db.Rebind(`INSERT INTO collections (name, doc, updated_at) VALUES (?, '[]', ?)
		ON CONFLICT (name) DO NOTHING`)
	if _, err := b.db.ExecContext(ctx, q, name, now()); err != nil {
		return fmt.Errorf("ensure %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}
