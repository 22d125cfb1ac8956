package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Collection is a typed view of one backend document. Records that fail
// to decode or that the validity predicate rejects are dropped on read.
type Collection[T any] struct {
	backend Backend
	name    string
	valid   func(*T) bool
}

// NewCollection binds a backend document to record type T. valid may be nil.
func NewCollection[T any](b Backend, name string, valid func(*T) bool) *Collection[T] {
	return &Collection[T]{backend: b, name: name, valid: valid}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Read returns every well-formed record. A missing, empty or malformed
// document reads as an empty collection.
func (c *Collection[T]) Read(ctx context.Context) ([]T, error) {
	doc, err := c.backend.Load(ctx, c.name)
	if err != nil {
		return nil, err
	}
	return c.decode(doc), nil
}

// Write replaces the whole collection.
func (c *Collection[T]) Write(ctx context.Context, records []T) error {
	doc, err := encode(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.name, err)
	}
	return c.backend.Save(ctx, c.name, doc)
}

// Update applies fn to the current records and writes the result. fn may
// return ErrNoChange to leave the collection untouched.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) ([]T, error)) error {
	return c.backend.Update(ctx, c.name, func(current []byte) ([]byte, error) {
		next, err := fn(c.decode(current))
		if err != nil {
			return nil, err
		}
		doc, err := encode(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.name, err)
		}
		return doc, nil
	})
}

// Ensure creates an empty collection if absent.
func (c *Collection[T]) Ensure(ctx context.Context) error {
	return c.backend.Ensure(ctx, c.name)
}

func (c *Collection[T]) decode(doc []byte) []T {
	if len(bytes.TrimSpace(doc)) == 0 {
		return []T{}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		return []T{}
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var rec T
		if err := json.Unmarshal(r, &rec); err != nil {
			continue
		}
		if c.valid != nil && !c.valid(&rec) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func encode[T any](records []T) ([]byte, error) {
	if records == nil {
		records = []T{}
	}
	return json.MarshalIndent(records, "", "  ")
}
