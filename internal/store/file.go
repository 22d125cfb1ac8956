package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FileBackend stores each collection as a JSON file. Writes go to a
// uniquely named temporary file in the same directory, which is renamed
// over the canonical path and restricted to owner read/write.
//
// Updates to the same collection are serialized within this process.
// Separate processes sharing the files are not coordinated: the later
// rename wins.
type FileBackend struct {
	paths map[string]string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileBackend maps collection names to file paths.
func NewFileBackend(paths map[string]string) *FileBackend {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	return &FileBackend{paths: cp, locks: make(map[string]*sync.Mutex)}
}

func (b *FileBackend) path(name string) (string, error) {
	p, ok := b.paths[name]
	if !ok || p == "" {
		return "", fmt.Errorf("no path configured for collection %q", name)
	}
	return p, nil
}

func (b *FileBackend) lock(name string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[name]
	if !ok {
		l = &sync.Mutex{}
		b.locks[name] = l
	}
	return l
}

// Load reads the collection file. A missing file yields nil.
func (b *FileBackend) Load(_ context.Context, name string) ([]byte, error) {
	p, err := b.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

// Save writes doc atomically.
func (b *FileBackend) Save(_ context.Context, name string, doc []byte) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	l := b.lock(name)
	l.Lock()
	defer l.Unlock()
	return writeAtomic(p, doc)
}

// Update reads, transforms and rewrites the collection under the
// per-collection lock.
func (b *FileBackend) Update(ctx context.Context, name string, fn func([]byte) ([]byte, error)) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	l := b.lock(name)
	l.Lock()
	defer l.Unlock()

	current, err := b.Load(ctx, name)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	return writeAtomic(p, next)
}

// Ensure creates the file with an empty array if it is missing.
func (b *FileBackend) Ensure(_ context.Context, name string) error {
	p, err := b.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	l := b.lock(name)
	l.Lock()
	defer l.Unlock()
	return writeAtomic(p, []byte("[]"))
}

// Close is a no-op for files.
func (b *FileBackend) Close() error { return nil }

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	return nil
}
