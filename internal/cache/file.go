// Package cache keeps a JSON payload on disk with an expiry, reloading it
// from its source once stale.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Loader fetches a fresh payload from the source of truth.
type Loader[T any] func(ctx context.Context) (T, error)

type envelope[T any] struct {
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Payload   T         `json:"payload"`
}

// Status describes the cache file without loading the payload into callers.
type Status struct {
	Path      string    `json:"path"`
	Exists    bool      `json:"exists"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// File is a TTL cache persisted at Path. It is safe for concurrent use.
type File[T any] struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu  sync.Mutex
	mem *envelope[T]
}

// NewFile returns a cache at path whose entries live for ttl.
func NewFile[T any](path string, ttl time.Duration) *File[T] {
	return &File[T]{path: path, ttl: ttl, now: time.Now}
}

// Get returns the cached payload while it is fresh, otherwise reloads it.
// When the reload fails and a stale payload exists, the stale payload is
// returned alongside a logged warning.
func (f *File[T]) Get(ctx context.Context, load Loader[T]) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mem == nil {
		if env, err := f.read(); err == nil {
			f.mem = env
		} else if !os.IsNotExist(eris.Cause(err)) {
			zap.L().Warn("cache: unreadable file, reloading", zap.String("path", f.path), zap.Error(err))
		}
	}
	if f.mem != nil && f.now().Before(f.mem.ExpiresAt) {
		return f.mem.Payload, nil
	}

	v, err := f.refreshLocked(ctx, load)
	if err != nil && f.mem != nil {
		zap.L().Warn("cache: reload failed, serving stale payload", zap.String("path", f.path), zap.Error(err))
		return f.mem.Payload, nil
	}
	return v, err
}

// Refresh reloads unconditionally and persists the result.
func (f *File[T]) Refresh(ctx context.Context, load Loader[T]) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshLocked(ctx, load)
}

func (f *File[T]) refreshLocked(ctx context.Context, load Loader[T]) (T, error) {
	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, eris.Wrap(err, "cache: load")
	}
	now := f.now()
	env := &envelope[T]{UpdatedAt: now, ExpiresAt: now.Add(f.ttl), Payload: v}
	if err := f.write(env); err != nil {
		return v, err
	}
	f.mem = env
	return v, nil
}

// Status reports the on-disk state.
func (f *File[T]) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := Status{Path: f.path}
	env, err := f.read()
	if err != nil {
		return st
	}
	st.Exists = true
	st.UpdatedAt = env.UpdatedAt
	st.ExpiresAt = env.ExpiresAt
	st.Valid = f.now().Before(env.ExpiresAt)
	return st
}

// Clear removes the file and the in-memory copy.
func (f *File[T]) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem = nil
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "cache: remove %s", f.path)
	}
	return nil
}

func (f *File[T]) read() (*envelope[T], error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: read %s", f.path)
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, eris.Wrapf(err, "cache: decode %s", f.path)
	}
	return &env, nil
}

// write replaces the file atomically via a temp file in the same directory.
func (f *File[T]) write(env *envelope[T]) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: encode")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "cache: mkdir %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "cache: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrap(err, "cache: write temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "cache: close temp")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return eris.Wrapf(err, "cache: rename to %s", f.path)
	}
	return nil
}
