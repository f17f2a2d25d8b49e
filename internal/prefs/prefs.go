// Package prefs persists client preferences (active tab, theme, watchlist,
// mode) as JSON values in a pluggable backend.
//
// Storage failures never reach callers. Every write is mirrored into memory
// and any backend error degrades reads to that copy, so a broken or missing
// backend behaves like a fresh install rather than an outage.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Keys used by the scanner.
const (
	KeyActiveTab = "active_tab"
	KeyTheme     = "theme"
	KeyWatchlist = "watchlist"
	KeyMode      = "mode"
)

// Backend is raw key/value storage.
type Backend interface {
	// Get returns ok=false, err=nil for a missing key.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Memory is an in-process Backend.
type Memory struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory { return &Memory{m: make(map[string][]byte)} }

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, key)
	return nil
}

func (m *Memory) Close() error { return nil }

// Store is the fault-tolerant preferences facade. Safe for concurrent use.
type Store struct {
	backend  Backend
	name     string
	mem      *Memory
	degraded atomic.Bool
	log      *slog.Logger

	// OnError is called for every swallowed backend error (for metrics).
	OnError func(op string, err error)
}

// New wraps backend, named for logs. A nil backend is pure memory.
func New(name string, backend Backend) *Store {
	mem := NewMemory()
	if backend == nil {
		backend, name = mem, "memory"
	}
	return &Store{
		backend: backend,
		name:    name,
		mem:     mem,
		log:     slog.Default().With("component", "prefs", "backend", name),
	}
}

// Backend names the active backend.
func (s *Store) Backend() string { return s.name }

// Degraded reports whether any backend operation has failed.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// Get decodes the value for key into dst. It returns false when the key is
// absent, unreadable or not decodable into dst; dst is left untouched then.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.fail("get", key, err)
		data, ok, _ = s.mem.Get(ctx, key)
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.log.Warn("discarding corrupt preference", "key", key, "error", err)
		return false
	}
	return true
}

// Raw returns the stored JSON for key.
func (s *Store) Raw(ctx context.Context, key string) (json.RawMessage, bool) {
	var raw json.RawMessage
	if !s.Get(ctx, key, &raw) {
		return nil, false
	}
	return raw, true
}

// Set stores v as JSON. The only error is a value that cannot be encoded;
// backend failures are logged and the in-memory copy still takes the write.
func (s *Store) Set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("prefs %s: %w", key, err)
	}
	_ = s.mem.Set(ctx, key, data)
	if err := s.backend.Set(ctx, key, data); err != nil {
		s.fail("set", key, err)
	}
	return nil
}

// Delete removes key from the backend and the memory copy.
func (s *Store) Delete(ctx context.Context, key string) {
	_ = s.mem.Delete(ctx, key)
	if err := s.backend.Delete(ctx, key); err != nil {
		s.fail("delete", key, err)
	}
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

func (s *Store) fail(op, key string, err error) {
	if !s.degraded.Swap(true) {
		s.log.Warn("backend failing, using in-memory preferences", "op", op, "key", key, "error", err)
	} else {
		s.log.Debug("backend error", "op", op, "key", key, "error", err)
	}
	if s.OnError != nil {
		s.OnError(op, err)
	}
}
