package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	opts      SetOptions
	expiresAt time.Time
}

// Memory is a process-local Store. It counts operations so tests can assert
// that a code path never touched persistence.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time

	gets, sets, deletes int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock overrides the time source used for expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.gets++
	entry, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, opts SetOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sets++
	m.entries[key] = memoryEntry{value: value, opts: opts, expiresAt: opts.ExpiresAt(m.now())}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes++
	delete(m.entries, key)
	return nil
}

// Keys returns the live keys in sorted order.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Raw returns the stored value without counting as an operation or applying expiry.
func (m *Memory) Raw(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry.value, ok
}

// Options returns the attributes key was last written with.
func (m *Memory) Options(key string) (SetOptions, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	return entry.opts, ok
}

// Ops reports how many Get, Set and Delete calls the store has served.
func (m *Memory) Ops() (gets, sets, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets, m.sets, m.deletes
}
