package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const fileJarVersion = "1.0"

type fileEntry struct {
	Value     string    `json:"value"`
	Path      string    `json:"path,omitempty"`
	Secure    bool      `json:"secure,omitempty"`
	SameSite  SameSite  `json:"same_site,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

type fileJar struct {
	Version string               `json:"version"`
	Entries map[string]fileEntry `json:"entries"`
}

// File is a Store persisted as a single JSON jar file. Every write rewrites
// the file through a temp file and rename, so a crash leaves either the old
// or the new jar on disk.
type File struct {
	path    string
	entries map[string]fileEntry
	mu      sync.RWMutex
	now     func() time.Time
}

// NewFile opens the jar at path, creating it lazily on first write.
// If path is empty, defaults to ~/.formdraft/drafts.json
func NewFile(path string) (*File, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".formdraft", "drafts.json")
	}

	store := &File{
		path:    path,
		entries: make(map[string]fileEntry),
		now:     time.Now,
	}
	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load jar from %s: %w", path, err)
	}
	return store, nil
}

func (s *File) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open jar file: %w", err)
	}
	defer file.Close()

	var jar fileJar
	if err := json.NewDecoder(file).Decode(&jar); err != nil {
		return fmt.Errorf("failed to decode jar file: %w", err)
	}
	if jar.Entries != nil {
		s.entries = jar.Entries
	}
	return nil
}

// flush writes entries as the jar; caller holds s.mu. The caller commits
// entries to s.entries only once flush succeeds.
func (s *File) flush(entries map[string]fileEntry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create jar directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp jar file: %w", err)
	}
	tmpPath := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(fileJar{Version: fileJarVersion, Entries: entries}); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode jar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *File) expired(entry fileEntry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt)
}

func (s *File) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || s.expired(entry, s.now()) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *File) Set(_ context.Context, key, value string, opts SetOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make(map[string]fileEntry, len(s.entries)+1)
	for k, entry := range s.entries {
		if !s.expired(entry, now) {
			next[k] = entry
		}
	}
	next[key] = fileEntry{
		Value:     value,
		Path:      opts.Path,
		Secure:    opts.Secure,
		SameSite:  opts.SameSite,
		ExpiresAt: opts.ExpiresAt(now),
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

func (s *File) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	next := make(map[string]fileEntry, len(s.entries))
	for k, entry := range s.entries {
		if k != key {
			next[k] = entry
		}
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.entries = next
	return nil
}

// Keys returns the live keys in sorted order.
func (s *File) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	keys := make([]string, 0, len(s.entries))
	for key, entry := range s.entries {
		if !s.expired(entry, now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Path returns the file path of the jar.
func (s *File) Path() string {
	return s.path
}
