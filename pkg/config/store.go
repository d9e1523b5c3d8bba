package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/entrhq/formdraft/pkg/kv"
)

// ErrConsentDenied is returned by Save when preference storage isn't permitted.
var ErrConsentDenied = errors.New("config: preference storage consent not granted")

// PreferencesTTLDays is how long stored preferences live.
const PreferencesTTLDays = 365

// Store provides persistence for configuration data.
type Store interface {
	// Load loads the configuration from the backend
	Load() error

	// Save writes pending changes to the backend
	Save() error

	// GetSection retrieves configuration data for a specific section
	GetSection(sectionID string) (map[string]interface{}, error)

	// SetSection stores configuration data for a specific section
	SetSection(sectionID string, data map[string]interface{}) error

	// GetAll retrieves all configuration data
	GetAll() (map[string]map[string]interface{}, error)

	// SetAll stores all configuration data
	SetAll(data map[string]map[string]interface{}) error
}

// Gate decides whether preference storage is permitted.
type Gate interface {
	Allowed() bool
}

// KVStore implements Store with one JSON value per section in a kv.Store,
// keyed by section ID. Without consent it loads nothing and refuses to save,
// so sections fall back to their defaults.
type KVStore struct {
	backend kv.Store
	gate    Gate
	ids     []string
	data    map[string]map[string]interface{}
	dirty   map[string]bool
	mu      sync.RWMutex
}

// NewKVStore creates a store for the given section IDs over backend.
func NewKVStore(backend kv.Store, gate Gate, sectionIDs ...string) *KVStore {
	return &KVStore{
		backend: backend,
		gate:    gate,
		ids:     append([]string(nil), sectionIDs...),
		data:    make(map[string]map[string]interface{}),
		dirty:   make(map[string]bool),
	}
}

func (s *KVStore) allowed() bool {
	return s.gate != nil && s.gate.Allowed()
}

// Load reads every known section. Corrupt values are dropped.
func (s *KVStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[string]interface{})
	s.dirty = make(map[string]bool)
	if !s.allowed() {
		return nil
	}

	ctx := context.Background()
	for _, id := range s.ids {
		raw, ok, err := s.backend.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var section map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &section); err != nil {
			continue
		}
		s.data[id] = section
	}
	return nil
}

// Save writes sections changed since the last Load or Save.
func (s *KVStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.dirty) == 0 {
		return nil
	}
	if !s.allowed() {
		return ErrConsentDenied
	}

	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ctx := context.Background()
	for _, id := range ids {
		encoded, err := json.Marshal(s.data[id])
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", id, err)
		}
		if err := s.backend.Set(ctx, id, string(encoded), kv.SetOptions{
			TTLDays:  PreferencesTTLDays,
			Path:     "/",
			SameSite: kv.SameSiteLax,
		}); err != nil {
			return fmt.Errorf("failed to write %s: %w", id, err)
		}
		delete(s.dirty, id)
	}
	return nil
}

// GetSection retrieves configuration data for a specific section.
func (s *KVStore) GetSection(sectionID string) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySection(s.data[sectionID]), nil
}

// SetSection stages data for sectionID until the next Save.
func (s *KVStore) SetSection(sectionID string, data map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[sectionID] = copySection(data)
	s.dirty[sectionID] = true
	s.track(sectionID)
	return nil
}

// GetAll retrieves all configuration data.
func (s *KVStore) GetAll() (map[string]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]interface{}, len(s.data))
	for id, section := range s.data {
		out[id] = copySection(section)
	}
	return out, nil
}

// SetAll replaces all staged data.
func (s *KVStore) SetAll(data map[string]map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]map[string]interface{}, len(data))
	for id, section := range data {
		s.data[id] = copySection(section)
		s.dirty[id] = true
		s.track(id)
	}
	return nil
}

// IsModified returns true if the store has unsaved changes.
func (s *KVStore) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

func (s *KVStore) track(id string) {
	for _, known := range s.ids {
		if known == id {
			return
		}
	}
	s.ids = append(s.ids, id)
}

func copySection(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
