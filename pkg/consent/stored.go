package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/logging"
)

const (
	// RecordKey is where the consent record lives in the key-value store.
	RecordKey = "cookie_consent"
	// RecordVersion is the schema version written into new records.
	RecordVersion = "1.0"
	// RecordTTLDays matches the lifetime of the consent banner answer.
	RecordTTLDays = 365
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("consent")
	if err != nil {
		debugLog.Warnf("Failed to initialize consent logger, using stderr fallback: %v", err)
	}
}

// Record is the persisted answer to the consent banner.
type Record struct {
	Accepted    bool              `json:"accepted"`
	Timestamp   time.Time         `json:"timestamp"`
	Preferences map[Category]bool `json:"preferences"`
	Version     string            `json:"version"`
}

// PurgeFunc deletes whatever a component stored under a withdrawn category.
type PurgeFunc func(ctx context.Context) error

// Stored is a Provider backed by a record in a kv.Store. The record itself is
// essential storage and is written regardless of the answers it holds.
type Stored struct {
	store kv.Store
	now   func() time.Time

	mu     sync.RWMutex
	record Record
	loaded bool

	purgeMu sync.Mutex
	purges  map[Category][]PurgeFunc

	subs broadcaster
}

// NewStored creates a provider over store. Call Load to read an existing record.
func NewStored(store kv.Store) *Stored {
	return &Stored{
		store:  store,
		now:    time.Now,
		purges: make(map[Category][]PurgeFunc),
	}
}

// Load reads the persisted record. A missing or corrupt record means no consent.
func (s *Stored) Load(ctx context.Context) error {
	raw, ok, err := s.store.Get(ctx, RecordKey)
	if err != nil {
		return fmt.Errorf("consent: load record: %w", err)
	}

	var rec Record
	if ok {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			debugLog.Warnf("Ignoring corrupt consent record: %v", err)
			rec = Record{}
		}
	}

	s.mu.Lock()
	s.record = rec
	s.loaded = true
	s.mu.Unlock()
	s.subs.notify()
	return nil
}

// Record returns a copy of the current record.
func (s *Stored) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.record
	rec.Preferences = make(map[Category]bool, len(s.record.Preferences))
	for k, v := range s.record.Preferences {
		rec.Preferences[k] = v
	}
	return rec
}

// Loaded reports whether Load or Set has run.
func (s *Stored) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// NeedsAnswer reports whether the user has never answered the banner.
func (s *Stored) NeedsAnswer() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Timestamp.IsZero()
}

func (s *Stored) HasConsent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Accepted
}

func (s *Stored) HasConsentForCategory(category Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.record.Accepted {
		return false
	}
	if category == Essential {
		return true
	}
	return s.record.Preferences[category]
}

func (s *Stored) Subscribe(fn func()) func() {
	return s.subs.subscribe(fn)
}

// OnWithdraw registers fn to run when category goes from granted to withdrawn.
func (s *Stored) OnWithdraw(category Category, fn PurgeFunc) {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()
	s.purges[category] = append(s.purges[category], fn)
}

// Set records a new answer, runs purge hooks for every category that lost
// consent, then notifies subscribers. Essential is always granted.
func (s *Stored) Set(ctx context.Context, accepted bool, prefs map[Category]bool) error {
	next := Record{
		Accepted:    accepted,
		Timestamp:   s.now().UTC(),
		Preferences: map[Category]bool{Essential: true},
		Version:     RecordVersion,
	}
	for _, c := range []Category{Preferences, Functionality, Analytics} {
		next.Preferences[c] = prefs[c]
	}

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("consent: encode record: %w", err)
	}
	if err := s.store.Set(ctx, RecordKey, string(data), kv.SetOptions{
		TTLDays:  RecordTTLDays,
		Path:     "/",
		SameSite: kv.SameSiteLax,
	}); err != nil {
		return fmt.Errorf("consent: save record: %w", err)
	}

	var withdrawn []Category
	s.mu.Lock()
	for _, c := range []Category{Preferences, Functionality, Analytics} {
		before := s.record.Accepted && s.record.Preferences[c]
		after := next.Accepted && next.Preferences[c]
		if before && !after {
			withdrawn = append(withdrawn, c)
		}
	}
	s.record = next
	s.loaded = true
	s.mu.Unlock()

	purgeErr := s.purge(ctx, withdrawn)
	s.subs.notify()
	return purgeErr
}

// AcceptAll grants every category.
func (s *Stored) AcceptAll(ctx context.Context) error {
	return s.Set(ctx, true, map[Category]bool{Preferences: true, Functionality: true, Analytics: true})
}

// RejectAll keeps only essential storage and purges everything else.
func (s *Stored) RejectAll(ctx context.Context) error {
	return s.Set(ctx, true, nil)
}

// Revoke deletes the record entirely and purges every non-essential category.
func (s *Stored) Revoke(ctx context.Context) error {
	s.mu.Lock()
	var withdrawn []Category
	for _, c := range []Category{Preferences, Functionality, Analytics} {
		if s.record.Accepted && s.record.Preferences[c] {
			withdrawn = append(withdrawn, c)
		}
	}
	s.record = Record{}
	s.mu.Unlock()

	err := s.store.Delete(ctx, RecordKey)
	if err != nil {
		err = fmt.Errorf("consent: delete record: %w", err)
	}
	err = errors.Join(err, s.purge(ctx, withdrawn))
	s.subs.notify()
	return err
}

func (s *Stored) purge(ctx context.Context, categories []Category) error {
	s.purgeMu.Lock()
	var fns []PurgeFunc
	for _, c := range categories {
		fns = append(fns, s.purges[c]...)
	}
	s.purgeMu.Unlock()

	var errs []error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			debugLog.Warnf("Purge after consent withdrawal failed: %v", err)
			errs = append(errs, err)
		}
	}
	if len(categories) > 0 {
		debugLog.Infof("Consent withdrawn for %v, ran %d purge hooks", categories, len(fns))
	}
	return errors.Join(errs...)
}
