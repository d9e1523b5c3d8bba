package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/logging"
)

const (
	// DefaultKeyPrefix namespaces draft sets in the key-value store.
	DefaultKeyPrefix = "form_drafts_"
	// DefaultTTLDays is how long a draft set survives without being rewritten.
	DefaultTTLDays = 7
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("draft")
	if err != nil {
		debugLog.Warnf("Failed to initialize draft logger, using stderr fallback: %v", err)
	}
}

// Gate decides whether persistence is currently permitted.
// *consent.Gate satisfies it.
type Gate interface {
	Allowed() bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeyPrefix changes the namespace prefix for draft set keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxDrafts sets the per-form history cap.
func WithMaxDrafts(max int) StoreOption {
	return func(s *Store) {
		if max > 0 {
			s.maxDrafts = max
		}
	}
}

// WithTTLDays sets the expiry written with each draft set.
func WithTTLDays(days int) StoreOption {
	return func(s *Store) {
		if days > 0 {
			s.opts.TTLDays = days
		}
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Store persists one Set per form key under <prefix><formKey>.
//
// Read-modify-write cycles on the same key are serialized within the process.
// Separate processes sharing a backend race with last-writer-wins semantics.
type Store struct {
	kv        kv.Store
	gate      Gate
	prefix    string
	maxDrafts int
	opts      kv.SetOptions
	log       *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a draft store over backend, gated by gate.
func NewStore(backend kv.Store, gate Gate, opts ...StoreOption) *Store {
	s := &Store{
		kv:        backend,
		gate:      gate,
		prefix:    DefaultKeyPrefix,
		maxDrafts: DefaultMaxDrafts,
		opts: kv.SetOptions{
			TTLDays:  DefaultTTLDays,
			Path:     "/",
			Secure:   true,
			SameSite: kv.SameSiteStrict,
		},
		log:   debugLog,
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxDrafts returns the per-form cap.
func (s *Store) MaxDrafts() int {
	return s.maxDrafts
}

// Key returns the backend key for formKey.
func (s *Store) Key(formKey string) string {
	return s.prefix + formKey
}

func (s *Store) allowed() bool {
	return s.gate != nil && s.gate.Allowed()
}

func (s *Store) lock(formKey string) func() {
	s.mu.Lock()
	l, ok := s.locks[formKey]
	if !ok {
		l = &sync.Mutex{}
		s.locks[formKey] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// read loads the set stored for formKey. Corrupt data reads as empty.
func (s *Store) read(ctx context.Context, formKey string) (Set, error) {
	raw, ok, err := s.kv.Get(ctx, s.Key(formKey))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, formKey, err)
	}
	if !ok || raw == "" {
		return Set{}, nil
	}

	var set Set
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		s.log.Warnf("Discarding corrupt draft set for %q: %v", formKey, err)
		return Set{}, nil
	}
	return set, nil
}

func (s *Store) write(ctx context.Context, formKey string, set Set) error {
	if len(set) == 0 {
		if err := s.kv.Delete(ctx, s.Key(formKey)); err != nil {
			return fmt.Errorf("%w: delete %s: %w", ErrStoreUnavailable, formKey, err)
		}
		return nil
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := s.kv.Set(ctx, s.Key(formKey), string(data), s.opts); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStoreUnavailable, formKey, err)
	}
	return nil
}

// Append prepends d to the form's history and evicts anything past the cap.
func (s *Store) Append(ctx context.Context, formKey string, d Draft) error {
	if !s.allowed() {
		return ErrConsentDenied
	}
	if err := d.Validate(); err != nil {
		return err
	}

	unlock := s.lock(formKey)
	defer unlock()

	set, err := s.read(ctx, formKey)
	if err != nil {
		return err
	}
	next := set.Prepend(d, s.maxDrafts)
	if err := s.write(ctx, formKey, next); err != nil {
		return err
	}
	s.log.Debugf("Saved draft %s for %q (%d kept)", d.ID, formKey, len(next))
	return nil
}

// List returns the form's drafts, newest first. Without consent the result is
// empty and the backend is not read.
func (s *Store) List(ctx context.Context, formKey string) (Set, error) {
	if !s.allowed() {
		return Set{}, nil
	}
	unlock := s.lock(formKey)
	defer unlock()
	return s.read(ctx, formKey)
}

// Get returns one draft by id.
func (s *Store) Get(ctx context.Context, formKey, id string) (Draft, bool, error) {
	set, err := s.List(ctx, formKey)
	if err != nil {
		return Draft{}, false, err
	}
	d, ok := set.Find(id)
	return d, ok, nil
}

// Remove deletes one draft. Removing an unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, formKey, id string) error {
	if !s.allowed() {
		return ErrConsentDenied
	}
	unlock := s.lock(formKey)
	defer unlock()

	set, err := s.read(ctx, formKey)
	if err != nil {
		return err
	}
	next := set.Without(id)
	if len(next) == len(set) {
		return nil
	}
	return s.write(ctx, formKey, next)
}

// Clear deletes the form's whole history.
func (s *Store) Clear(ctx context.Context, formKey string) error {
	if !s.allowed() {
		return ErrConsentDenied
	}
	unlock := s.lock(formKey)
	defer unlock()
	return s.write(ctx, formKey, nil)
}

// Purge deletes the histories of the given forms regardless of consent. With
// no form keys it deletes every draft set the backend can enumerate; backends
// that can't list keys are left alone.
func (s *Store) Purge(ctx context.Context, formKeys ...string) error {
	if len(formKeys) == 0 {
		keys, err := s.FormKeys(ctx)
		if err != nil {
			return err
		}
		formKeys = keys
	}

	var errs []error
	for _, formKey := range formKeys {
		unlock := s.lock(formKey)
		if err := s.kv.Delete(ctx, s.Key(formKey)); err != nil {
			errs = append(errs, fmt.Errorf("%w: purge %s: %w", ErrStoreUnavailable, formKey, err))
		}
		unlock()
	}
	if len(formKeys) > 0 {
		s.log.Infof("Purged drafts for %d forms", len(formKeys))
	}
	return errors.Join(errs...)
}

// FormKeys enumerates the forms that have stored drafts. It returns nil when
// the backend can't list keys.
func (s *Store) FormKeys(ctx context.Context) ([]string, error) {
	lister, ok := s.kv.(kv.Lister)
	if !ok {
		return nil, nil
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %w", ErrStoreUnavailable, err)
	}

	var forms []string
	for _, k := range keys {
		if formKey, ok := strings.CutPrefix(k, s.prefix); ok && formKey != "" {
			forms = append(forms, formKey)
		}
	}
	return forms, nil
}
