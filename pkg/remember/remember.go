// Package remember keeps a form's last used values, list filters and
// pagination across visits. Everything is stored under the functionality
// consent category and dropped as soon as that consent is withdrawn.
package remember

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/consent"
	"github.com/entrhq/formdraft/pkg/fields"
	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/logging"
	"github.com/entrhq/formdraft/pkg/validate"
)

const (
	// DefaultTTLDays is how long remembered data lives without being rewritten.
	DefaultTTLDays = 30
	// DefaultSaveDelay is the pause between a remembered field changing and the write.
	DefaultSaveDelay = time.Second

	kindLastValues = "last_values"
	kindFilters    = "filters"
	kindPagination = "pagination"
)

// ErrConsentDenied reports a write skipped for lack of consent.
var ErrConsentDenied = errors.New("remember: consent denied")

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("remember")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize remember logger, using stderr fallback: %v", err)
	}
}

// Options selects what is remembered for one form.
type Options struct {
	FormKey string
	// Fields are remembered when they hold a non-blank value.
	Fields     []string
	Filters    bool
	Pagination bool
	TTLDays    int
}

// Info summarizes what is currently remembered.
type Info struct {
	CanUse        bool
	HasLastValues bool
	HasFilters    bool
	HasPagination bool
	LastValues    map[string]any
	Filters       map[string]any
	Pagination    map[string]any
}

// Keeper remembers values for one form.
type Keeper struct {
	form    fields.Form
	backend kv.Store
	gate    *consent.Gate
	opts    Options
	delay   time.Duration
	log     *logging.Logger

	mu         sync.Mutex
	lastValues map[string]any
	filters    map[string]any
	pagination map[string]any
	pending    *time.Timer
	unsubs     []func()
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithSaveDelay sets the pause before a changed field is written. Zero
// writes synchronously from the change notification.
func WithSaveDelay(d time.Duration) Option {
	return func(k *Keeper) {
		k.delay = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(k *Keeper) {
		k.log = l
	}
}

// New builds a Keeper. Nothing is read until Start or an explicit Load.
func New(form fields.Form, backend kv.Store, provider consent.Provider, opts Options, options ...Option) (*Keeper, error) {
	if opts.FormKey == "" {
		return nil, fmt.Errorf("remember: form key is required")
	}
	if opts.TTLDays <= 0 {
		opts.TTLDays = DefaultTTLDays
	}
	k := &Keeper{
		form:       form,
		backend:    backend,
		gate:       consent.NewGate(provider),
		opts:       opts,
		delay:      DefaultSaveDelay,
		log:        debugLog,
		lastValues: map[string]any{},
		filters:    map[string]any{},
		pagination: map[string]any{},
	}
	for _, o := range options {
		o(k)
	}
	return k, nil
}

// Key returns the storage key for one kind of remembered data.
func (k *Keeper) Key(kind string) string {
	return "form_" + k.opts.FormKey + "_" + kind
}

// CanUse reports whether functionality consent is granted.
func (k *Keeper) CanUse() bool {
	return k.gate.Allowed()
}

// Start loads remembered values into the form and begins watching the
// remembered fields. Withdrawing consent clears everything; granting it
// again reloads.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	if n, ok := k.form.(fields.Notifier); ok && len(k.opts.Fields) > 0 {
		k.unsubs = append(k.unsubs, n.Subscribe(k.fieldChanged))
	}
	k.unsubs = append(k.unsubs, k.gate.Watch(func(allowed bool) {
		if allowed {
			if err := k.LoadLastValues(context.Background()); err != nil {
				k.log.Warnf("Failed to reload remembered values for %s: %v", k.opts.FormKey, err)
			}
			return
		}
		if err := k.ClearAll(context.Background()); err != nil {
			k.log.Errorf("Failed to clear remembered data for %s: %v", k.opts.FormKey, err)
		}
	}))
	k.mu.Unlock()

	if err := k.LoadLastValues(ctx); err != nil {
		k.log.Warnf("Failed to load remembered values for %s: %v", k.opts.FormKey, err)
	}
}

// Close stops watching the form and consent and drops any pending write.
func (k *Keeper) Close() {
	k.mu.Lock()
	unsubs := k.unsubs
	k.unsubs = nil
	if k.pending != nil {
		k.pending.Stop()
		k.pending = nil
	}
	k.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

func (k *Keeper) fieldChanged(name string) {
	if !slices.Contains(k.opts.Fields, name) {
		return
	}
	snapshot := k.form.Snapshot()
	if validate.IsBlank(snapshot[name]) {
		return
	}

	save := func() {
		if err := k.SaveLastValues(context.Background()); err != nil && !errors.Is(err, ErrConsentDenied) {
			k.log.Warnf("Failed to remember values for %s: %v", k.opts.FormKey, err)
		}
	}
	if k.delay <= 0 {
		save()
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.pending != nil {
		k.pending.Stop()
	}
	k.pending = time.AfterFunc(k.delay, save)
}

// SaveLastValues stores the non-blank remembered fields of the form. Fields
// that are blank now keep their previously remembered value.
func (k *Keeper) SaveLastValues(ctx context.Context) error {
	if !k.gate.Allowed() {
		return ErrConsentDenied
	}
	if len(k.opts.Fields) == 0 {
		return nil
	}

	snapshot := k.form.Snapshot()
	k.mu.Lock()
	values := make(map[string]any, len(k.opts.Fields))
	for name, v := range k.lastValues {
		values[name] = v
	}
	for _, name := range k.opts.Fields {
		if v, ok := snapshot[name]; ok && !validate.IsBlank(v) {
			values[name] = fields.Clone(v)
		}
	}
	k.mu.Unlock()

	if len(values) == 0 {
		return nil
	}
	if err := k.write(ctx, kindLastValues, values); err != nil {
		return err
	}

	k.mu.Lock()
	k.lastValues = values
	k.mu.Unlock()
	return nil
}

// LoadLastValues reads the remembered values and fills form fields that are
// currently blank. Fields the user already filled in are left alone.
func (k *Keeper) LoadLastValues(ctx context.Context) error {
	if !k.gate.Allowed() {
		return nil
	}
	values, err := k.read(ctx, kindLastValues)
	if err != nil || values == nil {
		return err
	}

	k.mu.Lock()
	k.lastValues = values
	k.mu.Unlock()

	snapshot := k.form.Snapshot()
	for _, name := range k.opts.Fields {
		v, ok := values[name]
		if !ok || validate.IsBlank(v) {
			continue
		}
		if k.form.Has(name) && validate.IsBlank(snapshot[name]) {
			k.form.Set(name, v)
		}
	}
	return nil
}

// SaveFilters stores a list view's filters.
func (k *Keeper) SaveFilters(ctx context.Context, filters map[string]any) error {
	if !k.opts.Filters {
		return nil
	}
	if !k.gate.Allowed() {
		return ErrConsentDenied
	}
	if err := k.write(ctx, kindFilters, filters); err != nil {
		return err
	}
	k.mu.Lock()
	k.filters = copyMap(filters)
	k.mu.Unlock()
	return nil
}

// LoadFilters returns the stored filters, or an empty map.
func (k *Keeper) LoadFilters(ctx context.Context) map[string]any {
	if !k.opts.Filters {
		return map[string]any{}
	}
	return k.load(ctx, kindFilters, &k.filters)
}

// SavePagination stores a list view's pagination state.
func (k *Keeper) SavePagination(ctx context.Context, pagination map[string]any) error {
	if !k.opts.Pagination {
		return nil
	}
	if !k.gate.Allowed() {
		return ErrConsentDenied
	}
	if err := k.write(ctx, kindPagination, pagination); err != nil {
		return err
	}
	k.mu.Lock()
	k.pagination = copyMap(pagination)
	k.mu.Unlock()
	return nil
}

// LoadPagination returns the stored pagination state, or an empty map.
func (k *Keeper) LoadPagination(ctx context.Context) map[string]any {
	if !k.opts.Pagination {
		return map[string]any{}
	}
	return k.load(ctx, kindPagination, &k.pagination)
}

// ClearAll deletes everything remembered for the form. It runs regardless
// of consent so a withdrawal can always clean up.
func (k *Keeper) ClearAll(ctx context.Context) error {
	var errs []error
	for _, kind := range []string{kindLastValues, kindFilters, kindPagination} {
		if err := k.backend.Delete(ctx, k.Key(kind)); err != nil {
			errs = append(errs, fmt.Errorf("remember: delete %s: %w", k.Key(kind), err))
		}
	}

	k.mu.Lock()
	k.lastValues = map[string]any{}
	k.filters = map[string]any{}
	k.pagination = map[string]any{}
	if k.pending != nil {
		k.pending.Stop()
		k.pending = nil
	}
	k.mu.Unlock()
	return errors.Join(errs...)
}

// Info reports what is remembered in memory.
func (k *Keeper) Info() Info {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Info{
		CanUse:        k.gate.Allowed(),
		HasLastValues: len(k.lastValues) > 0,
		HasFilters:    len(k.filters) > 0,
		HasPagination: len(k.pagination) > 0,
		LastValues:    copyMap(k.lastValues),
		Filters:       copyMap(k.filters),
		Pagination:    copyMap(k.pagination),
	}
}

// Remember records value for a remembered field and persists it.
func (k *Keeper) Remember(ctx context.Context, field string, value any) error {
	if !k.gate.Allowed() {
		return ErrConsentDenied
	}
	if !slices.Contains(k.opts.Fields, field) {
		return fmt.Errorf("remember: %q is not a remembered field", field)
	}
	k.mu.Lock()
	k.lastValues[field] = fields.Clone(value)
	k.mu.Unlock()
	return k.SaveLastValues(ctx)
}

// Value returns the remembered value of field, or "" when there is none.
func (k *Keeper) Value(field string) any {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.lastValues[field]
	if !ok || validate.IsBlank(v) {
		return ""
	}
	return v
}

// Has reports whether field has a non-blank remembered value.
func (k *Keeper) Has(field string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return !validate.IsBlank(k.lastValues[field])
}

func (k *Keeper) load(ctx context.Context, kind string, dst *map[string]any) map[string]any {
	if !k.gate.Allowed() {
		return map[string]any{}
	}
	values, err := k.read(ctx, kind)
	if err != nil {
		k.log.Warnf("Failed to load remembered %s for %s: %v", kind, k.opts.FormKey, err)
		return map[string]any{}
	}
	if values == nil {
		return map[string]any{}
	}
	k.mu.Lock()
	*dst = values
	k.mu.Unlock()
	return copyMap(values)
}

// read returns nil for absent or corrupt data.
func (k *Keeper) read(ctx context.Context, kind string) (map[string]any, error) {
	raw, ok, err := k.backend.Get(ctx, k.Key(kind))
	if err != nil {
		return nil, fmt.Errorf("remember: read %s: %w", k.Key(kind), err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		k.log.Warnf("Ignoring corrupt remembered %s for %s: %v", kind, k.opts.FormKey, err)
		return nil, nil
	}
	return values, nil
}

func (k *Keeper) write(ctx context.Context, kind string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("remember: encode %s: %w", kind, err)
	}
	opts := kv.SetOptions{
		TTLDays:  k.opts.TTLDays,
		Path:     "/",
		Secure:   true,
		SameSite: kv.SameSiteStrict,
	}
	if err := k.backend.Set(ctx, k.Key(kind), string(data), opts); err != nil {
		return fmt.Errorf("remember: write %s: %w", k.Key(kind), err)
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, v := range m {
		out[key] = fields.Clone(v)
	}
	return out
}

// Purge deletes remembered data of every form the backend can enumerate,
// regardless of consent. It is meant to run when functionality consent is
// withdrawn. Backends that can't list keys are left alone.
func Purge(ctx context.Context, backend kv.Store) error {
	lister, ok := backend.(kv.Lister)
	if !ok {
		return nil
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return fmt.Errorf("remember: list keys: %w", err)
	}

	var errs []error
	removed := 0
	for _, key := range keys {
		if !isRememberedKey(key) {
			continue
		}
		if err := backend.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remember: delete %s: %w", key, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		debugLog.Infof("Purged %d remembered entries", removed)
	}
	return errors.Join(errs...)
}

func isRememberedKey(key string) bool {
	rest, ok := strings.CutPrefix(key, "form_")
	if !ok {
		return false
	}
	for _, kind := range []string{kindLastValues, kindFilters, kindPagination} {
		if formKey, ok := strings.CutSuffix(rest, "_"+kind); ok && formKey != "" {
			return true
		}
	}
	return false
}
