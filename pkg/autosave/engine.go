// Package autosave is the per-form draft engine. It watches a form, writes
// debounced and periodic snapshots to a consent-gated draft store, and offers
// them back through a prompter when the form is opened again.
package autosave

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/codec"
	"github.com/entrhq/formdraft/pkg/config"
	"github.com/entrhq/formdraft/pkg/consent"
	"github.com/entrhq/formdraft/pkg/draft"
	"github.com/entrhq/formdraft/pkg/fields"
	"github.com/entrhq/formdraft/pkg/interact"
	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/logging"
	"github.com/entrhq/formdraft/pkg/types"
	"github.com/entrhq/formdraft/pkg/validate"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("autosave")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		debugLog.Warnf("Failed to initialize autosave logger, using stderr fallback: %v", err)
	}
}

// Logger is the subset of *logging.Logger the engine writes to.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warnf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Engine owns the autosave lifecycle of a single form.
type Engine struct {
	cfg       config.Engine
	form      fields.Form
	drafts    *draft.Store
	gate      *consent.Gate
	filter    *fields.Filter
	validator validate.Validator
	codec     *codec.Codec
	prompter  interact.Prompter
	broker    *interact.Broker
	clock     Clock
	log       Logger
	emitEvent func(*types.EngineEvent)

	prefs        *config.PreferencesSection
	prefsManager *config.Manager

	onSave    func(data map[string]any)
	onRestore func(r *Restored)
	onError   func(err error)

	// saveMu serializes saves and restores. Saves only TryLock it.
	saveMu sync.Mutex

	mu            sync.Mutex
	status        types.Status
	enabled       bool
	started       bool
	closed        bool
	restoring     bool
	unsaved       bool
	baseline      string
	hasBaseline   bool
	lastSaveTime  time.Time
	debounce      Timer
	debounceGen   uint64
	tick          Timer
	tickGen       uint64
	unsubscribers []func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrompter sets the interaction surface used for restore prompts and
// notifications. Without one, prompts go out as events when an event emitter
// is set and are treated as dismissed otherwise.
func WithPrompter(p interact.Prompter) Option {
	return func(e *Engine) {
		e.prompter = p
	}
}

// WithPreferences supplies an already loaded preferences section instead of
// reading one from the store.
func WithPreferences(section *config.PreferencesSection) Option {
	return func(e *Engine) {
		e.prefs = section
	}
}

// WithValidator replaces the configured validator.
func WithValidator(v validate.Validator) Option {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithCodec replaces the codec derived from the compression and encryption settings.
func WithCodec(c *codec.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithOnSave registers a callback run after each draft is written.
func WithOnSave(fn func(data map[string]any)) Option {
	return func(e *Engine) {
		e.onSave = fn
	}
}

// WithOnRestore registers a callback run after a draft is applied to the form.
func WithOnRestore(fn func(r *Restored)) Option {
	return func(e *Engine) {
		e.onRestore = fn
	}
}

// WithOnError registers a callback for failed saves.
func WithOnError(fn func(err error)) Option {
	return func(e *Engine) {
		e.onError = fn
	}
}

// WithEventEmitter receives every engine event.
func WithEventEmitter(fn func(*types.EngineEvent)) Option {
	return func(e *Engine) {
		e.emitEvent = fn
	}
}

// New builds an engine for one form. The configuration is validated after
// defaults are applied. Drafts go to store under the functionality consent
// category of provider.
func New(cfg config.Engine, form fields.Form, store kv.Store, provider consent.Provider, opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if form == nil {
		return nil, fmt.Errorf("autosave: form is required")
	}
	if store == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrStoreUnavailable)
	}

	e := &Engine{
		cfg:     cfg,
		form:    form,
		gate:    consent.NewGate(provider),
		clock:   RealClock(),
		log:     debugLog,
		status:  types.StatusIdle,
		enabled: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.drafts = draft.NewStore(store, e.gate,
		draft.WithKeyPrefix(cfg.KeyPrefix),
		draft.WithMaxDrafts(cfg.MaxDrafts),
		draft.WithTTLDays(cfg.TTLDays),
	)

	filter, err := fields.NewFilter(cfg.IncludeFields, cfg.ExcludeFields)
	if err != nil {
		return nil, err
	}
	e.filter = filter

	if e.validator == nil {
		e.validator = validate.NonEmpty()
		if cfg.ValidateExpr != "" {
			v, err := validate.Expr(cfg.ValidateExpr)
			if err != nil {
				return nil, err
			}
			e.validator = validate.All(validate.NonEmpty(), v)
		}
	}

	if e.codec == nil {
		e.codec, err = codecFor(cfg)
		if err != nil {
			return nil, err
		}
	}

	if e.prompter == nil {
		if e.emitEvent != nil {
			e.broker = interact.NewBroker(cfg.PromptTimeout, e.emitEvent)
			e.prompter = e.broker
		} else {
			e.prompter = interact.Silent{}
		}
	}

	if e.prefs == nil {
		manager, section, err := config.NewPreferencesManager(store, consent.NewCategoryGate(provider, consent.Preferences))
		if err != nil {
			e.log.Warnf("Failed to load preferences for %s, using defaults: %v", cfg.FormKey, err)
			section = config.NewPreferencesSection()
		}
		e.prefs = section
		e.prefsManager = manager
	}

	return e, nil
}

func codecFor(cfg config.Engine) (*codec.Codec, error) {
	var compressor codec.Compressor
	if cfg.Compression {
		compressor = codec.Flate{}
	}

	var obfuscator codec.Obfuscator
	if cfg.Encryption {
		if cfg.Secret != "" {
			sealed, err := codec.NewSealed([]byte(cfg.Secret), cfg.FormKey)
			if err != nil {
				return nil, fmt.Errorf("autosave: encryption key: %w", err)
			}
			obfuscator = sealed
		} else {
			obfuscator = codec.NewXOR(cfg.FormKey)
		}
	}
	return codec.New(compressor, obfuscator), nil
}

// Start subscribes to form and consent changes, offers any saved draft,
// starts the periodic timer and records the current form as the saved
// baseline. A pending restore prompt blocks Start until it is answered.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	if n, ok := e.form.(fields.Notifier); ok {
		e.unsubscribers = append(e.unsubscribers, n.Subscribe(func(string) { e.NotifyChange() }))
	}
	e.unsubscribers = append(e.unsubscribers, e.gate.Watch(e.consentChanged))
	e.mu.Unlock()

	if !e.gate.Allowed() {
		e.log.Debugf("Consent missing for %s, autosave idle until granted", e.cfg.FormKey)
		return nil
	}

	e.CheckForSavedDrafts(ctx)
	e.startTicker()
	e.resetBaseline()
	return nil
}

// Close stops all timers and subscriptions. Saves still running when Close
// is called finish writing but their results are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopTimersLocked()
	unsubs := e.unsubscribers
	e.unsubscribers = nil
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// Enable turns autosave back on and restarts the periodic timer.
func (e *Engine) Enable() {
	e.mu.Lock()
	e.enabled = true
	e.mu.Unlock()
	e.startTicker()
}

// Disable stops automatic and manual saves until Enable is called.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
	e.stopTimersLocked()
}

// consentChanged purges this form's drafts on withdrawal and resumes on grant.
func (e *Engine) consentChanged(allowed bool) {
	e.emit(types.NewConsentChangedEvent(e.cfg.FormKey, allowed))

	if !allowed {
		e.mu.Lock()
		e.stopTimersLocked()
		e.unsaved = false
		e.lastSaveTime = time.Time{}
		e.mu.Unlock()

		if err := e.drafts.Purge(context.Background(), e.cfg.FormKey); err != nil {
			e.log.Errorf("Failed to purge drafts for %s after consent withdrawal: %v", e.cfg.FormKey, err)
		}
		e.log.Infof("Consent withdrawn, drafts for %s purged", e.cfg.FormKey)
		return
	}

	if e.prefsManager != nil {
		if err := e.prefsManager.LoadAll(); err != nil {
			e.log.Warnf("Failed to reload preferences for %s: %v", e.cfg.FormKey, err)
		}
	}
	e.mu.Lock()
	needsBaseline := !e.hasBaseline
	e.mu.Unlock()
	if needsBaseline {
		e.resetBaseline()
	}
	e.startTicker()
	e.log.Infof("Consent granted, autosave resumed for %s", e.cfg.FormKey)
}

// Preferences returns the current user preferences.
func (e *Engine) Preferences() config.Preferences {
	return e.prefs.Get()
}

// UpdatePreferences applies and persists new preferences, then starts or
// stops the periodic timer to match. Invalid preferences are rejected and the
// current ones stay in effect.
func (e *Engine) UpdatePreferences(p config.Preferences) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("autosave: invalid preferences: %w", err)
	}
	e.prefs.Set(p)
	var err error
	if e.prefsManager != nil {
		err = e.prefsManager.SaveAll()
	}
	if p.AutoSave {
		e.startTicker()
	} else {
		e.mu.Lock()
		e.stopTickerLocked()
		e.mu.Unlock()
	}
	return err
}

// HandlePromptResponse answers a prompt the engine emitted as an event. It is
// a no-op when a custom prompter was configured.
func (e *Engine) HandlePromptResponse(resp *types.PromptResponse) {
	if e.broker != nil {
		e.broker.HandleResponse(resp)
	}
}

// PendingPrompts lists prompts still waiting for HandlePromptResponse.
func (e *Engine) PendingPrompts() []types.Prompt {
	if e.broker == nil {
		return nil
	}
	return e.broker.Pending()
}

// FormKey returns the key drafts are stored under.
func (e *Engine) FormKey() string {
	return e.cfg.FormKey
}

// Status returns the current save status.
func (e *Engine) Status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSaveTime returns when a draft was last written, or the zero time.
func (e *Engine) LastSaveTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSaveTime
}

// HasUnsavedChanges reports whether the form differs from the last saved or
// restored payload as of the latest change notification.
func (e *Engine) HasUnsavedChanges() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unsaved
}

// IsRestoring reports whether a draft is being applied to the form.
func (e *Engine) IsRestoring() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restoring
}

// IsEnabled reports whether autosave is switched on.
func (e *Engine) IsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// CanUseAutoSave reports whether functionality consent is currently granted.
func (e *Engine) CanUseAutoSave() bool {
	return e.gate.Allowed()
}

// ListDrafts returns the stored drafts, newest first.
func (e *Engine) ListDrafts(ctx context.Context) (draft.Set, error) {
	return e.drafts.List(ctx, e.cfg.FormKey)
}

// DraftCount returns how many drafts are stored. Failures count as zero.
func (e *Engine) DraftCount(ctx context.Context) int {
	set, err := e.ListDrafts(ctx)
	if err != nil {
		return 0
	}
	return len(set)
}

func (e *Engine) setStatus(status types.Status) {
	e.mu.Lock()
	changed := e.status != status
	e.status = status
	e.mu.Unlock()
	if changed {
		e.emit(types.NewStatusChangeEvent(e.cfg.FormKey, status))
	}
}

func (e *Engine) emit(event *types.EngineEvent) {
	if e.emitEvent != nil {
		e.emitEvent(event)
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
