package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/entrhq/formdraft/pkg/draft"
	"github.com/entrhq/formdraft/pkg/types"
)

// SaveFormData writes the current form as a new draft. It returns false when
// consent is missing, autosave is disabled, another save is running, the
// validator rejects the payload or the write fails. A payload identical to
// the last saved one is not written again but still reports success.
func (e *Engine) SaveFormData(ctx context.Context) bool {
	ok, err := e.save(ctx)
	if err != nil {
		e.log.Debugf("Save for %s did not complete: %v", e.cfg.FormKey, err)
	}
	return ok
}

// ForceSave saves immediately, bypassing the debounce.
func (e *Engine) ForceSave(ctx context.Context) bool {
	e.mu.Lock()
	e.stopDebounceLocked()
	e.mu.Unlock()
	return e.SaveFormData(ctx)
}

func (e *Engine) save(ctx context.Context) (bool, error) {
	e.mu.Lock()
	closed, enabled := e.closed, e.enabled
	e.mu.Unlock()
	switch {
	case closed:
		return false, ErrClosed
	case !e.gate.Allowed():
		return false, ErrConsentDenied
	case !enabled:
		return false, ErrDisabled
	}

	if !e.saveMu.TryLock() {
		e.emit(types.NewSaveSkippedEvent(e.cfg.FormKey, "in_flight"))
		return false, ErrSaveInFlight
	}
	defer e.saveMu.Unlock()

	e.setStatus(types.StatusSaving)
	e.emit(types.NewSaveStartEvent(e.cfg.FormKey))

	data := e.filter.Apply(e.form.Snapshot())
	if !e.validator.Validate(data) {
		return false, e.fail(ErrValidationRejected)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return false, e.fail(fmt.Errorf("%w: %w", ErrSerialization, err))
	}
	text := string(raw)

	e.mu.Lock()
	unchanged := e.hasBaseline && text == e.baseline
	if unchanged {
		e.unsaved = false
	}
	e.mu.Unlock()
	if unchanged {
		e.setStatus(types.StatusSaved)
		e.emit(types.NewSaveSkippedEvent(e.cfg.FormKey, "unchanged"))
		return true, nil
	}

	now := e.clock.Now()
	encoded := e.codec.Encode(text)
	d := draft.Draft{
		ID:         draft.NewID(now),
		Data:       encoded.Data,
		Timestamp:  now.UTC(),
		Version:    e.cfg.SchemaVersion,
		Checksum:   encoded.Checksum,
		Compressed: encoded.Compressed,
		Encrypted:  encoded.Obfuscated,
		Metadata: &draft.Metadata{
			UserAgent:   e.cfg.UserAgent,
			URL:         e.cfg.URL,
			FormVersion: e.cfg.FormVersion,
		},
	}

	if err := e.drafts.Append(ctx, e.cfg.FormKey, d); err != nil {
		return false, e.fail(err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return true, nil
	}
	e.baseline = text
	e.hasBaseline = true
	e.unsaved = false
	e.lastSaveTime = now
	e.mu.Unlock()

	e.setStatus(types.StatusSaved)
	e.emit(types.NewSaveCompleteEvent(e.cfg.FormKey, d.ID, e.DraftCount(ctx)))
	e.log.Debugf("Saved draft %s for %s", d.ID, e.cfg.FormKey)
	if e.onSave != nil {
		e.onSave(data)
	}
	return true, nil
}

// fail records a failed save and hands err to the error callback.
func (e *Engine) fail(err error) error {
	if e.isClosed() {
		return err
	}
	e.setStatus(types.StatusError)
	e.emit(types.NewSaveErrorEvent(e.cfg.FormKey, err))
	if errors.Is(err, ErrValidationRejected) {
		e.log.Debugf("Payload for %s rejected by validator", e.cfg.FormKey)
	} else {
		e.log.Errorf("Failed to save draft for %s: %v", e.cfg.FormKey, err)
	}
	if e.onError != nil {
		e.onError(err)
	}
	return err
}

// NotifyChange tells the engine the form was edited. Changes made while a
// draft is being restored are ignored. When change-triggered saving is on,
// a save is scheduled after the debounce delay; later changes push it back.
func (e *Engine) NotifyChange() {
	e.mu.Lock()
	if e.closed || e.restoring {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	unsaved := e.differsFromBaseline()
	prefs := e.prefs.Get()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.restoring {
		return
	}
	e.unsaved = unsaved

	if !e.enabled || !prefs.AutoSave || !(e.cfg.SaveOnChange || prefs.SaveOnChange) || !e.gate.Allowed() {
		return
	}
	e.stopDebounceLocked()
	e.debounceGen++
	gen := e.debounceGen
	e.debounce = e.clock.AfterFunc(e.cfg.DebounceDelay, func() { e.fireDebounce(gen) })
}

func (e *Engine) fireDebounce(gen uint64) {
	e.mu.Lock()
	if e.closed || gen != e.debounceGen {
		e.mu.Unlock()
		return
	}
	e.debounce = nil
	e.mu.Unlock()
	e.SaveFormData(context.Background())
}

// differsFromBaseline compares the filtered form to the last saved payload.
// Without consent nothing counts as unsaved.
func (e *Engine) differsFromBaseline() bool {
	if !e.gate.Allowed() {
		return false
	}
	raw, err := json.Marshal(e.filter.Apply(e.form.Snapshot()))
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.hasBaseline || string(raw) != e.baseline
}

// resetBaseline marks the current form as saved.
func (e *Engine) resetBaseline() {
	raw, err := json.Marshal(e.filter.Apply(e.form.Snapshot()))
	if err != nil {
		e.log.Warnf("Failed to serialize baseline for %s: %v", e.cfg.FormKey, err)
		return
	}
	e.mu.Lock()
	e.baseline = string(raw)
	e.hasBaseline = true
	e.unsaved = false
	e.mu.Unlock()
}

// saveInterval prefers the user's stored interval over the configured one.
func (e *Engine) saveInterval() time.Duration {
	if d := e.prefs.Get().AutoSaveInterval; d > 0 {
		return d
	}
	return e.cfg.SaveInterval
}

// startTicker (re)starts the periodic save timer if autosave may run.
func (e *Engine) startTicker() {
	interval := e.saveInterval()
	autoSave := e.prefs.Get().AutoSave

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTickerLocked()
	if e.closed || !e.enabled || !autoSave || interval <= 0 || !e.gate.Allowed() {
		return
	}
	e.tickGen++
	e.scheduleTickLocked(e.tickGen, interval)
}

func (e *Engine) scheduleTickLocked(gen uint64, interval time.Duration) {
	e.tick = e.clock.AfterFunc(interval, func() { e.fireTick(gen, interval) })
}

func (e *Engine) fireTick(gen uint64, interval time.Duration) {
	e.mu.Lock()
	if e.closed || gen != e.tickGen {
		e.mu.Unlock()
		return
	}
	e.scheduleTickLocked(gen, interval)
	e.mu.Unlock()
	e.SaveFormData(context.Background())
}

func (e *Engine) stopDebounceLocked() {
	if e.debounce != nil {
		e.debounce.Stop()
		e.debounce = nil
	}
	e.debounceGen++
}

func (e *Engine) stopTickerLocked() {
	if e.tick != nil {
		e.tick.Stop()
		e.tick = nil
	}
	e.tickGen++
}

func (e *Engine) stopTimersLocked() {
	e.stopDebounceLocked()
	e.stopTickerLocked()
}

// BeforeUnload runs when the host is about to leave the form. With
// confirm-before-leave on and unsaved changes present it saves immediately
// and returns true so the host can warn the user.
func (e *Engine) BeforeUnload(ctx context.Context) bool {
	if !e.prefs.Get().ConfirmBeforeLeave {
		return false
	}
	if !e.differsFromBaseline() {
		return false
	}
	e.ForceSave(ctx)
	return true
}
