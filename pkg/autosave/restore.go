package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/formdraft/pkg/codec"
	"github.com/entrhq/formdraft/pkg/draft"
	"github.com/entrhq/formdraft/pkg/types"
)

// Meta describes the draft a Restored payload came from.
type Meta struct {
	DraftID  string
	SavedAt  time.Time
	Age      time.Duration
	Metadata *draft.Metadata
	// IntegrityOK is false when the stored checksum did not match.
	IntegrityOK bool
}

// Restored is a decoded draft payload.
type Restored struct {
	Fields map[string]any
	Meta   Meta
}

// LoadDraftData decodes a draft back into field values. A checksum mismatch
// is logged and reported but the data is still returned. It returns false
// when the payload cannot be decoded.
func (e *Engine) LoadDraftData(d draft.Draft) (*Restored, bool) {
	text := e.codec.Decode(d.Data, d.Compressed, d.Encrypted)

	var values map[string]any
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		e.log.Errorf("Failed to decode draft %s for %s: %v", d.ID, e.cfg.FormKey, err)
		return nil, false
	}
	if values == nil {
		values = map[string]any{}
	}

	r := &Restored{
		Fields: values,
		Meta: Meta{
			DraftID:     d.ID,
			SavedAt:     d.Timestamp,
			Age:         d.Age(e.clock.Now()),
			Metadata:    d.Metadata,
			IntegrityOK: true,
		},
	}
	if d.Checksum != "" && !codec.Verify(text, d.Checksum) {
		r.Meta.IntegrityOK = false
		e.log.Warnf("Checksum mismatch for draft %s of %s, data may be corrupted", d.ID, e.cfg.FormKey)
		e.emit(types.NewIntegrityWarningEvent(e.cfg.FormKey, d.ID))
	}
	return r, true
}

// RestoreFromDraft applies a draft to the form. Only fields the form already
// declares are written. Afterwards the restored state is the new saved
// baseline, so restoring never counts as an unsaved change.
func (e *Engine) RestoreFromDraft(ctx context.Context, d draft.Draft) bool {
	if e.isClosed() || !e.gate.Allowed() {
		return false
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	e.restoring = true
	e.stopDebounceLocked()
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.restoring = false
		e.mu.Unlock()
	}()

	r, ok := e.LoadDraftData(d)
	if !ok {
		e.emit(types.NewRestoreErrorEvent(e.cfg.FormKey, d.ID, fmt.Errorf("autosave: draft %s could not be decoded", d.ID)))
		e.prompter.Notify(types.NotifyError, "Could not load the draft data")
		return false
	}

	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		if e.form.Has(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		e.form.Set(name, r.Fields[name])
	}

	if e.onRestore != nil {
		e.onRestore(r)
	}
	e.resetBaseline()

	e.emit(types.NewRestoreCompleteEvent(e.cfg.FormKey, d.ID, len(names)))
	e.prompter.Notify(types.NotifySuccess, "Draft data restored")
	e.log.Infof("Restored draft %s into %s (%d fields)", d.ID, e.cfg.FormKey, len(names))
	return true
}

// CheckForSavedDrafts offers stored drafts when the form opens. A fresh
// newest draft is restored silently when auto-restore is on. A single draft
// is offered with a confirmation; declining deletes it. Several drafts open
// the draft chooser. An abandoned prompt leaves everything in place.
func (e *Engine) CheckForSavedDrafts(ctx context.Context) bool {
	if !e.gate.Allowed() {
		return false
	}
	set, err := e.drafts.List(ctx, e.cfg.FormKey)
	if err != nil {
		e.log.Warnf("Failed to list drafts for %s: %v", e.cfg.FormKey, err)
		return false
	}
	newest, ok := set.Newest()
	if !ok {
		return false
	}

	age := newest.Age(e.clock.Now())
	if e.cfg.AutoRestore && age < e.cfg.FreshnessWindow {
		return e.RestoreFromDraft(ctx, newest)
	}

	if len(set) > 1 {
		return e.ShowDraftManager(ctx)
	}

	accepted, err := e.prompter.Confirm(ctx,
		"Draft found",
		fmt.Sprintf("We found a draft of this form saved %s ago. Do you want to restore it?", longAge(age)),
		"Yes, restore",
	)
	if err != nil {
		e.log.Debugf("Restore prompt for %s abandoned: %v", e.cfg.FormKey, err)
		return false
	}
	if !accepted {
		e.DeleteDraft(ctx, newest.ID)
		return false
	}
	return e.RestoreFromDraft(ctx, newest)
}

// ShowDraftManager lists the stored drafts and restores the one the user
// picks. Entering 0 or anything out of range cancels.
func (e *Engine) ShowDraftManager(ctx context.Context) bool {
	if !e.gate.Allowed() {
		return false
	}
	set, err := e.drafts.List(ctx, e.cfg.FormKey)
	if err != nil {
		e.log.Warnf("Failed to list drafts for %s: %v", e.cfg.FormKey, err)
		return false
	}
	if len(set) == 0 {
		e.prompter.Notify(types.NotifyInfo, "No drafts found")
		return false
	}

	now := e.clock.Now()
	var b strings.Builder
	b.WriteString("Choose a draft to restore:\n\n")
	for i, d := range set {
		fmt.Fprintf(&b, "%d. Draft from %s ago\n", i+1, shortAge(d.Age(now)))
	}
	fmt.Fprintf(&b, "\nEnter a number (1-%d) or 0 to cancel:", len(set))

	value, answered, err := e.prompter.PromptChoice(ctx, "Available drafts", b.String(), "number")
	if err != nil || !answered {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 || n > len(set) {
		return false
	}
	return e.RestoreFromDraft(ctx, set[n-1])
}

// DeleteDraft removes one draft. It returns false without consent or when
// the store fails.
func (e *Engine) DeleteDraft(ctx context.Context, id string) bool {
	if err := e.drafts.Remove(ctx, e.cfg.FormKey, id); err != nil {
		e.log.Debugf("Failed to delete draft %s of %s: %v", id, e.cfg.FormKey, err)
		return false
	}
	e.emit(types.NewDraftDeletedEvent(e.cfg.FormKey, id))
	return true
}

// ClearAllDrafts removes every draft of the form and resets save tracking.
func (e *Engine) ClearAllDrafts(ctx context.Context) bool {
	if err := e.drafts.Clear(ctx, e.cfg.FormKey); err != nil {
		e.log.Debugf("Failed to clear drafts of %s: %v", e.cfg.FormKey, err)
		return false
	}
	e.mu.Lock()
	e.lastSaveTime = time.Time{}
	e.unsaved = false
	e.mu.Unlock()
	e.emit(types.NewDraftsClearedEvent(e.cfg.FormKey))
	return true
}

// Cleanup stops the timers and clears the form's drafts, typically after a
// successful submit.
func (e *Engine) Cleanup(ctx context.Context) bool {
	e.mu.Lock()
	e.stopTimersLocked()
	e.mu.Unlock()
	return e.ClearAllDrafts(ctx)
}

func longAge(age time.Duration) string {
	minutes := int(age / time.Minute)
	if minutes >= 60 {
		hours := minutes / 60
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	if minutes == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

func shortAge(age time.Duration) string {
	minutes := int(age / time.Minute)
	if minutes >= 60 {
		return fmt.Sprintf("%dh", minutes/60)
	}
	return fmt.Sprintf("%dmin", minutes)
}
