package types

import "time"

// EngineEventType defines the type of event emitted by a draft engine.
type EngineEventType string

const (
	EventTypeStatusChange     EngineEventType = "status_change"     // EventTypeStatusChange indicates the save status moved to a new state.
	EventTypeSaveStart        EngineEventType = "save_start"        // EventTypeSaveStart indicates a save attempt began.
	EventTypeSaveComplete     EngineEventType = "save_complete"     // EventTypeSaveComplete indicates a new draft was written.
	EventTypeSaveSkipped      EngineEventType = "save_skipped"      // EventTypeSaveSkipped indicates a save found nothing new to write.
	EventTypeSaveError        EngineEventType = "save_error"        // EventTypeSaveError indicates a save failed or was rejected.
	EventTypeRestoreComplete  EngineEventType = "restore_complete"  // EventTypeRestoreComplete indicates a draft was applied to the form.
	EventTypeRestoreError     EngineEventType = "restore_error"     // EventTypeRestoreError indicates a draft could not be restored.
	EventTypeIntegrityWarning EngineEventType = "integrity_warning" // EventTypeIntegrityWarning indicates a restored payload failed its checksum.
	EventTypeDraftDeleted     EngineEventType = "draft_deleted"     // EventTypeDraftDeleted indicates one draft was removed.
	EventTypeDraftsCleared    EngineEventType = "drafts_cleared"    // EventTypeDraftsCleared indicates every draft of a form was removed.
	EventTypeConsentChanged   EngineEventType = "consent_changed"   // EventTypeConsentChanged indicates the storage consent gate flipped.
	EventTypePromptRequest    EngineEventType = "prompt_request"    // EventTypePromptRequest indicates the engine is waiting on a user answer.
	EventTypePromptAnswered   EngineEventType = "prompt_answered"   // EventTypePromptAnswered indicates a prompt received its answer.
	EventTypePromptTimeout    EngineEventType = "prompt_timeout"    // EventTypePromptTimeout indicates a prompt was abandoned without an answer.
	EventTypeNotification     EngineEventType = "notification"      // EventTypeNotification indicates a toast for the user.
)

// Status is the save state machine position.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

// NotificationKind is the severity of a toast.
type NotificationKind string

const (
	NotifySuccess NotificationKind = "success"
	NotifyInfo    NotificationKind = "info"
	NotifyWarning NotificationKind = "warning"
	NotifyError   NotificationKind = "error"
)

// PromptKind distinguishes a yes/no confirmation from a free-form choice.
type PromptKind string

const (
	PromptConfirm PromptKind = "confirm"
	PromptChoice  PromptKind = "choice"
)

// EngineEvent represents an event emitted by a draft engine or prompt broker.
type EngineEvent struct {
	// Metadata holds optional additional information about the event.
	Metadata map[string]interface{}

	// Error contains error information for error events.
	Error error

	// Prompt is set on prompt events.
	Prompt *Prompt

	// Type indicates the kind of event.
	Type EngineEventType

	// FormKey identifies the form the event belongs to.
	FormKey string

	// DraftID is the draft the event concerns, when there is one.
	DraftID string

	// Status is the new state for status change events.
	Status Status

	// Message holds toast text for notification events.
	Message string

	// Kind is the toast severity for notification events.
	Kind NotificationKind

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// Prompt describes a question the engine needs the user to answer.
type Prompt struct {
	// ID correlates the request with its PromptResponse.
	ID string

	Kind         PromptKind
	Title        string
	Message      string
	ConfirmLabel string

	// InputKind hints the expected answer shape for choice prompts (e.g. "number").
	InputKind string
}

func newEvent(t EngineEventType, formKey string) *EngineEvent {
	return &EngineEvent{
		Type:      t,
		FormKey:   formKey,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// NewStatusChangeEvent creates a status change event.
func NewStatusChangeEvent(formKey string, status Status) *EngineEvent {
	e := newEvent(EventTypeStatusChange, formKey)
	e.Status = status
	return e
}

// NewSaveStartEvent creates a save start event.
func NewSaveStartEvent(formKey string) *EngineEvent {
	return newEvent(EventTypeSaveStart, formKey)
}

// NewSaveCompleteEvent creates a save complete event.
func NewSaveCompleteEvent(formKey, draftID string, draftCount int) *EngineEvent {
	e := newEvent(EventTypeSaveComplete, formKey)
	e.DraftID = draftID
	e.Metadata["draft_count"] = draftCount
	return e
}

// NewSaveSkippedEvent creates an event for a save with nothing to write.
func NewSaveSkippedEvent(formKey, reason string) *EngineEvent {
	e := newEvent(EventTypeSaveSkipped, formKey)
	e.Metadata["reason"] = reason
	return e
}

// NewSaveErrorEvent creates a save error event.
func NewSaveErrorEvent(formKey string, err error) *EngineEvent {
	e := newEvent(EventTypeSaveError, formKey)
	e.Error = err
	return e
}

// NewRestoreCompleteEvent creates a restore complete event.
func NewRestoreCompleteEvent(formKey, draftID string, fields int) *EngineEvent {
	e := newEvent(EventTypeRestoreComplete, formKey)
	e.DraftID = draftID
	e.Metadata["fields"] = fields
	return e
}

// NewRestoreErrorEvent creates a restore error event.
func NewRestoreErrorEvent(formKey, draftID string, err error) *EngineEvent {
	e := newEvent(EventTypeRestoreError, formKey)
	e.DraftID = draftID
	e.Error = err
	return e
}

// NewIntegrityWarningEvent creates a checksum mismatch event.
func NewIntegrityWarningEvent(formKey, draftID string) *EngineEvent {
	e := newEvent(EventTypeIntegrityWarning, formKey)
	e.DraftID = draftID
	return e
}

// NewDraftDeletedEvent creates a draft deleted event.
func NewDraftDeletedEvent(formKey, draftID string) *EngineEvent {
	e := newEvent(EventTypeDraftDeleted, formKey)
	e.DraftID = draftID
	return e
}

// NewDraftsClearedEvent creates a drafts cleared event.
func NewDraftsClearedEvent(formKey string) *EngineEvent {
	return newEvent(EventTypeDraftsCleared, formKey)
}

// NewConsentChangedEvent creates a consent gate change event.
func NewConsentChangedEvent(formKey string, allowed bool) *EngineEvent {
	e := newEvent(EventTypeConsentChanged, formKey)
	e.Metadata["allowed"] = allowed
	return e
}

// NewPromptRequestEvent creates a prompt request event.
func NewPromptRequestEvent(prompt Prompt) *EngineEvent {
	e := newEvent(EventTypePromptRequest, "")
	e.Prompt = &prompt
	return e
}

// NewPromptAnsweredEvent creates a prompt answered event.
func NewPromptAnsweredEvent(prompt Prompt) *EngineEvent {
	e := newEvent(EventTypePromptAnswered, "")
	e.Prompt = &prompt
	return e
}

// NewPromptTimeoutEvent creates a prompt timeout event.
func NewPromptTimeoutEvent(prompt Prompt) *EngineEvent {
	e := newEvent(EventTypePromptTimeout, "")
	e.Prompt = &prompt
	return e
}

// NewNotificationEvent creates a toast event.
func NewNotificationEvent(kind NotificationKind, message string) *EngineEvent {
	e := newEvent(EventTypeNotification, "")
	e.Kind = kind
	e.Message = message
	return e
}

// IsError reports whether the event carries a failure.
func (e *EngineEvent) IsError() bool {
	switch e.Type {
	case EventTypeSaveError, EventTypeRestoreError:
		return true
	case EventTypeNotification:
		return e.Kind == NotifyError
	default:
		return false
	}
}
