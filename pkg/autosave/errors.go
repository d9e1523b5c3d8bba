package autosave

import (
	"errors"

	"github.com/entrhq/formdraft/pkg/draft"
)

var (
	// ErrStoreUnavailable reports a missing or failing persistence backend.
	ErrStoreUnavailable = draft.ErrStoreUnavailable
	// ErrConsentDenied reports an operation skipped for lack of consent.
	ErrConsentDenied = draft.ErrConsentDenied
	// ErrSerialization reports a payload that could not be encoded as JSON.
	ErrSerialization = draft.ErrSerialization

	// ErrValidationRejected reports a payload refused by the save validator.
	ErrValidationRejected = errors.New("autosave: payload rejected by validator")
	// ErrSaveInFlight reports a save skipped because another one is running.
	ErrSaveInFlight = errors.New("autosave: save already in progress")
	// ErrDisabled reports a save attempted while autosave is disabled.
	ErrDisabled = errors.New("autosave: disabled")
	// ErrClosed reports use of an engine after Close.
	ErrClosed = errors.New("autosave: engine closed")
)
