// Package interact is the engine's channel to the user: confirmations, free-form
// choices and toasts.
package interact

import (
	"context"
	"errors"

	"github.com/entrhq/formdraft/pkg/types"
)

var (
	// ErrPromptTimeout reports a prompt that got no answer in time.
	ErrPromptTimeout = errors.New("interact: prompt timed out")
	// ErrPromptDismissed reports a prompt closed without an answer.
	ErrPromptDismissed = errors.New("interact: prompt dismissed")
)

// Prompter asks the user questions and shows notifications. Confirm and
// PromptChoice block until answered or ctx ends; an error means the prompt
// was abandoned and callers must not treat it as a decline.
type Prompter interface {
	Confirm(ctx context.Context, title, message, confirmLabel string) (bool, error)

	// PromptChoice returns the entered value and true, or false when the user
	// cancelled.
	PromptChoice(ctx context.Context, title, message, inputKind string) (string, bool, error)

	Notify(kind types.NotificationKind, message string)
}

// Silent never asks and never shows anything. Every prompt is abandoned, so
// engines using it leave stored drafts alone.
type Silent struct{}

func (Silent) Confirm(context.Context, string, string, string) (bool, error) {
	return false, ErrPromptDismissed
}

func (Silent) PromptChoice(context.Context, string, string, string) (string, bool, error) {
	return "", false, ErrPromptDismissed
}

func (Silent) Notify(types.NotificationKind, string) {}
