// Package kv defines the small key-value persistence contract the draft engine
// writes through, plus the backends formdraft ships with.
//
// The contract mirrors a browser cookie jar: string values, a time-to-live in
// days, and path/secure/same-site attributes that backends may record but are
// not required to enforce. Values are arbitrary strings; callers store JSON.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable reports that the persistence backend is absent or unusable.
var ErrUnavailable = errors.New("kv: store unavailable")

// SameSite mirrors the cookie SameSite attribute.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// SetOptions carries per-key attributes. A zero TTLDays means the value does
// not expire.
type SetOptions struct {
	TTLDays  int
	Path     string
	Secure   bool
	SameSite SameSite
}

// Store is the persistence collaborator consumed by the engine.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes value under key with the given attributes.
	Set(ctx context.Context, key, value string, opts SetOptions) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Lister is implemented by stores that can enumerate their live keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

// ExpiresAt resolves the absolute expiry for opts relative to now.
// The zero time means no expiry.
func (o SetOptions) ExpiresAt(now time.Time) time.Time {
	if o.TTLDays <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(o.TTLDays) * 24 * time.Hour)
}

// Unavailable is a Store whose every operation fails with ErrUnavailable.
// It stands in for hosts with no persistence at all.
type Unavailable struct{}

func (Unavailable) Get(context.Context, string) (string, bool, error) {
	return "", false, ErrUnavailable
}

func (Unavailable) Set(context.Context, string, string, SetOptions) error {
	return ErrUnavailable
}

func (Unavailable) Delete(context.Context, string) error {
	return ErrUnavailable
}
