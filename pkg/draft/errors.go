package draft

import "errors"

var (
	// ErrConsentDenied is returned by writes attempted without storage consent.
	// The underlying store is not touched.
	ErrConsentDenied = errors.New("draft: storage consent not granted")

	// ErrStoreUnavailable wraps failures of the key-value backend.
	ErrStoreUnavailable = errors.New("draft: store unavailable")

	// ErrSerialization reports a draft set that could not be encoded.
	ErrSerialization = errors.New("draft: serialization failed")
)
