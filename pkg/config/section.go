package config

// Section is one independently persisted group of settings.
type Section interface {
	// ID returns the unique section identifier, also its storage key.
	ID() string

	// Title returns a human-readable section title.
	Title() string

	// Description explains what the section controls.
	Description() string

	// Data returns the section's current values.
	Data() map[string]interface{}

	// SetData applies stored values. Unknown keys are ignored.
	SetData(data map[string]interface{}) error

	// Validate checks the current values.
	Validate() error

	// Reset restores defaults.
	Reset()
}
