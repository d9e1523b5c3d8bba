package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/kv"
)

const (
	// SectionIDPreferences is the identifier (and storage key) of the user's form preferences
	SectionIDPreferences = "form_preferences"

	defaultAutoSave           = true
	defaultAutoSaveInterval   = 30 * time.Second
	defaultConfirmBeforeLeave = true
	defaultRememberLastValues = true
	defaultSaveOnChange       = false

	minAutoSaveInterval = time.Second
	maxAutoSaveInterval = 24 * time.Hour
)

// Preferences are the user's stored form behaviour choices.
type Preferences struct {
	AutoSave           bool
	AutoSaveInterval   time.Duration
	ConfirmBeforeLeave bool
	RememberLastValues bool
	SaveOnChange       bool
}

// DefaultPreferences returns the values used when nothing is stored.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoSave:           defaultAutoSave,
		AutoSaveInterval:   defaultAutoSaveInterval,
		ConfirmBeforeLeave: defaultConfirmBeforeLeave,
		RememberLastValues: defaultRememberLastValues,
		SaveOnChange:       defaultSaveOnChange,
	}
}

// PreferencesSection manages form preferences.
type PreferencesSection struct {
	prefs Preferences
	mu    sync.RWMutex
}

// NewPreferencesSection creates a section holding the defaults.
func NewPreferencesSection() *PreferencesSection {
	return &PreferencesSection{prefs: DefaultPreferences()}
}

// ID returns the section identifier.
func (s *PreferencesSection) ID() string {
	return SectionIDPreferences
}

// Title returns the section title.
func (s *PreferencesSection) Title() string {
	return "Form Preferences"
}

// Description returns the section description.
func (s *PreferencesSection) Description() string {
	return "Control automatic draft saving, leave confirmation and remembered field values."
}

// Data returns the current configuration data. The interval is stored in
// milliseconds.
func (s *PreferencesSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"auto_save":            s.prefs.AutoSave,
		"auto_save_interval":   s.prefs.AutoSaveInterval.Milliseconds(),
		"confirm_before_leave": s.prefs.ConfirmBeforeLeave,
		"remember_last_values": s.prefs.RememberLastValues,
		"save_on_change":       s.prefs.SaveOnChange,
	}
}

// SetData updates the configuration from the provided data.
func (s *PreferencesSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.prefs
	for key, value := range data {
		var err error
		switch key {
		case "auto_save":
			next.AutoSave, err = boolValue(key, value)
		case "confirm_before_leave":
			next.ConfirmBeforeLeave, err = boolValue(key, value)
		case "remember_last_values":
			next.RememberLastValues, err = boolValue(key, value)
		case "save_on_change":
			next.SaveOnChange, err = boolValue(key, value)
		case "auto_save_interval":
			next.AutoSaveInterval, err = millisValue(key, value)
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}
	s.prefs = next
	return nil
}

func boolValue(key string, value interface{}) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("invalid value type for %s: expected bool, got %T", key, value)
	}
	return b, nil
}

func millisValue(key string, value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case float64:
		// JSON numbers come as float64
		return time.Duration(v) * time.Millisecond, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid value type for %s: expected milliseconds or duration string, got %T", key, value)
	}
}

// Validate validates the current configuration.
func (s *PreferencesSection) Validate() error {
	return s.Get().Validate()
}

// Validate checks the preferences without applying them.
func (p Preferences) Validate() error {
	if p.AutoSaveInterval < minAutoSaveInterval || p.AutoSaveInterval > maxAutoSaveInterval {
		return fmt.Errorf("auto_save_interval must be between %v and %v, got %v",
			minAutoSaveInterval, maxAutoSaveInterval, p.AutoSaveInterval)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *PreferencesSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = DefaultPreferences()
}

// Get returns a copy of the current preferences.
func (s *PreferencesSection) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Set replaces the preferences.
func (s *PreferencesSection) Set(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
}

// NewPreferencesManager wires a PreferencesSection to a kv-backed store and
// loads whatever is stored. Without consent the section keeps its defaults.
func NewPreferencesManager(backend kv.Store, gate Gate) (*Manager, *PreferencesSection, error) {
	section := NewPreferencesSection()
	manager := NewManager(NewKVStore(backend, gate, SectionIDPreferences))
	if err := manager.RegisterSection(section); err != nil {
		return nil, nil, err
	}
	if err := manager.LoadAll(); err != nil {
		return manager, section, err
	}
	return manager, section, nil
}
