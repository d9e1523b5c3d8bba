package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for Engine fields left at their zero value.
const (
	DefaultSaveInterval    = 30 * time.Second
	DefaultDebounceDelay   = 2 * time.Second
	DefaultMaxDrafts       = 5
	DefaultFreshnessWindow = 5 * time.Minute
	DefaultPromptTimeout   = 5 * time.Minute
	DefaultSchemaVersion   = "2.0"
	DefaultFormVersion     = "1.0"
	DefaultKeyPrefix       = "form_drafts_"
	DefaultTTLDays         = 7
	DefaultUserAgent       = "formdraft"
)

// Engine configures one autosave engine. It is passed in explicitly; nothing
// in formdraft reads configuration from globals.
type Engine struct {
	// FormKey namespaces every draft of one form. Required.
	FormKey string `yaml:"form_key" json:"form_key"`

	SaveInterval    time.Duration `yaml:"save_interval" json:"save_interval"`
	DebounceDelay   time.Duration `yaml:"debounce_delay" json:"debounce_delay"`
	MaxDrafts       int           `yaml:"max_drafts" json:"max_drafts"`
	FreshnessWindow time.Duration `yaml:"freshness_window" json:"freshness_window"`
	PromptTimeout   time.Duration `yaml:"prompt_timeout" json:"prompt_timeout"`

	AutoRestore  bool `yaml:"auto_restore" json:"auto_restore"`
	SaveOnChange bool `yaml:"save_on_change" json:"save_on_change"`
	Compression  bool `yaml:"compression" json:"compression"`
	Encryption   bool `yaml:"encryption" json:"encryption"`

	// Secret switches encryption from XOR obfuscation to sealed AEAD.
	Secret string `yaml:"secret" json:"-"`

	IncludeFields []string `yaml:"include_fields" json:"include_fields"`
	ExcludeFields []string `yaml:"exclude_fields" json:"exclude_fields"`

	// ValidateExpr is an optional boolean expression every payload must satisfy.
	ValidateExpr string `yaml:"validate" json:"validate"`

	SchemaVersion string `yaml:"schema_version" json:"schema_version"`
	FormVersion   string `yaml:"form_version" json:"form_version"`
	UserAgent     string `yaml:"user_agent" json:"user_agent"`
	URL           string `yaml:"url" json:"url"`

	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	TTLDays   int    `yaml:"ttl_days" json:"ttl_days"`
}

// WithDefaults returns a copy with every zero field filled in.
func (e Engine) WithDefaults() Engine {
	if e.SaveInterval <= 0 {
		e.SaveInterval = DefaultSaveInterval
	}
	if e.DebounceDelay <= 0 {
		e.DebounceDelay = DefaultDebounceDelay
	}
	if e.MaxDrafts <= 0 {
		e.MaxDrafts = DefaultMaxDrafts
	}
	if e.FreshnessWindow <= 0 {
		e.FreshnessWindow = DefaultFreshnessWindow
	}
	if e.PromptTimeout <= 0 {
		e.PromptTimeout = DefaultPromptTimeout
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = DefaultSchemaVersion
	}
	if e.FormVersion == "" {
		e.FormVersion = DefaultFormVersion
	}
	if e.UserAgent == "" {
		e.UserAgent = DefaultUserAgent
	}
	if e.KeyPrefix == "" {
		e.KeyPrefix = DefaultKeyPrefix
	}
	if e.TTLDays <= 0 {
		e.TTLDays = DefaultTTLDays
	}
	return e
}

// Validate reports configuration that can't work.
func (e Engine) Validate() error {
	var errs []error
	if e.FormKey == "" {
		errs = append(errs, errors.New("form_key is required"))
	}
	if e.SaveInterval < 0 || e.DebounceDelay < 0 || e.FreshnessWindow < 0 || e.PromptTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if e.MaxDrafts < 0 {
		errs = append(errs, fmt.Errorf("max_drafts must not be negative, got %d", e.MaxDrafts))
	}
	if e.TTLDays < 0 {
		errs = append(errs, fmt.Errorf("ttl_days must not be negative, got %d", e.TTLDays))
	}
	if e.Secret != "" && !e.Encryption {
		errs = append(errs, errors.New("secret is set but encryption is disabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid engine config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadFile reads an Engine from a YAML file and applies defaults.
func LoadFile(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML into an Engine, rejecting unknown keys, and applies defaults.
func Parse(data []byte) (Engine, error) {
	var e Engine
	if len(data) > 0 {
		if err := decodeStrict(data, &e); err != nil {
			return Engine{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	e = e.WithDefaults()
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
