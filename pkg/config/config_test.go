package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gate bool

func (g gate) Allowed() bool { return bool(g) }

func TestEngineWithDefaults(t *testing.T) {
	e := Engine{FormKey: "clients"}.WithDefaults()

	assert.Equal(t, 30*time.Second, e.SaveInterval)
	assert.Equal(t, 2*time.Second, e.DebounceDelay)
	assert.Equal(t, 5, e.MaxDrafts)
	assert.Equal(t, 5*time.Minute, e.FreshnessWindow)
	assert.Equal(t, "2.0", e.SchemaVersion)
	assert.Equal(t, "1.0", e.FormVersion)
	assert.Equal(t, "form_drafts_", e.KeyPrefix)
	assert.Equal(t, 7, e.TTLDays)
	assert.False(t, e.AutoRestore)
	assert.False(t, e.Compression)

	custom := Engine{FormKey: "x", MaxDrafts: 2, DebounceDelay: time.Second}.WithDefaults()
	assert.Equal(t, 2, custom.MaxDrafts)
	assert.Equal(t, time.Second, custom.DebounceDelay)
}

func TestEngineValidate(t *testing.T) {
	tests := []struct {
		name    string
		engine  Engine
		wantErr bool
	}{
		{"valid", Engine{FormKey: "f"}, false},
		{"missing form key", Engine{}, true},
		{"negative duration", Engine{FormKey: "f", DebounceDelay: -time.Second}, true},
		{"negative cap", Engine{FormKey: "f", MaxDrafts: -1}, true},
		{"secret without encryption", Engine{FormKey: "f", Secret: "s"}, true},
		{"secret with encryption", Engine{FormKey: "f", Secret: "s", Encryption: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.engine.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
form_key: appointment
save_interval: 45s
debounce_delay: 500ms
max_drafts: 3
auto_restore: true
compression: true
encryption: true
secret: s3cret
exclude_fields: ["password*", card_number]
validate: 'len(name) > 0'
url: /appointments/new
`), 0o600))

	e, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "appointment", e.FormKey)
	assert.Equal(t, 45*time.Second, e.SaveInterval)
	assert.Equal(t, 500*time.Millisecond, e.DebounceDelay)
	assert.Equal(t, 3, e.MaxDrafts)
	assert.True(t, e.AutoRestore)
	assert.True(t, e.Compression)
	assert.Equal(t, "s3cret", e.Secret)
	assert.Equal(t, []string{"password*", "card_number"}, e.ExcludeFields)
	assert.Equal(t, "len(name) > 0", e.ValidateExpr)
	assert.Equal(t, 5*time.Minute, e.FreshnessWindow, "unset fields get defaults")

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("form_key: f\nautosave_interval: 10s\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("save_interval: 10s\n"))
	assert.Error(t, err, "form_key is required")
}

func TestPreferencesSection(t *testing.T) {
	s := NewPreferencesSection()
	assert.Equal(t, DefaultPreferences(), s.Get())
	assert.Equal(t, SectionIDPreferences, s.ID())
	assert.NotEmpty(t, s.Title())
	assert.NotEmpty(t, s.Description())

	data := s.Data()
	assert.Equal(t, int64(30000), data["auto_save_interval"])
	assert.Equal(t, true, data["auto_save"])

	require.NoError(t, s.SetData(map[string]interface{}{
		"auto_save":          false,
		"auto_save_interval": float64(60000),
		"save_on_change":     true,
		"unknown":            "ignored",
	}))
	p := s.Get()
	assert.False(t, p.AutoSave)
	assert.True(t, p.SaveOnChange)
	assert.Equal(t, time.Minute, p.AutoSaveInterval)
	assert.True(t, p.ConfirmBeforeLeave, "untouched keys keep their values")

	require.NoError(t, s.SetData(map[string]interface{}{"auto_save_interval": "90s"}))
	assert.Equal(t, 90*time.Second, s.Get().AutoSaveInterval)

	err := s.SetData(map[string]interface{}{"auto_save": "yes", "save_on_change": false})
	assert.Error(t, err)
	assert.True(t, s.Get().SaveOnChange, "a failed SetData applies nothing")

	s.Set(Preferences{AutoSaveInterval: 10 * time.Millisecond})
	assert.Error(t, s.Validate())

	s.Reset()
	assert.Equal(t, DefaultPreferences(), s.Get())
	assert.NoError(t, s.Validate())
}

func TestPreferencesRoundTripThroughKV(t *testing.T) {
	backend := kv.NewMemory()

	manager, section, err := NewPreferencesManager(backend, gate(true))
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), section.Get())

	p := section.Get()
	p.AutoSave = false
	p.AutoSaveInterval = 15 * time.Second
	section.Set(p)
	require.NoError(t, manager.SaveAll())

	opts, ok := backend.Options(SectionIDPreferences)
	require.True(t, ok)
	assert.Equal(t, PreferencesTTLDays, opts.TTLDays)

	_, reloaded, err := NewPreferencesManager(backend, gate(true))
	require.NoError(t, err)
	assert.False(t, reloaded.Get().AutoSave)
	assert.Equal(t, 15*time.Second, reloaded.Get().AutoSaveInterval)
}

func TestInvalidStoredPreferencesFallBackToDefaults(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, SectionIDPreferences, `{"auto_save":false,"auto_save_interval":1}`, kv.SetOptions{}))

	_, section, err := NewPreferencesManager(backend, gate(true))
	require.NoError(t, err)
	assert.Equal(t, DefaultPreferences(), section.Get())
}

func TestPreferencesValidate(t *testing.T) {
	p := DefaultPreferences()
	assert.NoError(t, p.Validate())
	p.AutoSaveInterval = time.Millisecond
	assert.Error(t, p.Validate())
	p.AutoSaveInterval = 48 * time.Hour
	assert.Error(t, p.Validate())
}

func TestPreferencesWithoutConsentUseDefaults(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, SectionIDPreferences, `{"auto_save":false}`, kv.SetOptions{}))

	manager, section, err := NewPreferencesManager(backend, gate(false))
	require.NoError(t, err)
	assert.True(t, section.Get().AutoSave, "stored values are ignored without consent")

	err = manager.SaveAll()
	assert.ErrorIs(t, err, ErrConsentDenied)
}

func TestKVStore(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, "corrupt", "{nope", kv.SetOptions{}))

	store := NewKVStore(backend, gate(true), "corrupt", "absent")
	require.NoError(t, store.Load())
	all, err := store.GetAll()
	require.NoError(t, err)
	assert.Empty(t, all, "corrupt and absent sections load as nothing")
	assert.False(t, store.IsModified())

	require.NoError(t, store.SetAll(map[string]map[string]interface{}{
		"extra": {"n": 1},
	}))
	assert.True(t, store.IsModified())
	require.NoError(t, store.Save())
	assert.False(t, store.IsModified())

	raw, ok := backend.Raw("extra")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, raw)

	require.NoError(t, store.Load())
	section, err := store.GetSection("extra")
	require.NoError(t, err)
	assert.Equal(t, float64(1), section["n"])

	section["n"] = 2
	again, _ := store.GetSection("extra")
	assert.Equal(t, float64(1), again["n"], "GetSection returns a copy")

	_, setsBefore, _ := backend.Ops()
	require.NoError(t, store.Save())
	_, setsAfter, _ := backend.Ops()
	assert.Equal(t, setsBefore, setsAfter, "saving without changes writes nothing")
}
