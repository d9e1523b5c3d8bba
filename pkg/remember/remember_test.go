package remember

import (
	"context"
	"testing"

	"github.com/entrhq/formdraft/pkg/consent"
	"github.com/entrhq/formdraft/pkg/fields"
	"github.com/entrhq/formdraft/pkg/kv"
	"github.com/entrhq/formdraft/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKeeper(t *testing.T, form *fields.MapForm, backend kv.Store, provider consent.Provider, opts Options) *Keeper {
	t.Helper()
	if opts.FormKey == "" {
		opts.FormKey = "booking"
	}
	k, err := New(form, backend, provider, opts, WithSaveDelay(0), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func TestNewRequiresFormKey(t *testing.T) {
	_, err := New(fields.NewMapForm(nil), kv.NewMemory(), consent.Granted(), Options{})
	assert.Error(t, err)
}

func TestRememberedFieldsAreSavedOnChange(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	form := fields.NewMapForm(map[string]any{"barber": "", "service": "", "notes": ""})
	k := newKeeper(t, form, backend, consent.Granted(), Options{Fields: []string{"barber", "service"}})
	k.Start(ctx)

	form.Set("notes", "ignored")
	_, ok := backend.Raw("form_booking_last_values")
	assert.False(t, ok, "fields outside the list are not remembered")

	form.Set("barber", "Rafael")
	raw, ok := backend.Raw("form_booking_last_values")
	require.True(t, ok)
	assert.JSONEq(t, `{"barber":"Rafael"}`, raw)

	opts, _ := backend.Options("form_booking_last_values")
	assert.Equal(t, DefaultTTLDays, opts.TTLDays)
	assert.Equal(t, kv.SameSiteStrict, opts.SameSite)
	assert.True(t, opts.Secure)

	form.Set("barber", "")
	raw, _ = backend.Raw("form_booking_last_values")
	assert.JSONEq(t, `{"barber":"Rafael"}`, raw, "blank values never overwrite what is remembered")

	assert.True(t, k.Has("barber"))
	assert.Equal(t, "Rafael", k.Value("barber"))
	assert.False(t, k.Has("service"))
	assert.Equal(t, "", k.Value("service"))
}

func TestLoadFillsOnlyBlankFields(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, "form_booking_last_values", `{"barber":"Rafael","service":"Corte","unknown":"x"}`, kv.SetOptions{}))

	form := fields.NewMapForm(map[string]any{"barber": "", "service": "Barba"})
	k := newKeeper(t, form, backend, consent.Granted(), Options{Fields: []string{"barber", "service", "unknown"}})
	require.NoError(t, k.LoadLastValues(ctx))

	barber, _ := form.Get("barber")
	service, _ := form.Get("service")
	assert.Equal(t, "Rafael", barber)
	assert.Equal(t, "Barba", service, "a value the user typed wins")
	assert.False(t, form.Has("unknown"), "undeclared fields are not created")
	assert.True(t, k.Info().HasLastValues)
}

func TestCorruptDataIsIgnored(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, "form_booking_last_values", "{broken", kv.SetOptions{}))
	require.NoError(t, backend.Set(ctx, "form_booking_filters", "{broken", kv.SetOptions{}))

	form := fields.NewMapForm(map[string]any{"barber": ""})
	k := newKeeper(t, form, backend, consent.Granted(), Options{Fields: []string{"barber"}, Filters: true})
	assert.NoError(t, k.LoadLastValues(ctx))
	assert.Empty(t, k.LoadFilters(ctx))
	assert.False(t, k.Info().HasLastValues)
}

func TestFiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	form := fields.NewMapForm(nil)

	k := newKeeper(t, form, backend, consent.Granted(), Options{Filters: true, Pagination: true})
	require.NoError(t, k.SaveFilters(ctx, map[string]any{"status": "confirmed"}))
	require.NoError(t, k.SavePagination(ctx, map[string]any{"page": 3, "per_page": 20}))

	fresh := newKeeper(t, form, backend, consent.Granted(), Options{Filters: true, Pagination: true})
	assert.Equal(t, map[string]any{"status": "confirmed"}, fresh.LoadFilters(ctx))
	assert.Equal(t, map[string]any{"page": float64(3), "per_page": float64(20)}, fresh.LoadPagination(ctx))

	info := fresh.Info()
	assert.True(t, info.HasFilters)
	assert.True(t, info.HasPagination)
	assert.False(t, info.HasLastValues)
	assert.True(t, info.CanUse)

	disabled := newKeeper(t, form, backend, consent.Granted(), Options{})
	assert.NoError(t, disabled.SaveFilters(ctx, map[string]any{"status": "x"}))
	assert.Empty(t, disabled.LoadFilters(ctx), "filters are only read when enabled")
	assert.Empty(t, disabled.LoadPagination(ctx))
}

func TestConsentGating(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	require.NoError(t, backend.Set(ctx, "form_booking_last_values", `{"barber":"Rafael"}`, kv.SetOptions{}))
	form := fields.NewMapForm(map[string]any{"barber": ""})

	provider := consent.NewStatic(true)
	k := newKeeper(t, form, backend, provider, Options{Fields: []string{"barber"}, Filters: true})
	gets, sets, deletes := backend.Ops()

	k.Start(ctx)
	barber, _ := form.Get("barber")
	assert.Equal(t, "", barber, "nothing is loaded without consent")
	assert.ErrorIs(t, k.SaveLastValues(ctx), ErrConsentDenied)
	assert.ErrorIs(t, k.SaveFilters(ctx, map[string]any{"a": 1}), ErrConsentDenied)
	assert.ErrorIs(t, k.Remember(ctx, "barber", "Bruno"), ErrConsentDenied)
	assert.Empty(t, k.LoadFilters(ctx))
	assert.False(t, k.Info().CanUse)

	g2, s2, d2 := backend.Ops()
	assert.Equal(t, []int{gets, sets, deletes}, []int{g2, s2, d2})

	provider.SetCategory(consent.Functionality, true)
	barber, _ = form.Get("barber")
	assert.Equal(t, "Rafael", barber, "granting consent reloads remembered values")

	provider.SetCategory(consent.Functionality, false)
	_, ok := backend.Raw("form_booking_last_values")
	assert.False(t, ok, "withdrawal clears everything remembered")
	assert.False(t, k.Has("barber"))
}

func TestRememberAndClearAll(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	form := fields.NewMapForm(map[string]any{"barber": "", "service": ""})
	k := newKeeper(t, form, backend, consent.Granted(), Options{Fields: []string{"barber"}, Pagination: true})

	require.NoError(t, k.Remember(ctx, "barber", "Bruno"))
	assert.Error(t, k.Remember(ctx, "service", "x"))
	raw, ok := backend.Raw("form_booking_last_values")
	require.True(t, ok)
	assert.JSONEq(t, `{"barber":"Bruno"}`, raw)

	require.NoError(t, k.SavePagination(ctx, map[string]any{"page": 2}))
	require.NoError(t, k.ClearAll(ctx))

	for _, kind := range []string{"last_values", "filters", "pagination"} {
		_, ok := backend.Raw("form_booking_" + kind)
		assert.False(t, ok, kind)
	}
	info := k.Info()
	assert.False(t, info.HasLastValues)
	assert.False(t, info.HasPagination)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	backend := kv.NewMemory()
	for _, key := range []string{
		"form_booking_last_values",
		"form_booking_filters",
		"form_reports_pagination",
		"form_drafts_booking",
		"form_preferences",
		"cookie_consent",
	} {
		require.NoError(t, backend.Set(ctx, key, "{}", kv.SetOptions{}))
	}

	require.NoError(t, Purge(ctx, backend))

	keys, err := backend.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"form_drafts_booking", "form_preferences", "cookie_consent"}, keys)

	assert.NoError(t, Purge(ctx, kv.Unavailable{}), "stores without listing are left alone")
}
