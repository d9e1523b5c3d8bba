package kv

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func backends(t *testing.T) map[string]func(now func() time.Time) Store {
	return map[string]func(now func() time.Time) Store{
		"memory": func(now func() time.Time) Store {
			return NewMemory().WithClock(now)
		},
		"file": func(now func() time.Time) Store {
			s, err := NewFile(filepath.Join(t.TempDir(), "jar.json"))
			require.NoError(t, err)
			s.now = now
			return s
		},
		"sqlite": func(now func() time.Time) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			s.now = now
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
			store := build(clock.Now)

			_, ok, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, "a", `{"x":1}`, SetOptions{Path: "/", Secure: true, SameSite: SameSiteStrict}))
			value, ok, err := store.Get(ctx, "a")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"x":1}`, value)

			require.NoError(t, store.Set(ctx, "a", "overwritten", SetOptions{}))
			value, _, _ = store.Get(ctx, "a")
			assert.Equal(t, "overwritten", value)

			require.NoError(t, store.Delete(ctx, "a"))
			_, ok, _ = store.Get(ctx, "a")
			assert.False(t, ok)

			require.NoError(t, store.Delete(ctx, "never-set"), "deleting an absent key is not an error")
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()

	for name, build := range backends(t) {
		t.Run(name, func(t *testing.T) {
			clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
			store := build(clock.Now)

			require.NoError(t, store.Set(ctx, "week", "v", SetOptions{TTLDays: 7}))
			require.NoError(t, store.Set(ctx, "forever", "v", SetOptions{}))

			clock.now = clock.now.Add(6 * 24 * time.Hour)
			_, ok, _ := store.Get(ctx, "week")
			assert.True(t, ok, "value should survive before its ttl")

			clock.now = clock.now.Add(2 * 24 * time.Hour)
			_, ok, _ = store.Get(ctx, "week")
			assert.False(t, ok, "value should expire after its ttl")

			_, ok, _ = store.Get(ctx, "forever")
			assert.True(t, ok)

			lister, isLister := store.(Lister)
			require.True(t, isLister)
			keys, err := lister.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"forever"}, keys)
		})
	}
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "jar.json")

	first, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "form_drafts_client", "[]", SetOptions{TTLDays: 7, Path: "/", Secure: true, SameSite: SameSiteStrict}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var jar fileJar
	require.NoError(t, json.Unmarshal(raw, &jar))
	assert.Equal(t, fileJarVersion, jar.Version)
	assert.Equal(t, SameSiteStrict, jar.Entries["form_drafts_client"].SameSite)

	second, err := NewFile(path)
	require.NoError(t, err)
	value, ok, err := second.Get(ctx, "form_drafts_client")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", value)
	assert.Equal(t, path, second.Path())
}

func TestFileKeepsStateWhenWriteFails(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "jar")
	store, err := NewFile(filepath.Join(dir, "drafts.json"))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "kept", "1", SetOptions{}))

	// Replace the jar directory with a plain file so every flush fails.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o600))

	assert.Error(t, store.Set(ctx, "lost", "2", SetOptions{}))
	_, ok, err := store.Get(ctx, "lost")
	require.NoError(t, err)
	assert.False(t, ok, "a failed write is not visible")

	assert.Error(t, store.Delete(ctx, "kept"))
	v, ok, err := store.Get(ctx, "kept")
	require.NoError(t, err)
	assert.True(t, ok, "a failed delete keeps the entry")
	assert.Equal(t, "1", v)
}

func TestFileRejectsCorruptJar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jar.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFile(path)
	assert.Error(t, err)
}

func TestSQLitePrune(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	clock := &testClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	store.now = clock.Now

	require.NoError(t, store.Set(ctx, "short", "v", SetOptions{TTLDays: 1}))
	require.NoError(t, store.Set(ctx, "long", "v", SetOptions{TTLDays: 30}))

	clock.now = clock.now.Add(48 * time.Hour)
	removed, err := store.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestMemoryCountsOps(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, _, _ = store.Get(ctx, "k")
	_ = store.Set(ctx, "k", "v", SetOptions{TTLDays: 3})
	_ = store.Delete(ctx, "other")

	gets, sets, deletes := store.Ops()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 1, sets)
	assert.Equal(t, 1, deletes)

	raw, ok := store.Raw("k")
	assert.True(t, ok)
	assert.Equal(t, "v", raw)
	opts, _ := store.Options("k")
	assert.Equal(t, 3, opts.TTLDays)

	gets, _, _ = store.Ops()
	assert.Equal(t, 1, gets, "Raw and Options must not count as operations")
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	var store Store = Unavailable{}

	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, store.Set(ctx, "k", "v", SetOptions{}), ErrUnavailable)
	assert.ErrorIs(t, store.Delete(ctx, "k"), ErrUnavailable)
}
