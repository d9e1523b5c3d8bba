package fields

import (
	"sort"
	"sync"
)

// Form is the live form the engine snapshots and restores into.
type Form interface {
	// Snapshot returns a copy of every field value.
	Snapshot() map[string]any
	// Has reports whether the form declares field name.
	Has(name string) bool
	// Set assigns a value to a declared field.
	Set(name string, value any)
}

// Notifier is implemented by forms that report field changes.
// Subscribe returns a function that removes the listener.
type Notifier interface {
	Subscribe(fn func(name string)) (unsubscribe func())
}

// MapForm is a concurrency-safe map-backed Form. Every Set notifies listeners
// with the changed field name, after the lock is released.
type MapForm struct {
	mu     sync.RWMutex
	values map[string]any

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(string)
}

// NewMapForm declares a form with the given initial values.
func NewMapForm(initial map[string]any) *MapForm {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = Clone(v)
	}
	return &MapForm{values: values, subs: make(map[int]func(string))}
}

func (f *MapForm) Snapshot() map[string]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]any, len(f.values))
	for k, v := range f.values {
		out[k] = Clone(v)
	}
	return out
}

func (f *MapForm) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.values[name]
	return ok
}

// Get returns one field's value.
func (f *MapForm) Get(name string) (any, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok
}

// Set assigns value to name, declaring it if needed, and notifies listeners.
func (f *MapForm) Set(name string, value any) {
	f.mu.Lock()
	f.values[name] = Clone(value)
	f.mu.Unlock()
	f.notify(name)
}

// Declare adds a field without notifying listeners. Existing values are kept.
func (f *MapForm) Declare(name string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[name]; !ok {
		f.values[name] = Clone(value)
	}
}

// Names returns the declared field names in sorted order.
func (f *MapForm) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.values))
	for k := range f.values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (f *MapForm) Subscribe(fn func(name string)) func() {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.subMu.Lock()
			delete(f.subs, id)
			f.subMu.Unlock()
		})
	}
}

func (f *MapForm) notify(name string) {
	f.subMu.Lock()
	fns := make([]func(string), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.subMu.Unlock()

	for _, fn := range fns {
		fn(name)
	}
}
