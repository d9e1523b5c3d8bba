// Package consent models the user's storage consent as an injected, observable
// signal. Nothing in formdraft persists data unless the Gate allows it, and
// every component re-evaluates the gate when the provider reports a change.
package consent

import (
	"sort"
	"sync"
)

// Category is a named bucket of storage the user grants separately.
type Category string

const (
	Essential     Category = "essential"
	Preferences   Category = "preferences"
	Functionality Category = "functionality"
	Analytics     Category = "analytics"
)

// Provider is the consent collaborator. Subscribe registers fn to be called
// after any change to either answer and returns a function that removes it.
type Provider interface {
	HasConsent() bool
	HasConsentForCategory(category Category) bool
	Subscribe(fn func()) (unsubscribe func())
}

// Gate combines the global consent flag with one category.
type Gate struct {
	provider Provider
	category Category
}

// NewGate gates on the functionality category, which covers form drafts.
func NewGate(provider Provider) *Gate {
	return NewCategoryGate(provider, Functionality)
}

// NewCategoryGate gates on an arbitrary category.
func NewCategoryGate(provider Provider, category Category) *Gate {
	return &Gate{provider: provider, category: category}
}

// Allowed reports whether persistence is currently permitted. A nil gate or
// provider never allows anything.
func (g *Gate) Allowed() bool {
	if g == nil || g.provider == nil {
		return false
	}
	return g.provider.HasConsent() && g.provider.HasConsentForCategory(g.category)
}

// Category returns the gated category.
func (g *Gate) Category() Category {
	return g.category
}

// Watch calls fn with the new gate value each time it flips. It returns an
// unsubscribe function; calling it more than once is safe.
func (g *Gate) Watch(fn func(allowed bool)) func() {
	if g == nil || g.provider == nil || fn == nil {
		return func() {}
	}

	var mu sync.Mutex
	last := g.Allowed()
	return g.provider.Subscribe(func() {
		now := g.Allowed()
		mu.Lock()
		changed := now != last
		last = now
		mu.Unlock()
		if changed {
			fn(now)
		}
	})
}

// broadcaster fans change notifications out to subscribers in registration order.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

func (b *broadcaster) subscribe(fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func())
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *broadcaster) notify() {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Static is an in-process Provider whose answers are set directly by the host.
type Static struct {
	mu         sync.RWMutex
	accepted   bool
	categories map[Category]bool
	subs       broadcaster
}

// NewStatic creates a provider with the given global answer and granted categories.
func NewStatic(accepted bool, granted ...Category) *Static {
	s := &Static{accepted: accepted, categories: make(map[Category]bool)}
	for _, c := range granted {
		s.categories[c] = true
	}
	return s
}

// Granted is shorthand for a provider that accepted functionality storage.
func Granted() *Static {
	return NewStatic(true, Functionality)
}

func (s *Static) HasConsent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accepted
}

func (s *Static) HasConsentForCategory(category Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.accepted {
		return false
	}
	if category == Essential {
		return true
	}
	return s.categories[category]
}

func (s *Static) Subscribe(fn func()) func() {
	return s.subs.subscribe(fn)
}

// SetAccepted changes the global answer and notifies subscribers.
func (s *Static) SetAccepted(accepted bool) {
	s.mu.Lock()
	s.accepted = accepted
	s.mu.Unlock()
	s.subs.notify()
}

// SetCategory grants or withdraws one category and notifies subscribers.
func (s *Static) SetCategory(category Category, granted bool) {
	s.mu.Lock()
	s.categories[category] = granted
	s.mu.Unlock()
	s.subs.notify()
}
