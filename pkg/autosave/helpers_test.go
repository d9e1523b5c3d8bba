package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/types"
)

var t0 = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeClock fires timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, running due timers in order. Timers scheduled
// by callbacks run too if they fall inside the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type confirmCall struct {
	title, message, label string
}

type choiceCall struct {
	title, message, inputKind string
}

type notification struct {
	kind    types.NotificationKind
	message string
}

// scriptedPrompter answers prompts from fixed values and records every call.
type scriptedPrompter struct {
	mu sync.Mutex

	confirmAnswer bool
	confirmErr    error
	choiceValue   string
	choiceOK      bool
	choiceErr     error

	confirms      []confirmCall
	choices       []choiceCall
	notifications []notification
}

func (p *scriptedPrompter) Confirm(_ context.Context, title, message, label string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms = append(p.confirms, confirmCall{title, message, label})
	return p.confirmAnswer, p.confirmErr
}

func (p *scriptedPrompter) PromptChoice(_ context.Context, title, message, inputKind string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.choices = append(p.choices, choiceCall{title, message, inputKind})
	return p.choiceValue, p.choiceOK, p.choiceErr
}

func (p *scriptedPrompter) Notify(kind types.NotificationKind, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, notification{kind, message})
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []*types.EngineEvent
}

func (r *eventRecorder) emit(e *types.EngineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) count(t types.EngineEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
