package interact

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/entrhq/formdraft/pkg/types"
)

// mockEventEmitter captures emitted events and optionally answers prompts.
type mockEventEmitter struct {
	events []*types.EngineEvent
	mu     sync.Mutex

	broker *Broker
	answer func(p types.Prompt) *types.PromptResponse
}

func (m *mockEventEmitter) emit(event *types.EngineEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	answer, broker := m.answer, m.broker
	m.mu.Unlock()

	if event.Type == types.EventTypePromptRequest && answer != nil {
		resp := answer(*event.Prompt)
		if resp != nil {
			go broker.HandleResponse(resp)
		}
	}
}

func (m *mockEventEmitter) getEvents() []*types.EngineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.EngineEvent{}, m.events...)
}

func (m *mockEventEmitter) eventTypes() []types.EngineEventType {
	var out []types.EngineEventType
	for _, e := range m.getEvents() {
		out = append(out, e.Type)
	}
	return out
}

func newAnsweringBroker(timeout time.Duration, answer func(types.Prompt) *types.PromptResponse) (*Broker, *mockEventEmitter) {
	emitter := &mockEventEmitter{answer: answer}
	b := NewBroker(timeout, emitter.emit)
	emitter.broker = b
	return b, emitter
}

func TestNewBrokerDefaults(t *testing.T) {
	b := NewBroker(0, nil)
	if b.timeout != DefaultPromptTimeout {
		t.Errorf("timeout = %v, want %v", b.timeout, DefaultPromptTimeout)
	}
	// A nil emitter must not panic.
	b.Notify(types.NotifyInfo, "hello")
}

func TestBrokerConfirm(t *testing.T) {
	tests := []struct {
		name    string
		answer  func(p types.Prompt) *types.PromptResponse
		want    bool
		wantErr error
	}{
		{
			name:   "accepted",
			answer: func(p types.Prompt) *types.PromptResponse { return types.NewConfirmResponse(p.ID, true) },
			want:   true,
		},
		{
			name:   "declined",
			answer: func(p types.Prompt) *types.PromptResponse { return types.NewConfirmResponse(p.ID, false) },
			want:   false,
		},
		{
			name:    "dismissed",
			answer:  func(p types.Prompt) *types.PromptResponse { return types.NewCancelResponse(p.ID) },
			wantErr: ErrPromptDismissed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, emitter := newAnsweringBroker(time.Second, tt.answer)

			got, err := b.Confirm(context.Background(), "Draft found", "Restore it?", "Restore")
			if err != tt.wantErr {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}

			events := emitter.getEvents()
			if len(events) != 2 {
				t.Fatalf("expected request and answered events, got %v", emitter.eventTypes())
			}
			if p := events[0].Prompt; p.Kind != types.PromptConfirm || p.ConfirmLabel != "Restore" || p.ID == "" {
				t.Errorf("unexpected prompt %+v", p)
			}
			if len(b.Pending()) != 0 {
				t.Error("expected no pending prompts after answer")
			}
		})
	}
}

func TestBrokerPromptChoice(t *testing.T) {
	b, _ := newAnsweringBroker(time.Second, func(p types.Prompt) *types.PromptResponse {
		if p.InputKind != "number" {
			t.Errorf("InputKind = %q, want number", p.InputKind)
		}
		return types.NewChoiceResponse(p.ID, "2")
	})

	value, ok, err := b.PromptChoice(context.Background(), "Drafts", "Pick one", "number")
	if err != nil || !ok || value != "2" {
		t.Errorf("PromptChoice() = %q, %v, %v", value, ok, err)
	}

	b, _ = newAnsweringBroker(time.Second, func(p types.Prompt) *types.PromptResponse {
		return types.NewCancelResponse(p.ID)
	})
	_, ok, err = b.PromptChoice(context.Background(), "Drafts", "Pick one", "number")
	if err != nil || ok {
		t.Errorf("cancelled choice = %v, %v; want false, nil", ok, err)
	}
}

func TestBrokerTimeout(t *testing.T) {
	b, emitter := newAnsweringBroker(20*time.Millisecond, nil)

	_, err := b.Confirm(context.Background(), "t", "m", "ok")
	if err != ErrPromptTimeout {
		t.Fatalf("err = %v, want ErrPromptTimeout", err)
	}

	got := emitter.eventTypes()
	want := []types.EngineEventType{types.EventTypePromptRequest, types.EventTypePromptTimeout}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestBrokerContextCancel(t *testing.T) {
	b, _ := newAnsweringBroker(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := b.PromptChoice(ctx, "t", "m", "number")
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for len(b.Pending()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(b.Pending()) != 1 {
		t.Fatal("expected one pending prompt")
	}
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("prompt did not return after cancel")
	}
}

func TestBrokerIgnoresUnknownResponses(t *testing.T) {
	b := NewBroker(time.Second, nil)
	b.HandleResponse(nil)
	b.HandleResponse(types.NewConfirmResponse("no-such-prompt", true))
	b.cleanupPending("no-such-prompt")
	b.cleanupPending("no-such-prompt")
}

func TestBrokerNotify(t *testing.T) {
	emitter := &mockEventEmitter{}
	b := NewBroker(time.Second, emitter.emit)
	b.Notify(types.NotifySuccess, "Draft restored")

	events := emitter.getEvents()
	if len(events) != 1 || events[0].Kind != types.NotifySuccess || events[0].Message != "Draft restored" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestSilentAbandonsEverything(t *testing.T) {
	var p Prompter = Silent{}
	if _, err := p.Confirm(context.Background(), "", "", ""); err != ErrPromptDismissed {
		t.Errorf("Confirm err = %v", err)
	}
	if _, ok, err := p.PromptChoice(context.Background(), "", "", ""); ok || err != ErrPromptDismissed {
		t.Errorf("PromptChoice = %v, %v", ok, err)
	}
	p.Notify(types.NotifyError, "ignored")
}
