package interact

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/formdraft/pkg/types"
	"github.com/google/uuid"
)

// DefaultPromptTimeout bounds how long the broker waits for an answer.
const DefaultPromptTimeout = 5 * time.Minute

// EventEmitter is a function type for emitting events
type EventEmitter func(event *types.EngineEvent)

// Broker is an event-driven Prompter. Each prompt is emitted as a
// prompt_request event and the call blocks until the host delivers a matching
// PromptResponse through HandleResponse.
type Broker struct {
	timeout   time.Duration
	pending   map[string]*pendingPrompt
	mu        sync.Mutex
	emitEvent EventEmitter
}

// pendingPrompt tracks a prompt that is waiting for the user
type pendingPrompt struct {
	prompt    types.Prompt
	asked     time.Time
	response  chan *types.PromptResponse
	closeOnce sync.Once
}

// NewBroker creates a broker. A non-positive timeout uses DefaultPromptTimeout.
func NewBroker(timeout time.Duration, emitEvent EventEmitter) *Broker {
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	if emitEvent == nil {
		emitEvent = func(*types.EngineEvent) {}
	}
	return &Broker{
		timeout:   timeout,
		pending:   make(map[string]*pendingPrompt),
		emitEvent: emitEvent,
	}
}

func (b *Broker) Confirm(ctx context.Context, title, message, confirmLabel string) (bool, error) {
	resp, err := b.ask(ctx, types.Prompt{
		Kind:         types.PromptConfirm,
		Title:        title,
		Message:      message,
		ConfirmLabel: confirmLabel,
	})
	if err != nil {
		return false, err
	}
	switch resp.Type {
	case types.ResponseTypeConfirm:
		return true, nil
	case types.ResponseTypeDecline:
		return false, nil
	default:
		return false, ErrPromptDismissed
	}
}

func (b *Broker) PromptChoice(ctx context.Context, title, message, inputKind string) (string, bool, error) {
	resp, err := b.ask(ctx, types.Prompt{
		Kind:      types.PromptChoice,
		Title:     title,
		Message:   message,
		InputKind: inputKind,
	})
	if err != nil {
		return "", false, err
	}
	if resp.Type != types.ResponseTypeChoice {
		return "", false, nil
	}
	return resp.Value, true, nil
}

func (b *Broker) Notify(kind types.NotificationKind, message string) {
	b.emitEvent(types.NewNotificationEvent(kind, message))
}

// HandleResponse delivers an answer to the waiting prompt. Responses for
// unknown or already settled prompts are ignored.
func (b *Broker) HandleResponse(response *types.PromptResponse) {
	if response == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pending[response.RequestID]
	if !ok {
		return
	}

	// Non-blocking: the waiter may already be gone.
	select {
	case p.response <- response:
	default:
	}
}

// Pending lists unanswered prompts, oldest first.
func (b *Broker) Pending() []types.Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := make([]*pendingPrompt, 0, len(b.pending))
	for _, p := range b.pending {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].asked.Before(list[j].asked) })

	out := make([]types.Prompt, len(list))
	for i, p := range list {
		out[i] = p.prompt
	}
	return out
}

func (b *Broker) ask(ctx context.Context, prompt types.Prompt) (*types.PromptResponse, error) {
	prompt.ID = uuid.New().String()
	responseChannel := make(chan *types.PromptResponse, 1)

	b.setupPending(prompt, responseChannel)
	defer b.cleanupPending(prompt.ID)

	b.emitEvent(types.NewPromptRequestEvent(prompt))
	return b.waitForResponse(ctx, prompt, responseChannel)
}

func (b *Broker) setupPending(prompt types.Prompt, responseChannel chan *types.PromptResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[prompt.ID] = &pendingPrompt{
		prompt:   prompt,
		asked:    time.Now(),
		response: responseChannel,
	}
}

// cleanupPending is safe to call multiple times.
func (b *Broker) cleanupPending(id string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if ok && p != nil {
		p.closeOnce.Do(func() {
			close(p.response)
		})
	}
}
