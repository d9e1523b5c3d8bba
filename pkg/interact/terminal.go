package interact

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/entrhq/formdraft/pkg/types"
)

// Terminal is a line-based Prompter for command-line tools. Prompts are
// written to the writer and answers read one line at a time.
type Terminal struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
}

// TerminalOption is a function that configures a Terminal.
type TerminalOption func(*Terminal)

// WithReader sets the input source (default is os.Stdin).
func WithReader(r io.Reader) TerminalOption {
	return func(t *Terminal) {
		t.reader = bufio.NewReader(r)
	}
}

// WithWriter sets a custom output writer (default is os.Stdout).
func WithWriter(w io.Writer) TerminalOption {
	return func(t *Terminal) {
		t.writer = w
	}
}

// NewTerminal creates a terminal prompter.
func NewTerminal(opts ...TerminalOption) *Terminal {
	t := &Terminal{
		reader: bufio.NewReader(os.Stdin),
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Confirm accepts y, yes or the confirm label and declines n or no. An empty
// answer or closed input dismisses the prompt.
func (t *Terminal) Confirm(ctx context.Context, title, message, confirmLabel string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "\n%s\n%s\n[%s / No]: ", title, message, confirmLabel)
	answer, err := t.readLine(ctx)
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "":
		return false, ErrPromptDismissed
	case "y", "yes", strings.ToLower(confirmLabel):
		return true, nil
	default:
		return false, nil
	}
}

// PromptChoice returns the trimmed line the user typed. Closed input counts
// as no answer.
func (t *Terminal) PromptChoice(ctx context.Context, title, message, inputKind string) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.writer, "\n%s\n%s\n> ", title, message)
	answer, err := t.readLine(ctx)
	if errors.Is(err, ErrPromptDismissed) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return answer, true, nil
}

func (t *Terminal) Notify(kind types.NotificationKind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch kind {
	case types.NotifySuccess:
		fmt.Fprintf(t.writer, "✅ %s\n", message)
	case types.NotifyError:
		fmt.Fprintf(t.writer, "❌ %s\n", message)
	case types.NotifyWarning:
		fmt.Fprintf(t.writer, "⚠️  %s\n", message)
	default:
		fmt.Fprintf(t.writer, "%s\n", message)
	}
}

// readLine reads one line, giving up when ctx ends. EOF dismisses the prompt.
func (t *Terminal) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := t.reader.ReadString('\n')
		done <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.writer)
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil && (r.err != io.EOF || r.line == "") {
			if r.err == io.EOF {
				return "", ErrPromptDismissed
			}
			return "", fmt.Errorf("failed to read input: %w", r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}
