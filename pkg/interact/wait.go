package interact

import (
	"context"
	"time"

	"github.com/entrhq/formdraft/pkg/types"
)

// waitForResponse waits for the user's answer to prompt
func (b *Broker) waitForResponse(ctx context.Context, prompt types.Prompt, responseChannel chan *types.PromptResponse) (*types.PromptResponse, error) {
	timeout := time.NewTimer(b.timeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case <-timeout.C:
		b.emitEvent(types.NewPromptTimeoutEvent(prompt))
		return nil, ErrPromptTimeout

	case response, ok := <-responseChannel:
		if !ok {
			return nil, ErrPromptDismissed
		}
		b.emitEvent(types.NewPromptAnsweredEvent(prompt))
		return response, nil
	}
}
