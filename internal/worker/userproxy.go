package worker

import (
	"context"
	"fmt"

	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/message"
)

// UserProxyName is the registry name of the human proxy worker.
const UserProxyName = "user_proxy"

// UserProxy bridges the human channel onto the bus. The orchestrator
// directs turns here while paused or when a step needs human input.
type UserProxy struct {
	channel humanio.Channel
}

// NewUserProxy creates a human proxy backed by the given channel.
func NewUserProxy(ch humanio.Channel) *UserProxy {
	return &UserProxy{channel: ch}
}

func (u *UserProxy) Name() string { return UserProxyName }

func (u *UserProxy) Description() string {
	return "Relays a question to the human user and returns their answer. Use for clarification, credentials, or decisions only a person can make."
}

func (u *UserProxy) Run(ctx context.Context, msgs []message.Envelope) (<-chan Event, error) {
	prompt := "Your input is needed to continue."
	for i := len(msgs) - 1; i >= 0; i-- {
		if text := msgs[i].TextContent(); text != "" {
			prompt = text
			break
		}
	}

	ch := make(chan Event, 1)
	go func() {
		defer close(ch)
		reply, err := u.channel.Prompt(ctx, prompt, humanio.FreeText)
		if err != nil {
			reply = fmt.Sprintf("Error: human channel unavailable: %v", err)
		}
		select {
		case ch <- Event{Env: message.New(UserProxyName, message.Text{Content: reply}), Terminal: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (u *UserProxy) Reset(ctx context.Context) error { return nil }
