// Package humanio provides the human channel: a prompt/response
// interface that may be backed by a person or an automated stand-in.
package humanio

import (
	"context"
	"sync"
)

// Kind tells the backend what sort of answer the prompt expects.
type Kind string

const (
	FreeText Kind = "free_text"
	Approval Kind = "approval"
)

// Channel presents a prompt to a human and returns the reply.
// Implementations must honor context cancellation.
type Channel interface {
	Prompt(ctx context.Context, text string, kind Kind) (string, error)
}

// Auto is a scripted stand-in for tests and autonomous runs. Replies
// are consumed in order; when the script is exhausted it returns
// Default.
type Auto struct {
	mu      sync.Mutex
	Replies []string
	Default string

	// Prompts records every prompt text received, in order.
	Prompts []string
}

// NewAuto creates an automated channel that answers defaultReply when
// the scripted replies run out.
func NewAuto(defaultReply string, replies ...string) *Auto {
	return &Auto{Default: defaultReply, Replies: replies}
}

// Prompt returns the next scripted reply.
func (a *Auto) Prompt(ctx context.Context, text string, kind Kind) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Prompts = append(a.Prompts, text)
	if len(a.Replies) == 0 {
		return a.Default, nil
	}
	reply := a.Replies[0]
	a.Replies = a.Replies[1:]
	return reply, nil
}
