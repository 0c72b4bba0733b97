package worker

import (
	"context"

	"github.com/MagClaw/MagClaw/internal/message"
)

// NoOpName is the registry name of the do-nothing pseudo-worker.
const NoOpName = "no_action"

// NoOp lets the progress ledger request "do nothing this turn" without
// a bus round trip to a real worker.
type NoOp struct{}

// NewNoOp creates the no-op pseudo-worker.
func NewNoOp() *NoOp { return &NoOp{} }

func (n *NoOp) Name() string { return NoOpName }

func (n *NoOp) Description() string {
	return "Takes no action this turn. Use when the next step needs nothing from any worker."
}

func (n *NoOp) Run(ctx context.Context, msgs []message.Envelope) (<-chan Event, error) {
	ch := make(chan Event, 1)
	ch <- Event{
		Env:      message.New(NoOpName, message.Text{Content: "No action taken this turn."}),
		Terminal: true,
	}
	close(ch)
	return ch, nil
}

func (n *NoOp) Reset(ctx context.Context) error { return nil }
