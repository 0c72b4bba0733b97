package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/MagClaw/MagClaw/internal/provider"
)

// ErrDenied is returned when a human declines a guarded action. It is
// expected and recoverable; callers surface it as a normal response.
var ErrDenied = errors.New("action denied by approval gate")

// Action is an operation wrapped with prepare/approval/invoke/cleanup
// semantics. Prepare, Describe, and Cleanup are optional.
type Action struct {
	Name     string
	Baseline Baseline
	Guess    Guess

	// Prepare acquires whatever the action needs before the approval
	// decision (e.g. staging a file, taking a screenshot).
	Prepare func(ctx context.Context) error
	// Describe materializes the human-readable description. It may
	// itself require an external call; when nil, Name is used.
	Describe func(ctx context.Context) (string, error)
	// Invoke performs the action.
	Invoke func(ctx context.Context) (string, error)
	// Cleanup releases Prepare's resources. It runs exactly once on
	// every exit path: success, denial, or the action failing.
	Cleanup func()
}

// InvokeWithApproval runs the action through the gate. A nil gate runs
// the action unguarded (cleanup semantics still hold).
func InvokeWithApproval(ctx context.Context, gate *Gate, act Action, history []provider.Message) (result string, err error) {
	if act.Invoke == nil {
		return "", fmt.Errorf("action %q has no invoke", act.Name)
	}

	cleaned := false
	cleanup := func() {
		if cleaned || act.Cleanup == nil {
			return
		}
		cleaned = true
		act.Cleanup()
	}
	defer cleanup()

	if act.Prepare != nil {
		if err := act.Prepare(ctx); err != nil {
			return "", fmt.Errorf("prepare %q: %w", act.Name, err)
		}
	}

	if gate != nil && gate.RequiresApproval(ctx, act.Baseline, act.Guess, history) {
		description := act.Name
		if act.Describe != nil {
			d, err := act.Describe(ctx)
			if err != nil {
				return "", fmt.Errorf("describe %q: %w", act.Name, err)
			}
			description = d
		}
		accepted, err := gate.Decide(ctx, act.Name, act.Baseline, description)
		if err != nil {
			return "", err
		}
		if !accepted {
			return "", fmt.Errorf("%q: %w", act.Name, ErrDenied)
		}
	}

	return act.Invoke(ctx)
}
