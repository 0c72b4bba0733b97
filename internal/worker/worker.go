// Package worker defines the worker contract and the registry that
// maps stable names to instances.
package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/MagClaw/MagClaw/internal/message"
)

// Event is one item in a worker's response stream. A run produces a
// finite sequence of events ending in exactly one terminal response.
type Event struct {
	Env      message.Envelope
	Terminal bool
}

// Worker is an addressable participant that executes plan steps.
// Run consumes the batch of new messages since its last turn and
// produces a finite, non-restartable event stream; the stream is
// closed after the terminal event. Cancellation must abort the run.
type Worker interface {
	Name() string
	Description() string
	Run(ctx context.Context, msgs []message.Envelope) (<-chan Event, error)
	Reset(ctx context.Context) error
}

// Pauser is implemented by workers that can suspend in-flight work.
type Pauser interface {
	Pause()
	Resume()
}

// StateSaver is implemented by workers with restorable state.
type StateSaver interface {
	SaveState() ([]byte, error)
	LoadState(blob []byte) error
}

// Closer is implemented by workers holding external resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Registry maps stable worker names to instances. Dispatch is lookup
// plus interface call; there is no reflection.
type Registry struct {
	workers map[string]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register adds a worker under its name.
func (r *Registry) Register(w Worker) error {
	name := w.Name()
	if name == "" {
		return fmt.Errorf("worker has empty name")
	}
	if _, ok := r.workers[name]; ok {
		return fmt.Errorf("worker %q already registered", name)
	}
	r.workers[name] = w
	return nil
}

// Get returns a worker by name.
func (r *Registry) Get(name string) (Worker, bool) {
	w, ok := r.workers[name]
	return w, ok
}

// Names returns the registered worker names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.workers))
	for name := range r.workers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns all registered workers.
func (r *Registry) All() []Worker {
	out := make([]Worker, 0, len(r.workers))
	for _, name := range r.Names() {
		out = append(out, r.workers[name])
	}
	return out
}

// Describe renders "name: description" lines for planning prompts.
func (r *Registry) Describe() string {
	var out string
	for _, w := range r.All() {
		out += fmt.Sprintf("- %s: %s\n", w.Name(), w.Description())
	}
	return out
}
