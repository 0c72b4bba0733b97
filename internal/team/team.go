// Package team wires workers and the orchestrator onto a shared bus
// and runs them as one unit.
package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MagClaw/MagClaw/internal/bus"
	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/message"
	"github.com/MagClaw/MagClaw/internal/orchestrator"
	"github.com/MagClaw/MagClaw/internal/provider"
	"github.com/MagClaw/MagClaw/internal/trace"
	"github.com/MagClaw/MagClaw/internal/worker"
)

// streamBuffer is the observable event queue depth. Events beyond it
// are dropped rather than stalling the run.
const streamBuffer = 256

// Options configures a team.
type Options struct {
	Oracle    provider.Oracle
	Human     humanio.Channel
	Journal   *trace.Service
	Publisher trace.Publisher
	Config    config.OrchestratorConfig
	Model     string
	RunID     string
	Workers   []worker.Worker
}

// Team is the composition root: a sealed bus, a worker registry with
// one pump goroutine per worker, and the orchestrator.
type Team struct {
	bus      *bus.Bus
	registry *worker.Registry
	orch     *orchestrator.Orchestrator
	inboxes  map[string]<-chan bus.Delivery
	stream   chan message.Envelope

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	turnMu      sync.Mutex
	turnCancels map[uint64]context.CancelFunc
	nextTurnID  uint64
}

// New builds a team. The participant set is sealed on return; no
// worker can join a run in progress.
func New(opts Options) (*Team, error) {
	if len(opts.Workers) == 0 {
		return nil, fmt.Errorf("team requires at least one worker")
	}

	b := bus.New()
	registry := worker.NewRegistry()
	inboxes := make(map[string]<-chan bus.Delivery)

	for _, w := range opts.Workers {
		if err := registry.Register(w); err != nil {
			return nil, err
		}
		// The no-op pseudo-worker is handled inline by the
		// orchestrator and never takes the floor.
		if w.Name() == worker.NoOpName {
			continue
		}
		inbox, err := b.Register(w.Name())
		if err != nil {
			return nil, err
		}
		inboxes[w.Name()] = inbox
	}

	t := &Team{
		bus:         b,
		registry:    registry,
		inboxes:     inboxes,
		stream:      make(chan message.Envelope, streamBuffer),
		turnCancels: make(map[uint64]context.CancelFunc),
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Oracle:    opts.Oracle,
		Bus:       b,
		Workers:   registry,
		Human:     opts.Human,
		Journal:   opts.Journal,
		Publisher: opts.Publisher,
		Emit:      t.emit,
		Config:    opts.Config,
		Model:     opts.Model,
		RunID:     opts.RunID,
	})
	if err != nil {
		return nil, err
	}
	t.orch = orch
	b.Seal()
	return t, nil
}

// Run executes a task synchronously and returns the final answer.
func (t *Team) Run(ctx context.Context, task string) (string, error) {
	t.start(ctx)
	return t.orch.Run(ctx, task)
}

// RunStream executes a task in the background and returns the
// observable event stream. The final answer arrives as a text
// envelope tagged as the final answer; the stream closes when the
// run ends.
func (t *Team) RunStream(ctx context.Context, task string) <-chan message.Envelope {
	t.start(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.stream)
		if _, err := t.orch.Run(ctx, task); err != nil {
			slog.Error("Run failed", "error", err)
		}
	}()
	return t.stream
}

// start launches one pump goroutine per worker, once.
func (t *Team) start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	for name, inbox := range t.inboxes {
		w, _ := t.registry.Get(name)
		t.wg.Add(1)
		go func(w worker.Worker, inbox <-chan bus.Delivery) {
			defer t.wg.Done()
			t.pump(ctx, w, inbox)
		}(w, inbox)
	}
}

// pump is a worker's bus adapter: it accumulates broadcasts and, on a
// speak request, runs the worker over the accumulated batch and
// broadcasts its events, marking the terminal one.
func (t *Team) pump(ctx context.Context, w worker.Worker, inbox <-chan bus.Delivery) {
	var pending []message.Envelope
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-inbox:
			if !ok {
				return
			}
			if d.Env != nil {
				if d.Env.Kind() == message.KindStop {
					pending = nil
					continue
				}
				pending = append(pending, *d.Env)
				continue
			}
			if !d.Speak {
				continue
			}

			msgs := pending
			pending = nil
			t.runWorker(ctx, w, msgs)
		}
	}
}

// runWorker executes one turn and relays its events onto the bus.
// Worker failures, including panics, become in-band terminal text,
// never a stuck turn or a dead process. The turn runs under its own
// cancellable context so Pause can abort it mid-flight.
func (t *Team) runWorker(ctx context.Context, w worker.Worker, msgs []message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Worker panicked", "worker", w.Name(), "panic", r)
			env := message.New(w.Name(), message.Text{Content: fmt.Sprintf("Error: worker panicked: %v", r)}).
				WithMeta(message.MetaKeyTerminal, "true")
			if err := t.bus.Broadcast(ctx, env); err != nil {
				slog.Warn("Broadcast worker panic failed", "worker", w.Name(), "error", err)
			}
		}
	}()

	tctx, cancel := context.WithCancel(ctx)
	id := t.registerTurn(cancel)
	defer t.unregisterTurn(id)
	defer cancel()

	events, err := w.Run(tctx, msgs)
	if err != nil {
		env := message.New(w.Name(), message.Text{Content: fmt.Sprintf("Error: worker failed to start: %v", err)}).
			WithMeta(message.MetaKeyTerminal, "true")
		if err := t.bus.Broadcast(ctx, env); err != nil {
			slog.Warn("Broadcast worker error failed", "worker", w.Name(), "error", err)
		}
		return
	}

	sawTerminal := false
	for evt := range events {
		env := evt.Env
		if evt.Terminal {
			env = env.WithMeta(message.MetaKeyTerminal, "true")
			sawTerminal = true
		}
		if err := t.bus.Broadcast(ctx, env); err != nil {
			slog.Warn("Broadcast worker event failed", "worker", w.Name(), "error", err)
			return
		}
	}
	if !sawTerminal && ctx.Err() == nil {
		text := "Error: worker ended without a response."
		if tctx.Err() != nil {
			text = "Error: worker turn was cancelled."
		}
		env := message.New(w.Name(), message.Text{Content: text}).
			WithMeta(message.MetaKeyTerminal, "true")
		if err := t.bus.Broadcast(ctx, env); err != nil {
			slog.Warn("Broadcast worker fallback failed", "worker", w.Name(), "error", err)
		}
	}
}

// registerTurn tracks an in-flight turn's cancel so Pause can reach it.
func (t *Team) registerTurn(cancel context.CancelFunc) uint64 {
	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	t.nextTurnID++
	t.turnCancels[t.nextTurnID] = cancel
	return t.nextTurnID
}

func (t *Team) unregisterTurn(id uint64) {
	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	delete(t.turnCancels, id)
}

func (t *Team) cancelTurns() {
	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	for _, cancel := range t.turnCancels {
		cancel()
	}
}

// emit pushes an observable event to the stream without ever blocking
// the run. A full stream drops the event.
func (t *Team) emit(env message.Envelope) {
	select {
	case t.stream <- env:
	default:
		slog.Debug("Stream full, dropping event", "source", env.Source, "kind", env.Kind())
	}
}

// Pause suspends the run, aborts every in-flight worker turn, and
// pauses every pausable worker.
func (t *Team) Pause() {
	t.orch.Pause()
	t.cancelTurns()
	for _, w := range t.registry.All() {
		if p, ok := w.(worker.Pauser); ok {
			p.Pause()
		}
	}
}

// Resume clears a pause.
func (t *Team) Resume() {
	for _, w := range t.registry.All() {
		if p, ok := w.(worker.Pauser); ok {
			p.Resume()
		}
	}
	t.orch.Resume()
}

// RequestStop asks the run to wind down to a final answer.
func (t *Team) RequestStop() {
	t.orch.RequestStop()
}

// SaveState serializes the orchestrator and every stateful worker,
// keyed by participant name.
func (t *Team) SaveState() ([]byte, error) {
	states := make(map[string]json.RawMessage)

	blob, err := t.orch.SaveState()
	if err != nil {
		return nil, err
	}
	states[orchestrator.Name] = blob

	for _, w := range t.registry.All() {
		s, ok := w.(worker.StateSaver)
		if !ok {
			continue
		}
		blob, err := s.SaveState()
		if err != nil {
			return nil, fmt.Errorf("save %s state: %w", w.Name(), err)
		}
		states[w.Name()] = blob
	}
	return json.Marshal(states)
}

// LoadState restores a snapshot produced by SaveState. Participants
// present in the snapshot but absent from the team are skipped.
func (t *Team) LoadState(blob []byte) error {
	var states map[string]json.RawMessage
	if err := json.Unmarshal(blob, &states); err != nil {
		return fmt.Errorf("decode team state: %w", err)
	}

	if s, ok := states[orchestrator.Name]; ok {
		if err := t.orch.LoadState(s); err != nil {
			return err
		}
	}
	for name, s := range states {
		if name == orchestrator.Name {
			continue
		}
		w, ok := t.registry.Get(name)
		if !ok {
			slog.Warn("Snapshot has state for unknown worker", "worker", name)
			continue
		}
		saver, ok := w.(worker.StateSaver)
		if !ok {
			continue
		}
		if err := saver.LoadState(s); err != nil {
			return fmt.Errorf("load %s state: %w", name, err)
		}
	}
	return nil
}

// Close shuts the bus down, waits for the pumps, and closes workers
// holding external resources. Workers close concurrently: one worker's
// slow or failing teardown cannot block the others.
func (t *Team) Close(ctx context.Context) error {
	t.bus.Close()
	t.wg.Wait()

	var (
		closeWG sync.WaitGroup
		errMu   sync.Mutex
		errs    []error
	)
	for _, w := range t.registry.All() {
		c, ok := w.(worker.Closer)
		if !ok {
			continue
		}
		closeWG.Add(1)
		go func(name string, c worker.Closer) {
			defer closeWG.Done()
			if err := c.Close(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
				errMu.Unlock()
			}
		}(w.Name(), c)
	}
	closeWG.Wait()
	return errors.Join(errs...)
}
