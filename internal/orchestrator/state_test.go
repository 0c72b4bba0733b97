package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/MagClaw/MagClaw/internal/bus"
	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/message"
	"github.com/MagClaw/MagClaw/internal/plan"
	"github.com/MagClaw/MagClaw/internal/worker"
)

type stubWorker struct{ name string }

func (s *stubWorker) Name() string        { return s.name }
func (s *stubWorker) Description() string { return "stub" }
func (s *stubWorker) Run(ctx context.Context, msgs []message.Envelope) (<-chan worker.Event, error) {
	ch := make(chan worker.Event, 1)
	ch <- worker.Event{Env: message.New(s.name, message.Text{Content: "ok"}), Terminal: true}
	close(ch)
	return ch, nil
}
func (s *stubWorker) Reset(ctx context.Context) error { return nil }

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	registry := worker.NewRegistry()
	if err := registry.Register(&stubWorker{name: "computer"}); err != nil {
		t.Fatal(err)
	}
	o, err := New(Options{
		Oracle:  &countingOracle{},
		Bus:     bus.New(),
		Workers: registry,
		Config:  config.DefaultConfig().Orchestrator,
		RunID:   "test-run",
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	o1 := newTestOrchestrator(t)
	o1.state.Task = "count the files"
	o1.state.Plan.Set(&plan.Plan{
		Task: "count the files",
		Steps: []plan.Step{
			{Title: "list", Details: "list them", AgentName: "computer"},
			{Title: "count", Details: "count them", AgentName: "computer"},
		},
	})
	o1.state.Plan.Advance()
	o1.state.NRounds = 4
	o1.state.NReplans = 1
	o1.state.InformationCollected = "12 files so far"
	o1.state.InPlanningMode = false
	o1.state.History = append(o1.state.History,
		message.New(Name, message.Text{Content: "list the files"}))

	blob, err := o1.SaveState()
	if err != nil {
		t.Fatal(err)
	}

	o2 := newTestOrchestrator(t)
	if err := o2.LoadState(blob); err != nil {
		t.Fatal(err)
	}

	if o2.state.Task != "count the files" {
		t.Errorf("task = %q", o2.state.Task)
	}
	if o2.state.Plan.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", o2.state.Plan.Cursor())
	}
	step, err := o2.state.Plan.Current()
	if err != nil {
		t.Fatal(err)
	}
	if step.Title != "count" || step.AgentName != "computer" {
		t.Errorf("next step = %+v", step)
	}
	if o2.state.NRounds != 4 || o2.state.NReplans != 1 {
		t.Errorf("counters = %d/%d", o2.state.NRounds, o2.state.NReplans)
	}
	if o2.state.InformationCollected != "12 files so far" {
		t.Errorf("collected = %q", o2.state.InformationCollected)
	}
	if len(o2.state.History) != 1 || o2.state.History[0].TextContent() != "list the files" {
		t.Errorf("history = %+v", o2.state.History)
	}
}

func TestSaveStateExcludesPause(t *testing.T) {
	o1 := newTestOrchestrator(t)
	o1.Pause()
	blob, err := o1.SaveState()
	if err != nil {
		t.Fatal(err)
	}

	o2 := newTestOrchestrator(t)
	if err := o2.LoadState(blob); err != nil {
		t.Fatal(err)
	}
	if o2.isPaused() {
		t.Error("restored run must start unpaused")
	}
}

func TestPauseCancelsTurn(t *testing.T) {
	o := newTestOrchestrator(t)
	tctx, cancel := o.turnContext(context.Background())
	defer o.clearTurn(cancel)

	o.Pause()
	select {
	case <-tctx.Done():
	default:
		t.Error("pause did not cancel the in-flight turn context")
	}
	if !o.turnInterrupted(context.Background()) {
		t.Error("turnInterrupted should report true after Pause")
	}
}

func TestRunDeadlineEndsTurns(t *testing.T) {
	o := newTestOrchestrator(t)
	o.mu.Lock()
	o.deadline = time.Now().Add(-time.Second)
	o.mu.Unlock()

	final, reason, err := o.executeTurn(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !final || reason != "timeout" {
		t.Errorf("final = %v, reason = %q", final, reason)
	}
	if !o.turnInterrupted(context.Background()) {
		t.Error("turnInterrupted should report true past the deadline")
	}
}

func TestSetProgressAccumulates(t *testing.T) {
	o := newTestOrchestrator(t)
	o.setProgress("found the repo")
	o.setProgress("  ")
	o.setProgress("counted 12 files")
	o.setProgress("counted 12 files")

	o.mu.Lock()
	got := o.state.InformationCollected
	o.mu.Unlock()
	if got != "found the repo\ncounted 12 files" {
		t.Errorf("collected = %q", got)
	}
}

func TestEligibleWorkersHonorsNoOpToggle(t *testing.T) {
	registry := worker.NewRegistry()
	registry.Register(&stubWorker{name: "computer"})
	registry.Register(&stubWorker{name: worker.NoOpName})

	cfg := config.DefaultConfig().Orchestrator
	cfg.EnableNoOp = false
	o, err := New(Options{
		Oracle:  &countingOracle{},
		Bus:     bus.New(),
		Workers: registry,
		Config:  cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	eligible := o.eligibleWorkers()
	if eligible[worker.NoOpName] {
		t.Error("no_action eligible despite being disabled")
	}
	if !eligible["computer"] {
		t.Error("computer should be eligible")
	}
}
