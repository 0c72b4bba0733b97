// Package orchestrator implements the plan/execute state machine that
// drives a team of workers through a task.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MagClaw/MagClaw/internal/bus"
	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/message"
	"github.com/MagClaw/MagClaw/internal/plan"
	"github.com/MagClaw/MagClaw/internal/provider"
	"github.com/MagClaw/MagClaw/internal/trace"
	"github.com/MagClaw/MagClaw/internal/worker"
)

// Name is the orchestrator's bus topic.
const Name = "orchestrator"

// transcriptWindow caps how much history the ledger prompt sees.
const transcriptWindow = 20

// Options configures an Orchestrator. Oracle, Bus, and Workers are
// required; everything else degrades gracefully when absent.
type Options struct {
	Oracle    provider.Oracle
	Bus       *bus.Bus
	Workers   *worker.Registry
	Human     humanio.Channel
	Journal   *trace.Service
	Publisher trace.Publisher
	Emit      func(env message.Envelope)
	Config    config.OrchestratorConfig
	Model     string
	RunID     string
}

// Orchestrator owns the run loop: it plans, directs one worker per
// turn, judges progress, replans, and produces the final answer.
type Orchestrator struct {
	oracle    provider.Oracle
	bus       *bus.Bus
	workers   *worker.Registry
	human     humanio.Channel
	journal   *trace.Service
	publisher trace.Publisher
	emitFn    func(env message.Envelope)
	cfg       config.OrchestratorConfig
	model     string
	runID     string
	inbox     <-chan bus.Delivery

	mu         sync.Mutex
	state      *State
	paused     bool
	turnCancel context.CancelFunc
	deadline   time.Time

	stop atomic.Bool
}

// New creates an orchestrator and registers its bus topic.
func New(opts Options) (*Orchestrator, error) {
	if opts.Oracle == nil {
		return nil, fmt.Errorf("orchestrator requires an oracle")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("orchestrator requires a bus")
	}
	if opts.Workers == nil {
		return nil, fmt.Errorf("orchestrator requires a worker registry")
	}
	cfg := opts.Config
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 20
	}
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = 0
	}
	if cfg.MaxJSONRetries <= 0 {
		cfg.MaxJSONRetries = 3
	}

	inbox, err := opts.Bus.Register(Name)
	if err != nil {
		return nil, err
	}
	model := opts.Model
	if model == "" {
		model = opts.Oracle.DefaultModel()
	}
	return &Orchestrator{
		oracle:    opts.Oracle,
		bus:       opts.Bus,
		workers:   opts.Workers,
		human:     opts.Human,
		journal:   opts.Journal,
		publisher: opts.Publisher,
		emitFn:    opts.Emit,
		cfg:       cfg,
		model:     model,
		runID:     opts.RunID,
		inbox:     inbox,
		state:     newState(),
	}, nil
}

// Run executes a task to completion and returns the final answer.
// Pass an empty task to continue from restored state.
func (o *Orchestrator) Run(ctx context.Context, task string) (string, error) {
	if task != "" {
		o.mu.Lock()
		o.state.Task = task
		o.state.InPlanningMode = true
		o.mu.Unlock()
	}

	for {
		answer, err := o.runTask(ctx)
		if err != nil {
			return "", err
		}
		if !o.cfg.AllowFollowUp || o.human == nil || o.stop.Load() {
			return answer, nil
		}
		reply, err := o.human.Prompt(ctx, "Anything else? Reply with a follow-up task, or 'done' to finish.", humanio.FreeText)
		if err != nil || isFinished(reply) {
			return answer, nil
		}
		o.partialReset(reply)
	}
}

// runTask drives one task from planning to final answer.
func (o *Orchestrator) runTask(ctx context.Context) (string, error) {
	o.mu.Lock()
	planning := o.state.InPlanningMode
	if o.cfg.TimeoutSeconds > 0 {
		o.deadline = time.Now().Add(time.Duration(o.cfg.TimeoutSeconds) * time.Second)
	} else {
		o.deadline = time.Time{}
	}
	o.mu.Unlock()

	if planning {
		direct, err := o.planPhase(ctx)
		if err != nil {
			return "", err
		}
		if direct != "" {
			// The task needed no plan; the planner's response is the answer.
			return o.finish(ctx, direct, "no plan needed")
		}
	}

	for {
		final, reason, err := o.executeTurn(ctx)
		if err != nil {
			return "", err
		}
		if final {
			return o.finalAnswer(ctx, reason)
		}
	}
}

// planPhase solicits a plan, optionally reviews it with the human, and
// installs it. A non-empty return is a direct answer for trivial tasks.
func (o *Orchestrator) planPhase(ctx context.Context) (string, error) {
	o.mu.Lock()
	task := o.state.Task
	o.mu.Unlock()

	eligible := o.eligibleWorkers()
	desc := o.workers.Describe()
	base := []provider.Message{{Role: "user", Content: planPrompt(task, desc)}}

	var tp *TaskPlan
	for tp == nil {
		if o.stop.Load() || o.timedOut() {
			// The execution loop turns this into the final answer.
			return "", nil
		}
		tctx, cancel := o.turnContext(ctx)
		if o.isPaused() {
			_, _, err := o.pausedTurn(tctx, ctx)
			o.clearTurn(cancel)
			if err != nil {
				return "", err
			}
			continue
		}
		got, attempts, err := o.solicitPlan(tctx, base, eligible)
		o.clearTurn(cancel)
		if err != nil {
			if o.turnInterrupted(ctx) {
				continue
			}
			return "", err
		}
		slog.Debug("Plan solicited", "attempts", attempts, "needs_plan", got.NeedsPlan)
		tp = got
	}

	if !tp.NeedsPlan {
		return tp.Response, nil
	}

	if o.cfg.Cooperative && o.human != nil {
		revised, err := o.reviewPlan(ctx, base, tp, eligible)
		if err != nil {
			return "", err
		}
		tp = revised
	}

	p := &plan.Plan{Task: tp.Task, Steps: tp.Steps}
	o.mu.Lock()
	o.state.Plan.Set(p)
	o.state.InPlanningMode = false
	o.mu.Unlock()

	env := message.New(Name, message.Text{Content: p.Render()}).
		WithMeta(message.MetaKeyType, message.TypePlanMessage)
	o.record(env)
	if err := o.bus.Broadcast(ctx, env); err != nil {
		return "", fmt.Errorf("broadcast plan: %w", err)
	}
	o.audit(ctx, "plan_installed", tp.PlanSummary)
	return "", nil
}

// reviewPlan shows the plan to the human and revises it until accepted.
func (o *Orchestrator) reviewPlan(ctx context.Context, base []provider.Message, tp *TaskPlan, eligible map[string]bool) (*TaskPlan, error) {
	msgs := make([]provider.Message, len(base))
	copy(msgs, base)

	for {
		rendered := (&plan.Plan{Task: tp.Task, Steps: tp.Steps}).Render()
		reply, err := o.human.Prompt(ctx,
			fmt.Sprintf("Proposed plan:\n\n%s\nReply 'accept' to run it, or describe what to change.", rendered),
			humanio.FreeText)
		if err != nil {
			return nil, fmt.Errorf("plan review: %w", err)
		}
		if isAccepted(reply) {
			return tp, nil
		}

		msgs = append(msgs,
			provider.Message{Role: "assistant", Content: rendered},
			provider.Message{Role: "user", Content: fmt.Sprintf(planFeedbackPrompt, reply)},
		)
		tp, _, err = o.solicitPlan(ctx, msgs, eligible)
		if err != nil {
			return nil, err
		}
		if !tp.NeedsPlan {
			return nil, fmt.Errorf("plan revision dropped to needs_plan=false during review")
		}
	}
}

func (o *Orchestrator) solicitPlan(ctx context.Context, msgs []provider.Message, eligible map[string]bool) (*TaskPlan, int, error) {
	return solicitJSON(ctx, o.oracle, msgs, planSchema(), o.model, o.cfg.MaxJSONRetries,
		func(raw string) (*TaskPlan, error) { return parseTaskPlan(raw, eligible) })
}

// executeTurn runs one round of the state machine. It returns final
// when the run should move to the final answer, with the reason.
func (o *Orchestrator) executeTurn(ctx context.Context) (bool, string, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	if o.stop.Load() {
		return true, "stop requested", nil
	}
	if o.timedOut() {
		return true, "timeout", nil
	}

	tctx, cancel := o.turnContext(ctx)
	defer o.clearTurn(cancel)

	if o.isPaused() {
		return o.pausedTurn(tctx, ctx)
	}

	o.mu.Lock()
	o.state.NRounds++
	rounds := o.state.NRounds
	exhausted := o.state.Plan.Exhausted()
	o.mu.Unlock()

	if rounds > o.cfg.MaxRounds {
		return true, "round limit reached", nil
	}
	if exhausted {
		return true, "plan complete", nil
	}

	l, err := o.solicitLedger(tctx)
	if err != nil {
		if o.turnInterrupted(ctx) {
			return false, "", nil
		}
		return false, "", err
	}

	if l.NeedToReplan {
		return o.replan(tctx, ctx, l.ReplanReason)
	}

	if l.IsCurrentStepComplete {
		o.mu.Lock()
		o.state.Plan.Advance()
		exhausted = o.state.Plan.Exhausted()
		o.mu.Unlock()
		if exhausted {
			o.setProgress(l.ProgressSummary)
			return true, "plan complete", nil
		}
	}

	o.setProgress(l.ProgressSummary)

	if l.NextSpeaker == worker.NoOpName {
		// No bus round trip: the no-op outcome is synthesized in place.
		env := message.New(worker.NoOpName, message.Text{Content: "No action taken this turn."}).
			WithMeta(message.MetaKeyTerminal, "true")
		o.record(env)
	} else {
		if _, err := o.directTurn(tctx, l.NextSpeaker, l.InstructionOrQuestion); err != nil {
			if o.turnInterrupted(ctx) {
				return false, "", nil
			}
			return false, "", err
		}
	}

	o.checkpoint(ctx)
	return false, "", nil
}

// pausedTurn redirects the round to the human proxy instead of running
// the ledger. A 'resume' reply clears the pause.
func (o *Orchestrator) pausedTurn(tctx, ctx context.Context) (bool, string, error) {
	env, err := o.directTurn(tctx, worker.UserProxyName,
		"The run is paused. Reply 'resume' to continue, 'stop' to finish up, or give new guidance.")
	if err != nil {
		if o.turnInterrupted(ctx) {
			return false, "", nil
		}
		return false, "", err
	}
	switch strings.ToLower(strings.TrimSpace(env.TextContent())) {
	case "resume":
		o.Resume()
	case "stop":
		o.Resume()
		o.RequestStop()
	}
	return false, "", nil
}

// solicitLedger asks the oracle for the per-turn progress judgment.
func (o *Orchestrator) solicitLedger(ctx context.Context) (*Ledger, error) {
	o.mu.Lock()
	task := o.state.Task
	step, err := o.state.Plan.Current()
	idx := o.state.Plan.Cursor()
	transcript := o.transcriptLocked(transcriptWindow)
	var total int
	if err == nil {
		total = len(o.state.Plan.Plan().Steps)
	}
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}

	eligible := o.eligibleWorkers()
	msgs := []provider.Message{
		{Role: "user", Content: ledgerPrompt(task, idx, total, step, o.workers.Describe())},
		{Role: "user", Content: "Conversation so far:\n" + transcript},
	}
	l, attempts, err := solicitJSON(ctx, o.oracle, msgs, ledgerSchema(), o.model, o.cfg.MaxJSONRetries,
		func(raw string) (*Ledger, error) { return parseLedger(raw, eligible) })
	if err != nil {
		if errors.Is(err, ErrValidationExhausted) {
			o.audit(ctx, "ledger_exhausted", err.Error())
		}
		return nil, err
	}
	slog.Debug("Ledger solicited", "attempts", attempts, "next_speaker", l.NextSpeaker,
		"step_complete", l.IsCurrentStepComplete, "replan", l.NeedToReplan)
	return l, nil
}

// replan rebuilds the plan tail, keeping the completed prefix verbatim.
func (o *Orchestrator) replan(tctx, ctx context.Context, reason string) (bool, string, error) {
	o.mu.Lock()
	o.state.NReplans++
	replans := o.state.NReplans
	task := o.state.Task
	completed := o.state.Plan.CompletedPrefix()
	o.mu.Unlock()

	if replans > o.cfg.MaxReplans {
		return true, "replan limit reached", nil
	}

	eligible := o.eligibleWorkers()
	msgs := []provider.Message{{Role: "user", Content: replanPrompt(task, reason, completed, o.workers.Describe())}}
	tp, _, err := o.solicitPlan(tctx, msgs, eligible)
	if err != nil {
		if o.turnInterrupted(ctx) {
			return false, "", nil
		}
		return false, "", err
	}
	if !tp.NeedsPlan || len(tp.Steps) == 0 {
		return true, "replanner produced no remaining steps", nil
	}

	steps := make([]plan.Step, 0, len(completed)+len(tp.Steps))
	steps = append(steps, completed...)
	steps = append(steps, tp.Steps...)
	p := &plan.Plan{Task: task, Steps: steps}

	o.mu.Lock()
	o.state.Plan.Replace(p, len(completed))
	o.mu.Unlock()

	env := message.New(Name, message.Text{Content: "Replanned: " + reason + "\n\n" + p.Render()}).
		WithMeta(message.MetaKeyType, message.TypePlanMessage)
	o.record(env)
	if err := o.bus.Broadcast(tctx, env); err != nil {
		return false, "", fmt.Errorf("broadcast replan: %w", err)
	}
	o.audit(ctx, "replanned", reason)
	o.checkpoint(ctx)
	return false, "", nil
}

// directTurn broadcasts an instruction, grants the speaker the floor,
// and waits for that speaker's terminal response.
func (o *Orchestrator) directTurn(ctx context.Context, speaker, instruction string) (message.Envelope, error) {
	env := message.New(Name, message.Text{Content: instruction}).
		WithMeta(message.MetaKeyType, message.TypeStepExecution)
	o.record(env)
	if err := o.bus.Broadcast(ctx, env); err != nil {
		return message.Envelope{}, fmt.Errorf("broadcast instruction: %w", err)
	}
	if err := o.bus.RequestSpeak(ctx, speaker); err != nil {
		return message.Envelope{}, fmt.Errorf("request speak %q: %w", speaker, err)
	}
	return o.awaitTerminal(ctx, speaker)
}

// awaitTerminal drains the inbox until the named speaker's terminal
// response arrives. Every received envelope is recorded.
func (o *Orchestrator) awaitTerminal(ctx context.Context, speaker string) (message.Envelope, error) {
	for {
		select {
		case d, ok := <-o.inbox:
			if !ok {
				return message.Envelope{}, fmt.Errorf("bus closed while awaiting %q", speaker)
			}
			if d.Env == nil {
				continue
			}
			o.record(*d.Env)
			if d.Env.Source == speaker && d.Env.Meta(message.MetaKeyTerminal) == "true" {
				return *d.Env, nil
			}
		case <-ctx.Done():
			return message.Envelope{}, ctx.Err()
		}
	}
}

// finalAnswer summarizes the run into one user-facing answer.
func (o *Orchestrator) finalAnswer(ctx context.Context, reason string) (string, error) {
	o.mu.Lock()
	task := o.state.Task
	collected := o.state.InformationCollected
	transcript := o.transcriptLocked(transcriptWindow)
	o.mu.Unlock()

	answer := collected
	resp, err := o.oracle.Create(ctx, &provider.Request{
		Messages: []provider.Message{
			{Role: "user", Content: finalAnswerPrompt(task, collected)},
			{Role: "user", Content: "Recent conversation:\n" + transcript},
		},
		Model: o.model,
	})
	if err != nil {
		slog.Warn("Final answer synthesis failed, falling back to collected notes", "error", err)
		if answer == "" {
			answer = "The run ended (" + reason + ") before any result was collected."
		}
	} else {
		answer = resp.Content
	}
	return o.finish(ctx, answer, reason)
}

// finish emits the final answer, stops the workers, and journals.
func (o *Orchestrator) finish(ctx context.Context, answer, reason string) (string, error) {
	env := message.New(Name, message.Text{Content: answer}).
		WithMeta(message.MetaKeyType, message.TypeFinalAnswer)
	o.record(env)
	if err := o.bus.Broadcast(ctx, env); err != nil {
		slog.Warn("Broadcast final answer failed", "error", err)
	}
	stop := message.New(Name, message.Stop{Reason: reason})
	if err := o.bus.Broadcast(ctx, stop); err != nil {
		slog.Warn("Broadcast stop failed", "error", err)
	}
	o.audit(ctx, "final_answer", reason)
	o.checkpoint(ctx)
	return answer, nil
}

// Pause suspends the run. An in-flight turn is cancelled; the next
// round is redirected to the human proxy.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.paused = true
	cancel := o.turnCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume clears a pause.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()
}

// RequestStop asks the run to wind down to the final answer at the
// next turn boundary.
func (o *Orchestrator) RequestStop() {
	o.stop.Store(true)
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

// timedOut reports whether the run's wall-clock deadline has passed.
func (o *Orchestrator) timedOut() bool {
	o.mu.Lock()
	d := o.deadline
	o.mu.Unlock()
	return !d.IsZero() && time.Now().After(d)
}

// turnInterrupted reports whether a turn failure was caused by Pause
// or the run deadline cancelling the turn context rather than by the
// run context ending. An interrupted turn is swallowed; the next pass
// of the loop redirects it.
func (o *Orchestrator) turnInterrupted(ctx context.Context) bool {
	return ctx.Err() == nil && (o.isPaused() || o.timedOut())
}

// turnContext derives the per-turn context. Pause cancels it, and the
// run deadline bounds it so an in-flight call cannot outlive the run's
// wall clock.
func (o *Orchestrator) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	o.mu.Lock()
	d := o.deadline
	o.mu.Unlock()

	var tctx context.Context
	var cancel context.CancelFunc
	if !d.IsZero() {
		tctx, cancel = context.WithDeadline(ctx, d)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	o.mu.Lock()
	o.turnCancel = cancel
	o.mu.Unlock()
	return tctx, cancel
}

func (o *Orchestrator) clearTurn(cancel context.CancelFunc) {
	o.mu.Lock()
	o.turnCancel = nil
	o.mu.Unlock()
	cancel()
}

// partialReset prepares a follow-up task, keeping what the run learned.
func (o *Orchestrator) partialReset(task string) {
	o.mu.Lock()
	o.state.Task = task
	o.state.Plan.Reset()
	o.state.NRounds = 0
	o.state.NReplans = 0
	o.state.InPlanningMode = true
	o.mu.Unlock()
	o.stop.Store(false)
}

// eligibleWorkers is the set of names the oracle may select.
func (o *Orchestrator) eligibleWorkers() map[string]bool {
	out := make(map[string]bool)
	for _, name := range o.workers.Names() {
		if name == worker.NoOpName && !o.cfg.EnableNoOp {
			continue
		}
		out[name] = true
	}
	return out
}

// setProgress accumulates the turn's summary into the collected notes.
func (o *Orchestrator) setProgress(summary string) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return
	}
	o.mu.Lock()
	switch {
	case o.state.InformationCollected == "":
		o.state.InformationCollected = summary
	case !strings.HasSuffix(o.state.InformationCollected, summary):
		o.state.InformationCollected += "\n" + summary
	}
	o.mu.Unlock()
}

// record appends an envelope to history, streams it, and journals it.
func (o *Orchestrator) record(env message.Envelope) {
	o.mu.Lock()
	o.state.History = append(o.state.History, env)
	turn := o.state.NRounds
	o.mu.Unlock()

	if o.emitFn != nil {
		o.emitFn(env)
	}
	if o.journal != nil {
		err := o.journal.LogEvent(&trace.RunEvent{
			RunID:   o.runID,
			Turn:    turn,
			Source:  env.Source,
			Kind:    string(env.Kind()),
			TypeTag: env.Meta(message.MetaKeyType),
			Content: env.TextContent(),
		})
		if err != nil {
			slog.Warn("Journal write failed", "error", err)
		}
	}
}

// checkpoint snapshots state to the journal and the stream.
func (o *Orchestrator) checkpoint(ctx context.Context) {
	blob, err := o.SaveState()
	if err != nil {
		slog.Warn("Checkpoint encode failed", "error", err)
		return
	}
	o.mu.Lock()
	turn := o.state.NRounds
	o.mu.Unlock()

	if o.journal != nil {
		if err := o.journal.SaveCheckpoint(o.runID, turn, blob); err != nil {
			slog.Warn("Checkpoint write failed", "error", err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.PublishCheckpoint(ctx, o.runID, turn, blob); err != nil {
			slog.Warn("Checkpoint publish failed", "error", err)
		}
	}
	if o.emitFn != nil {
		env := message.New(Name, message.Checkpoint{Snapshot: blob}).
			WithMeta(message.MetaKeyVisibility, message.VisibilityInternal)
		o.emitFn(env)
	}
}

func (o *Orchestrator) audit(ctx context.Context, eventType, detail string) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishAudit(ctx, o.runID, eventType, detail); err != nil {
		slog.Warn("Audit publish failed", "event", eventType, "error", err)
	}
}

// transcriptLocked renders the most recent history as "source: text"
// lines. Caller holds o.mu.
func (o *Orchestrator) transcriptLocked(n int) string {
	hist := o.state.History
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	var sb strings.Builder
	for _, env := range hist {
		text := env.TextContent()
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "%s: %s\n", env.Source, text)
	}
	if sb.Len() == 0 {
		return "(nothing yet)\n"
	}
	return sb.String()
}

func isAccepted(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "", "accept", "accepted", "yes", "y", "ok", "looks good", "lgtm":
		return true
	}
	return false
}

func isFinished(reply string) bool {
	switch strings.ToLower(strings.TrimSpace(reply)) {
	case "", "done", "no", "n", "exit", "quit", "stop":
		return true
	}
	return false
}
