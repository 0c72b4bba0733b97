package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MagClaw/MagClaw/internal/approval"
	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/humanio"
	"github.com/MagClaw/MagClaw/internal/provider"
	"github.com/MagClaw/MagClaw/internal/team"
	"github.com/MagClaw/MagClaw/internal/tools"
	"github.com/MagClaw/MagClaw/internal/trace"
	"github.com/MagClaw/MagClaw/internal/worker"
)

// runtime bundles everything a run command needs, with teardown.
type runtime struct {
	cfg       *config.Config
	runID     string
	team      *team.Team
	journal   *trace.Service
	publisher trace.Publisher
	slack     *humanio.Slack
}

// buildRuntime assembles the team from config. Pass an existing runID
// to attach to a previous run's journal rows; empty mints a new one.
func buildRuntime(cfg *config.Config, runID string, policyOverride string) (*runtime, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	oracle, err := provider.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	journal, err := trace.NewService(cfg.Trace.DBPath)
	if err != nil {
		return nil, err
	}

	var publisher trace.Publisher
	if cfg.Trace.KafkaEnabled {
		publisher = trace.NewKafkaPublisher(cfg.Trace.KafkaBrokers, cfg.Trace.KafkaPrefix)
	}

	rt := &runtime{cfg: cfg, runID: runID, journal: journal, publisher: publisher}

	var human humanio.Channel
	switch cfg.Human.Backend {
	case "console", "":
		human = humanio.NewConsole()
	case "slack":
		sl := humanio.NewSlack(cfg.Human.SlackToken, cfg.Human.SlackAppTok, cfg.Human.SlackChannel)
		rt.slack = sl
		human = sl
	case "none":
		human = nil
	default:
		journal.Close()
		return nil, fmt.Errorf("unknown human backend %q", cfg.Human.Backend)
	}

	policyStr := cfg.Approval.Policy
	if policyOverride != "" {
		policyStr = policyOverride
	}
	policy, err := approval.ParsePolicy(policyStr)
	if err != nil {
		journal.Close()
		return nil, err
	}
	gate := &approval.Gate{
		Policy:  policy,
		Oracle:  oracle,
		Human:   human,
		Journal: journal,
		RunID:   runID,
		Model:   cfg.Model.Name,
		Timeout: time.Duration(cfg.Approval.TimeoutSeconds) * time.Second,
	}

	registry := tools.NewRegistry()
	registry.Register(tools.NewReadFileTool())
	registry.Register(tools.NewListDirTool())
	registry.Register(tools.NewWriteFileTool(func() string { return cfg.Paths.Workspace }))
	registry.Register(tools.NewExecTool(0, cfg.Paths.Workspace))

	workers := []worker.Worker{
		worker.NewComputer(worker.ComputerOptions{
			Oracle:   oracle,
			Registry: registry,
			Gate:     gate,
			Model:    cfg.Model.Name,
		}),
	}
	if human != nil {
		workers = append(workers, worker.NewUserProxy(human))
	}
	if cfg.Orchestrator.EnableNoOp {
		workers = append(workers, worker.NewNoOp())
	}

	tm, err := team.New(team.Options{
		Oracle:    oracle,
		Human:     human,
		Journal:   journal,
		Publisher: publisher,
		Config:    cfg.Orchestrator,
		Model:     cfg.Model.Name,
		RunID:     runID,
		Workers:   workers,
	})
	if err != nil {
		journal.Close()
		if publisher != nil {
			publisher.Close()
		}
		return nil, err
	}
	rt.team = tm
	return rt, nil
}

// start connects long-lived backends before the run.
func (rt *runtime) start(ctx context.Context) {
	if rt.slack != nil {
		rt.slack.Start(ctx)
	}
}

// close tears the runtime down best-effort.
func (rt *runtime) close(ctx context.Context) {
	if err := rt.team.Close(ctx); err != nil {
		fmt.Printf("warning: team close: %v\n", err)
	}
	if rt.publisher != nil {
		if err := rt.publisher.Close(); err != nil {
			fmt.Printf("warning: publisher close: %v\n", err)
		}
	}
	if err := rt.journal.Close(); err != nil {
		fmt.Printf("warning: journal close: %v\n", err)
	}
}
