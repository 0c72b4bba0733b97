package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/message"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task with the worker team",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().Bool("autonomous", false, "Skip the cooperative plan review")
	runCmd.Flags().Bool("verbose", false, "Show internal events (tool calls, checkpoints)")
	runCmd.Flags().String("policy", "", "Approval policy override (always, never, auto-conservative, auto-permissive)")
	runCmd.Flags().String("model", "", "Model override")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if autonomous, _ := cmd.Flags().GetBool("autonomous"); autonomous {
		cfg.Orchestrator.Cooperative = false
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Model.Name = model
	}
	policy, _ := cmd.Flags().GetString("policy")
	verbose, _ := cmd.Flags().GetBool("verbose")

	rt, err := buildRuntime(cfg, "", policy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	rt.start(ctx)
	defer rt.close(context.Background())

	// First interrupt winds down to a final answer; second aborts.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Fprintln(cmd.ErrOrStderr(), "\nStopping after the current turn (interrupt again to abort)...")
		rt.team.RequestStop()
		<-sigs
		cancel()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", rt.runID)
	stream := rt.team.RunStream(ctx, task)
	for env := range stream {
		renderEvent(cmd, env, verbose)
	}
	return nil
}

// renderEvent prints one observable envelope. Internal events are
// hidden unless verbose.
func renderEvent(cmd *cobra.Command, env message.Envelope, verbose bool) {
	if !verbose && env.Meta(message.MetaKeyVisibility) == message.VisibilityInternal {
		return
	}
	out := cmd.OutOrStdout()

	header := color.New(color.FgGreen, color.Bold).Sprint(env.Source)
	switch env.Meta(message.MetaKeyType) {
	case message.TypePlanMessage:
		header = color.New(color.FgMagenta, color.Bold).Sprint("plan")
	case message.TypeFinalAnswer:
		header = color.New(color.FgCyan, color.Bold).Sprint("answer")
	}

	switch env.Kind() {
	case message.KindCheckpoint:
		fmt.Fprintf(out, "%s │ checkpoint saved\n", color.New(color.Faint).Sprint(env.Source))
	case message.KindStop:
		fmt.Fprintf(out, "%s │ run stopped: %s\n", header, env.TextContent())
	default:
		text := env.TextContent()
		if strings.TrimSpace(text) == "" {
			return
		}
		fmt.Fprintf(out, "%s │ %s\n", header, text)
	}
}
