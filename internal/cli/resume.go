package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MagClaw/MagClaw/internal/config"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a run from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().Bool("verbose", false, "Show internal events (tool calls, checkpoints)")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg, runID, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	rt.start(ctx)
	defer rt.close(context.Background())

	rec, err := rt.journal.LatestCheckpoint(runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no checkpoint found for run %s", runID)
		}
		return err
	}
	if err := rt.team.LoadState(rec.State); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resuming run %s from turn %d\n", runID, rec.Turn)

	stream := rt.team.RunStream(ctx, "")
	for env := range stream {
		renderEvent(cmd, env, verbose)
	}
	return nil
}
