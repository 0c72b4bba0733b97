package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MagClaw/MagClaw/internal/config"
	"github.com/MagClaw/MagClaw/internal/trace"
)

var (
	traceCmd = &cobra.Command{
		Use:   "trace",
		Short: "Inspect the run journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	traceEventsCmd = &cobra.Command{
		Use:   "events",
		Short: "List journaled events for a run",
		RunE:  runTraceEvents,
	}

	traceApprovalsCmd = &cobra.Command{
		Use:   "approvals",
		Short: "List approval decisions for a run",
		RunE:  runTraceApprovals,
	}
)

func init() {
	traceEventsCmd.Flags().String("run", "", "Run ID")
	traceEventsCmd.Flags().Int("limit", 100, "Maximum events to show")
	traceEventsCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	traceApprovalsCmd.Flags().String("run", "", "Run ID")
	traceApprovalsCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	traceCmd.AddCommand(traceEventsCmd)
	traceCmd.AddCommand(traceApprovalsCmd)
	rootCmd.AddCommand(traceCmd)
}

func openJournal() (*trace.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return trace.NewService(cfg.Trace.DBPath)
}

func runTraceEvents(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("--run is required")
	}

	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	events, err := journal.ListEvents(runID, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), events)
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
		return nil
	}
	for _, e := range events {
		tag := e.TypeTag
		if tag == "" {
			tag = e.Kind
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] turn %d %s (%s): %s\n",
			e.Timestamp.Format("15:04:05"), e.Turn, e.Source, tag, e.Content)
	}
	return nil
}

func runTraceApprovals(cmd *cobra.Command, args []string) error {
	runID, _ := cmd.Flags().GetString("run")
	asJSON, _ := cmd.Flags().GetBool("json")
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("--run is required")
	}

	journal, err := openJournal()
	if err != nil {
		return err
	}
	defer journal.Close()

	approvals, err := journal.ListApprovals(runID)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), approvals)
	}
	if len(approvals) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No approvals recorded.")
		return nil
	}
	for _, a := range approvals {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %s (baseline %s): %s\n",
			a.CreatedAt.Format("15:04:05"), a.Action, a.Status, a.Baseline, a.Description)
	}
	return nil
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
