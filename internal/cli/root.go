// Package cli implements the magclaw command tree.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/MagClaw/MagClaw/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  __  __             ____ _\n" +
		" |  \\/  | __ _  __ _/ ___| | __ ___      __\n" +
		" | |\\/| |/ _` |/ _` | |   | |/ _` \\ \\ /\\ / /\n" +
		" | |  | | (_| | (_| | |___| | (_| |\\ V  V /\n" +
		" |_|  |_|\\__,_|\\__, |\\____|_|\\__,_| \\_/\\_/\n" +
		"               |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "magclaw",
	Short: "MagClaw - multi-worker task orchestration",
	Long:  color.CyanString(logo) + "\nA plan-and-execute engine that drives a team of workers through a task.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
