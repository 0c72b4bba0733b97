// Package main is the entry point for the magclaw CLI.
package main

import (
	"os"

	"github.com/MagClaw/MagClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
