package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/MagClaw/MagClaw/internal/approval"
)

// DenyPatterns contains regex patterns for commands that are refused
// outright, before the approval gate even sees them.
var DenyPatterns = []string{
	`\brm\s+(-[rf]+\s+)*[/~]`, // rm with root or home
	`\brm\s+-rf\b`,            // rm -rf anywhere
	`\bdd\b.*\bof=/dev/`,      // dd to device
	`\bmkfs\b`,                // filesystem format
	`>\s*/dev/`,               // redirect to device
	`\bshutdown\b`,
	`\breboot\b`,
	`\bhalt\b`,
	`\b:(){ :|:& };:\b`, // fork bomb
}

// ExecTool executes shell commands. Every invocation is gated: the
// baseline is always, so the human decides unless policy says never.
type ExecTool struct {
	Timeout     time.Duration
	WorkDir     string
	denyRegexes []*regexp.Regexp
}

// NewExecTool creates a new ExecTool.
func NewExecTool(timeout time.Duration, workDir string) *ExecTool {
	denyRegexes := make([]*regexp.Regexp, 0, len(DenyPatterns))
	for _, pattern := range DenyPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			denyRegexes = append(denyRegexes, re)
		}
	}
	return &ExecTool{
		Timeout:     timeout,
		WorkDir:     workDir,
		denyRegexes: denyRegexes,
	}
}

func (t *ExecTool) Name() string                { return "exec" }
func (t *ExecTool) Baseline() approval.Baseline { return approval.BaselineAlways }
func (t *ExecTool) Guess() approval.Guess       { return approval.GuessAlways }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	command := GetString(params, "command", "")
	workingDir := GetString(params, "working_dir", t.WorkDir)

	if command == "" {
		return "Error: command is required", nil
	}
	for _, re := range t.denyRegexes {
		if re.MatchString(command) {
			return fmt.Sprintf("Error: command blocked by deny list: %s", re.String()), nil
		}
	}

	timeout := t.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n"
		}
		output += "stderr: " + stderr.String()
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Sprintf("Error: command timed out after %s\n%s", timeout, output), nil
		}
		return fmt.Sprintf("Error: %v\n%s", err, strings.TrimSpace(output)), nil
	}
	if strings.TrimSpace(output) == "" {
		return "(no output)", nil
	}
	return output, nil
}
