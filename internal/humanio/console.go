package humanio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Console prompts on the terminal and reads one line from stdin.
type Console struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewConsole creates a console channel on stdin/stdout.
func NewConsole() *Console {
	return &Console{In: os.Stdin, Out: os.Stdout}
}

// Prompt prints the text and blocks for a line of input. The read runs
// in a goroutine so cancellation unblocks the caller; a late line is
// discarded.
func (c *Console) Prompt(ctx context.Context, text string, kind Kind) (string, error) {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}

	header := color.New(color.FgCyan, color.Bold).Sprint("magclaw")
	if kind == Approval {
		header = color.New(color.FgYellow, color.Bold).Sprint("approval")
	}
	fmt.Fprintf(c.Out, "%s │ %s\n> ", header, text)

	type lineResult struct {
		line string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := c.reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil && res.line == "" {
			return "", fmt.Errorf("read input: %w", res.err)
		}
		return strings.TrimSpace(res.line), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
