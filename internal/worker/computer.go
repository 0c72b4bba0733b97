package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MagClaw/MagClaw/internal/approval"
	"github.com/MagClaw/MagClaw/internal/message"
	"github.com/MagClaw/MagClaw/internal/provider"
	"github.com/MagClaw/MagClaw/internal/tools"
)

// ComputerName is the registry name of the tool-running worker.
const ComputerName = "computer"

const computerSystemPrompt = "You are a careful computer operator. " +
	"Use the available tools to carry out the instruction you were given. " +
	"When you are done, reply with a plain-text summary of what you did and what you found."

// Computer executes oracle-chosen tool calls against the local machine.
// Every invocation goes through the approval gate.
type Computer struct {
	oracle        provider.Oracle
	registry      *tools.Registry
	gate          *approval.Gate
	model         string
	maxIterations int

	mu      sync.Mutex
	history []provider.Message
}

// ComputerOptions configures the computer worker.
type ComputerOptions struct {
	Oracle        provider.Oracle
	Registry      *tools.Registry
	Gate          *approval.Gate
	Model         string
	MaxIterations int
}

// NewComputer creates the tool-running worker.
func NewComputer(opts ComputerOptions) *Computer {
	maxIter := opts.MaxIterations
	if maxIter == 0 {
		maxIter = 10
	}
	return &Computer{
		oracle:        opts.Oracle,
		registry:      opts.Registry,
		gate:          opts.Gate,
		model:         opts.Model,
		maxIterations: maxIter,
	}
}

func (c *Computer) Name() string { return ComputerName }

func (c *Computer) Description() string {
	return "Operates the local computer: reads and writes files, lists directories, and runs shell commands. Consequential actions require human approval."
}

func (c *Computer) Run(ctx context.Context, msgs []message.Envelope) (<-chan Event, error) {
	ch := make(chan Event, 4)
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Computer turn panicked", "panic", r)
				select {
				case ch <- Event{Env: message.New(ComputerName, message.Text{Content: fmt.Sprintf("Error: internal failure: %v", r)}), Terminal: true}:
				case <-ctx.Done():
				}
			}
		}()
		final := c.runTurn(ctx, msgs, ch)
		select {
		case ch <- Event{Env: message.New(ComputerName, message.Text{Content: final}), Terminal: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// runTurn drives the oracle/tool loop and returns the terminal text.
func (c *Computer) runTurn(ctx context.Context, msgs []message.Envelope, ch chan<- Event) string {
	c.mu.Lock()
	if len(c.history) == 0 {
		c.history = append(c.history, provider.Message{Role: "system", Content: computerSystemPrompt})
	}
	for _, m := range msgs {
		if text := m.TextContent(); text != "" {
			c.history = append(c.history, provider.Message{Role: "user", Content: text})
		}
	}
	conv := make([]provider.Message, len(c.history))
	copy(conv, c.history)
	c.mu.Unlock()

	defs := c.toolDefinitions()

	for i := 0; i < c.maxIterations; i++ {
		resp, err := c.oracle.Create(ctx, &provider.Request{
			Messages: conv,
			Tools:    defs,
			Model:    c.model,
		})
		if err != nil {
			return fmt.Sprintf("Error: oracle call failed: %v", err)
		}

		if len(resp.ToolCalls) == 0 {
			c.appendHistory(provider.Message{Role: "assistant", Content: resp.Content})
			return resp.Content
		}

		calls := make([]message.ToolCall, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, message.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		emit(ctx, ch, Event{Env: message.New(ComputerName, message.ToolCallRequest{Calls: calls}).
			WithMeta(message.MetaKeyVisibility, message.VisibilityInternal)})

		conv = append(conv, provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		results := make([]message.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			content, isErr := c.executeCall(ctx, tc, conv)
			results = append(results, message.ToolResult{
				CallID:  tc.ID,
				Name:    tc.Name,
				Content: content,
				IsError: isErr,
			})
			conv = append(conv, provider.Message{Role: "tool", Content: content, ToolCallID: tc.ID})
		}
		emit(ctx, ch, Event{Env: message.New(ComputerName, message.ToolCallExecution{Results: results}).
			WithMeta(message.MetaKeyVisibility, message.VisibilityInternal)})

		if ctx.Err() != nil {
			return "Cancelled."
		}
	}

	return "Stopped: tool iteration limit reached without a final answer."
}

// executeCall runs one tool call through the approval gate.
func (c *Computer) executeCall(ctx context.Context, tc provider.ToolCall, conv []provider.Message) (string, bool) {
	tool, ok := c.registry.Get(tc.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", tc.Name), true
	}

	baseline, guess := tools.ToolBaseline(tool)
	act := approval.Action{
		Name:     tc.Name,
		Baseline: baseline,
		Guess:    guess,
		Describe: func(ctx context.Context) (string, error) {
			args, _ := json.Marshal(tc.Arguments)
			preview := string(args)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			return fmt.Sprintf("%s with arguments %s", tc.Name, preview), nil
		},
		Invoke: func(ctx context.Context) (string, error) {
			return tool.Execute(ctx, tc.Arguments)
		},
	}

	result, err := approval.InvokeWithApproval(ctx, c.gate, act, conv)
	if err != nil {
		if errors.Is(err, approval.ErrDenied) {
			return fmt.Sprintf("The user denied running %q. Pick another approach or report back.", tc.Name), false
		}
		slog.Warn("Tool call failed", "tool", tc.Name, "error", err)
		return fmt.Sprintf("Error: %v", err), true
	}
	return result, false
}

func (c *Computer) toolDefinitions() []provider.ToolDefinition {
	all := c.registry.All()
	defs := make([]provider.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, provider.ToolDefinition{
			Type: "function",
			Function: provider.FunctionDef{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func (c *Computer) appendHistory(msg provider.Message) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
}

func (c *Computer) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
	return nil
}

// SaveState serializes the worker's conversation scratch.
func (c *Computer) SaveState() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.history)
}

// LoadState restores the worker's conversation scratch.
func (c *Computer) LoadState(blob []byte) error {
	var history []provider.Message
	if err := json.Unmarshal(blob, &history); err != nil {
		return fmt.Errorf("decode computer state: %w", err)
	}
	c.mu.Lock()
	c.history = history
	c.mu.Unlock()
	return nil
}

func emit(ctx context.Context, ch chan<- Event, evt Event) {
	select {
	case ch <- evt:
	case <-ctx.Done():
	}
}
