// Package tools provides the tool framework used by the computer worker.
package tools

import (
	"context"

	"github.com/MagClaw/MagClaw/internal/approval"
)

// Tool is the interface that all worker tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the model.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	// Returns result string and error. On error, return user-friendly message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Guarded is an optional interface for tools that declare a static
// approval baseline and a cheap reversibility guess for maybe cases.
type Guarded interface {
	Tool
	Baseline() approval.Baseline
	Guess() approval.Guess
}

// ToolBaseline returns the approval classification for a tool.
// Unclassified tools default to maybe with a cautious guess, so an
// ambiguous tool ends up at the deliberative path rather than running
// silently.
func ToolBaseline(t Tool) (approval.Baseline, approval.Guess) {
	if g, ok := t.(Guarded); ok {
		return g.Baseline(), g.Guess()
	}
	return approval.BaselineMaybe, approval.GuessAlways
}

// Registry manages tool registration and execution.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	if _, ok := r.tools[tool.Name()]; !ok {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns the registered tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// GetString extracts a string parameter with a default.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return defaultVal
}
