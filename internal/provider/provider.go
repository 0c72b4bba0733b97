// Package provider implements model oracle interfaces and clients.
package provider

import (
	"context"
)

// Oracle is the interface for LLM API clients.
type Oracle interface {
	// Create sends a completion request and returns the response.
	Create(ctx context.Context, req *Request) (*Response, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// Request contains the parameters for a completion request.
type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Schema      *JSONSchema
	Model       string
	MaxTokens   int
	Temperature float64
}

// JSONSchema constrains the response to a single JSON object.
type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// Response contains the response from a completion request.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition defines a tool that can be called by the model.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a function that can be called.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
