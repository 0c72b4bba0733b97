// Package message defines the typed envelope exchanged between the
// orchestrator and workers on the bus.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the closed set of message bodies.
type Kind string

const (
	KindText              Kind = "text"
	KindMultiModal        Kind = "multi_modal"
	KindStop              Kind = "stop"
	KindToolCallRequest   Kind = "tool_call_request"
	KindToolCallExecution Kind = "tool_call_execution"
	KindCheckpoint        Kind = "checkpoint"
)

// Well-known metadata keys and semantic type tags.
const (
	MetaKeyType       = "type"
	MetaKeyVisibility = "visibility"
	MetaKeyTerminal   = "terminal"

	TypePlanMessage   = "plan_message"
	TypeStepExecution = "step_execution"
	TypeFinalAnswer   = "final_answer"

	VisibilityInternal = "internal"
)

// Body is one variant of the message union.
type Body interface {
	Kind() Kind
}

// Text is a plain text message.
type Text struct {
	Content string `json:"content"`
}

func (Text) Kind() Kind { return KindText }

// MultiModal is text plus image references.
type MultiModal struct {
	Content   string   `json:"content"`
	ImageRefs []string `json:"image_refs,omitempty"`
}

func (MultiModal) Kind() Kind { return KindMultiModal }

// Stop signals termination of a run.
type Stop struct {
	Reason string `json:"reason,omitempty"`
}

func (Stop) Kind() Kind { return KindStop }

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallRequest carries tool calls a worker intends to execute.
type ToolCallRequest struct {
	Calls []ToolCall `json:"calls"`
}

func (ToolCallRequest) Kind() Kind { return KindToolCallRequest }

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolCallExecution carries the results of executed tool calls.
type ToolCallExecution struct {
	Results []ToolResult `json:"results"`
}

func (ToolCallExecution) Kind() Kind { return KindToolCallExecution }

// Checkpoint carries an opaque full-state snapshot for incremental
// persistence. Consumers may ignore it.
type Checkpoint struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

func (Checkpoint) Kind() Kind { return KindCheckpoint }

// Envelope wraps a body with identity and routing metadata.
// Envelopes are immutable once published; WithMeta returns a copy.
type Envelope struct {
	ID        string
	Source    string
	Metadata  map[string]string
	CreatedAt time.Time
	Body      Body
}

// New creates an envelope for the given source and body.
func New(source string, body Body) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Body:      body,
	}
}

// WithMeta returns a copy of the envelope with one metadata entry added.
func (e Envelope) WithMeta(key, value string) Envelope {
	meta := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}

// Meta returns the metadata value for key, or "".
func (e Envelope) Meta(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// Kind returns the body discriminator.
func (e Envelope) Kind() Kind {
	if e.Body == nil {
		return ""
	}
	return e.Body.Kind()
}

// TextContent renders the body as plain text for history and prompts.
func (e Envelope) TextContent() string {
	switch b := e.Body.(type) {
	case Text:
		return b.Content
	case MultiModal:
		return b.Content
	case Stop:
		return b.Reason
	case ToolCallRequest:
		parts := make([]string, 0, len(b.Calls))
		for _, c := range b.Calls {
			args, _ := json.Marshal(c.Arguments)
			parts = append(parts, fmt.Sprintf("%s(%s)", c.Name, args))
		}
		out, _ := json.Marshal(parts)
		return string(out)
	case ToolCallExecution:
		var sb []byte
		for i, r := range b.Results {
			if i > 0 {
				sb = append(sb, '\n')
			}
			sb = append(sb, r.Content...)
		}
		return string(sb)
	case Checkpoint:
		return ""
	case nil:
		return ""
	default:
		// Closed union; new variants must be added here.
		return ""
	}
}

// wire is the persisted JSON form of an envelope.
type wire struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Kind      Kind              `json:"kind"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Payload   json.RawMessage   `json:"payload"`
}

// MarshalJSON encodes the envelope with an explicit kind tag.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Body == nil {
		return nil, fmt.Errorf("envelope %s has no body", e.ID)
	}
	payload, err := json.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(wire{
		ID:        e.ID,
		Source:    e.Source,
		Kind:      e.Kind(),
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes an envelope, rejecting unknown kinds.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	body, err := decodeBody(w.Kind, w.Payload)
	if err != nil {
		return err
	}
	e.ID = w.ID
	e.Source = w.Source
	e.Metadata = w.Metadata
	e.CreatedAt = w.CreatedAt
	e.Body = body
	return nil
}

func decodeBody(kind Kind, payload json.RawMessage) (Body, error) {
	var body Body
	var err error
	switch kind {
	case KindText:
		var b Text
		err = strictUnmarshal(payload, &b)
		body = b
	case KindMultiModal:
		var b MultiModal
		err = strictUnmarshal(payload, &b)
		body = b
	case KindStop:
		var b Stop
		err = strictUnmarshal(payload, &b)
		body = b
	case KindToolCallRequest:
		var b ToolCallRequest
		err = strictUnmarshal(payload, &b)
		body = b
	case KindToolCallExecution:
		var b ToolCallExecution
		err = strictUnmarshal(payload, &b)
		body = b
	case KindCheckpoint:
		var b Checkpoint
		err = strictUnmarshal(payload, &b)
		body = b
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func strictUnmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
