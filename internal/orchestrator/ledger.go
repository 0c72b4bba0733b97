package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MagClaw/MagClaw/internal/plan"
	"github.com/MagClaw/MagClaw/internal/provider"
)

// ErrValidationExhausted is returned when the oracle failed to produce
// a valid JSON object within the configured retry budget. It is fatal:
// an unparsable plan or ledger cannot be safely acted on.
var ErrValidationExhausted = errors.New("oracle JSON validation retries exhausted")

// Ledger is the per-turn structured judgment from the oracle. It is
// validated before use and never persisted.
type Ledger struct {
	IsCurrentStepComplete bool
	NeedToReplan          bool
	ReplanReason          string
	InstructionOrQuestion string
	NextSpeaker           string
	ProgressSummary       string
}

type ledgerWire struct {
	IsCurrentStepComplete *bool   `json:"is_current_step_complete"`
	NeedToReplan          *bool   `json:"need_to_replan"`
	ReplanReason          *string `json:"replan_reason"`
	InstructionOrQuestion *string `json:"instruction_or_question"`
	NextSpeaker           *string `json:"next_speaker"`
	ProgressSummary       *string `json:"progress_summary"`
}

// parseLedger decodes and validates a ledger. Missing required keys and
// ineligible speakers are rejected, never defaulted.
func parseLedger(raw string, eligible map[string]bool) (*Ledger, error) {
	var w ledgerWire
	if err := decodeStrict(raw, &w); err != nil {
		return nil, err
	}
	if w.IsCurrentStepComplete == nil {
		return nil, fmt.Errorf("ledger missing required key %q", "is_current_step_complete")
	}
	if w.NeedToReplan == nil {
		return nil, fmt.Errorf("ledger missing required key %q", "need_to_replan")
	}
	if w.InstructionOrQuestion == nil {
		return nil, fmt.Errorf("ledger missing required key %q", "instruction_or_question")
	}
	if w.NextSpeaker == nil {
		return nil, fmt.Errorf("ledger missing required key %q", "next_speaker")
	}
	if w.ProgressSummary == nil {
		return nil, fmt.Errorf("ledger missing required key %q", "progress_summary")
	}

	l := &Ledger{
		IsCurrentStepComplete: *w.IsCurrentStepComplete,
		NeedToReplan:          *w.NeedToReplan,
		InstructionOrQuestion: *w.InstructionOrQuestion,
		NextSpeaker:           strings.TrimSpace(*w.NextSpeaker),
		ProgressSummary:       *w.ProgressSummary,
	}
	if w.ReplanReason != nil {
		l.ReplanReason = *w.ReplanReason
	}
	if l.NeedToReplan && l.ReplanReason == "" {
		return nil, fmt.Errorf("ledger requests replan without a replan_reason")
	}
	if !eligible[l.NextSpeaker] {
		return nil, fmt.Errorf("ledger names ineligible next speaker %q", l.NextSpeaker)
	}
	return l, nil
}

// TaskPlan is the oracle's planning response.
type TaskPlan struct {
	Task        string
	NeedsPlan   bool
	Response    string
	PlanSummary string
	Steps       []plan.Step
}

type taskPlanWire struct {
	Task        *string `json:"task"`
	NeedsPlan   *bool   `json:"needs_plan"`
	Response    *string `json:"response"`
	PlanSummary *string `json:"plan_summary"`
	Steps       []struct {
		Title     *string `json:"title"`
		Details   *string `json:"details"`
		AgentName *string `json:"agent_name"`
	} `json:"steps"`
}

// parseTaskPlan decodes and validates a planning response.
func parseTaskPlan(raw string, eligible map[string]bool) (*TaskPlan, error) {
	var w taskPlanWire
	if err := decodeStrict(raw, &w); err != nil {
		return nil, err
	}
	if w.Task == nil {
		return nil, fmt.Errorf("plan missing required key %q", "task")
	}
	if w.NeedsPlan == nil {
		return nil, fmt.Errorf("plan missing required key %q", "needs_plan")
	}

	tp := &TaskPlan{Task: *w.Task, NeedsPlan: *w.NeedsPlan}
	if w.Response != nil {
		tp.Response = *w.Response
	}
	if w.PlanSummary != nil {
		tp.PlanSummary = *w.PlanSummary
	}
	if !tp.NeedsPlan {
		if strings.TrimSpace(tp.Response) == "" {
			return nil, fmt.Errorf("plan sets needs_plan=false without a response")
		}
		return tp, nil
	}
	if len(w.Steps) == 0 {
		return nil, fmt.Errorf("plan sets needs_plan=true with no steps")
	}
	for i, s := range w.Steps {
		if s.Title == nil || s.Details == nil || s.AgentName == nil {
			return nil, fmt.Errorf("plan step %d missing title, details, or agent_name", i+1)
		}
		name := strings.TrimSpace(*s.AgentName)
		if !eligible[name] {
			return nil, fmt.Errorf("plan step %d assigned to ineligible worker %q", i+1, name)
		}
		tp.Steps = append(tp.Steps, plan.Step{Title: *s.Title, Details: *s.Details, AgentName: name})
	}
	return tp, nil
}

// decodeStrict unmarshals exactly one JSON object, rejecting unknown
// fields and trailing content. The model sometimes wraps the object in
// a code fence; that is stripped first.
func decodeStrict(raw string, v any) error {
	raw = stripFence(raw)
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("trailing content after JSON object")
	}
	return nil
}

func stripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

// solicitJSON asks the oracle for a schema-constrained JSON object and
// validates it, re-prompting with the validation failure as context up
// to maxRetries times. Exhaustion returns ErrValidationExhausted.
func solicitJSON[T any](
	ctx context.Context,
	oracle provider.Oracle,
	base []provider.Message,
	schema *provider.JSONSchema,
	model string,
	maxRetries int,
	parse func(raw string) (T, error),
) (T, int, error) {
	var zero T
	if maxRetries < 1 {
		maxRetries = 1
	}

	msgs := make([]provider.Message, len(base))
	copy(msgs, base)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := oracle.Create(ctx, &provider.Request{
			Messages: msgs,
			Schema:   schema,
			Model:    model,
		})
		if err != nil {
			// Cancellation is control flow, not a validation failure.
			if ctx.Err() != nil {
				return zero, attempt, ctx.Err()
			}
			lastErr = err
			msgs = append(msgs, provider.Message{
				Role:    "user",
				Content: fmt.Sprintf("The previous request failed (%v). Respond again with a single valid JSON object.", err),
			})
			continue
		}

		out, err := parse(resp.Content)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		msgs = append(msgs,
			provider.Message{Role: "assistant", Content: resp.Content},
			provider.Message{Role: "user", Content: fmt.Sprintf("Your previous response was invalid: %v. Respond again with a single valid JSON object.", err)},
		)
	}
	return zero, maxRetries, fmt.Errorf("%w after %d attempts: %v", ErrValidationExhausted, maxRetries, lastErr)
}

// ledgerSchema constrains the oracle's per-turn judgment.
func ledgerSchema() *provider.JSONSchema {
	return &provider.JSONSchema{
		Name: "progress_ledger",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"is_current_step_complete": map[string]any{"type": "boolean"},
				"need_to_replan":           map[string]any{"type": "boolean"},
				"replan_reason":            map[string]any{"type": "string"},
				"instruction_or_question":  map[string]any{"type": "string"},
				"next_speaker":             map[string]any{"type": "string"},
				"progress_summary":         map[string]any{"type": "string"},
			},
			"required": []string{
				"is_current_step_complete", "need_to_replan",
				"instruction_or_question", "next_speaker", "progress_summary",
			},
			"additionalProperties": false,
		},
		Strict: true,
	}
}

// planSchema constrains the oracle's planning response.
func planSchema() *provider.JSONSchema {
	return &provider.JSONSchema{
		Name: "task_plan",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":         map[string]any{"type": "string"},
				"needs_plan":   map[string]any{"type": "boolean"},
				"response":     map[string]any{"type": "string"},
				"plan_summary": map[string]any{"type": "string"},
				"steps": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"title":      map[string]any{"type": "string"},
							"details":    map[string]any{"type": "string"},
							"agent_name": map[string]any{"type": "string"},
						},
						"required":             []string{"title", "details", "agent_name"},
						"additionalProperties": false,
					},
				},
			},
			"required":             []string{"task", "needs_plan", "response", "plan_summary", "steps"},
			"additionalProperties": false,
		},
		Strict: true,
	}
}
