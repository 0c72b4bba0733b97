// Package plan holds the task plan and execution cursor.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is one unit of work assigned to a named worker.
// Steps are immutable; replanning replaces the whole plan.
type Step struct {
	Title     string `json:"title"`
	Details   string `json:"details"`
	AgentName string `json:"agent_name"`
}

// Plan is the ordered step sequence for a task. Plans are rebuilt on
// replan, never mutated in place.
type Plan struct {
	Task  string `json:"task"`
	Steps []Step `json:"steps"`
}

// Empty reports whether the plan has no steps.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Steps) == 0
}

// Render formats the plan for prompts and human review.
func (p *Plan) Render() string {
	if p == nil {
		return "(no plan)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", p.Task)
	for i, s := range p.Steps {
		fmt.Fprintf(&sb, "%d. %s [%s]\n   %s\n", i+1, s.Title, s.AgentName, s.Details)
	}
	return sb.String()
}

// Store holds the current plan and execution cursor.
type Store struct {
	plan   *Plan
	cursor int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the plan and resets the cursor.
func (s *Store) Set(p *Plan) {
	s.plan = p
	s.cursor = 0
}

// Replace installs a rebuilt plan keeping the given cursor position.
// Used by replanning, where the completed prefix is preserved verbatim.
func (s *Store) Replace(p *Plan, cursor int) {
	s.plan = p
	if cursor < 0 {
		cursor = 0
	}
	s.cursor = cursor
}

// Plan returns the current plan, possibly nil.
func (s *Store) Plan() *Plan {
	return s.plan
}

// Cursor returns the index of the current step.
func (s *Store) Cursor() int {
	return s.cursor
}

// Advance moves the cursor past the current step.
func (s *Store) Advance() {
	s.cursor++
}

// Exhausted reports whether the cursor is at or past plan end.
func (s *Store) Exhausted() bool {
	return s.plan.Empty() || s.cursor >= len(s.plan.Steps)
}

// Current returns the step under the cursor.
func (s *Store) Current() (Step, error) {
	if s.Exhausted() {
		return Step{}, fmt.Errorf("no current step: cursor %d of %d", s.cursor, s.len())
	}
	return s.plan.Steps[s.cursor], nil
}

// CompletedPrefix returns the steps completed so far, in order.
func (s *Store) CompletedPrefix() []Step {
	if s.plan.Empty() {
		return nil
	}
	n := s.cursor
	if n > len(s.plan.Steps) {
		n = len(s.plan.Steps)
	}
	out := make([]Step, n)
	copy(out, s.plan.Steps[:n])
	return out
}

// Reset clears the plan and cursor.
func (s *Store) Reset() {
	s.plan = nil
	s.cursor = 0
}

func (s *Store) len() int {
	if s.plan == nil {
		return 0
	}
	return len(s.plan.Steps)
}

type storeState struct {
	Plan   *Plan `json:"plan,omitempty"`
	Cursor int   `json:"cursor"`
}

// MarshalJSON serializes the plan and cursor.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(storeState{Plan: s.plan, Cursor: s.cursor})
}

// UnmarshalJSON restores the plan and cursor.
func (s *Store) UnmarshalJSON(data []byte) error {
	var st storeState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode plan store: %w", err)
	}
	s.plan = st.Plan
	s.cursor = st.Cursor
	return nil
}
