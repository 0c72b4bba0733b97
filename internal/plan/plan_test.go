package plan

import (
	"encoding/json"
	"testing"
)

func threeSteps() *Plan {
	return &Plan{
		Task: "demo",
		Steps: []Step{
			{Title: "one", Details: "d1", AgentName: "computer"},
			{Title: "two", Details: "d2", AgentName: "computer"},
			{Title: "three", Details: "d3", AgentName: "user_proxy"},
		},
	}
}

func TestCursorAdvance(t *testing.T) {
	s := NewStore()
	s.Set(threeSteps())

	for i := 0; i < 3; i++ {
		if s.Exhausted() {
			t.Fatalf("exhausted at cursor %d", s.Cursor())
		}
		step, err := s.Current()
		if err != nil {
			t.Fatal(err)
		}
		if step != threeSteps().Steps[i] {
			t.Errorf("step %d = %+v", i, step)
		}
		s.Advance()
	}
	if !s.Exhausted() {
		t.Error("expected exhausted after last step")
	}
	if _, err := s.Current(); err == nil {
		t.Error("expected error for Current past end")
	}
}

func TestReplacePreservesCompletedPrefix(t *testing.T) {
	s := NewStore()
	s.Set(threeSteps())
	s.Advance() // step one done

	completed := s.CompletedPrefix()
	if len(completed) != 1 || completed[0].Title != "one" {
		t.Fatalf("completed = %+v", completed)
	}

	tail := []Step{
		{Title: "new-two", Details: "nd2", AgentName: "computer"},
	}
	rebuilt := &Plan{Task: "demo", Steps: append(completed, tail...)}
	s.Replace(rebuilt, len(completed))

	if s.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", s.Cursor())
	}
	if got := s.Plan().Steps[0].Title; got != "one" {
		t.Errorf("prefix changed: %q", got)
	}
	step, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if step.Title != "new-two" {
		t.Errorf("current = %+v", step)
	}
}

func TestStoreJSONRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set(threeSteps())
	s.Advance()
	s.Advance()

	blob, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	restored := NewStore()
	if err := json.Unmarshal(blob, restored); err != nil {
		t.Fatal(err)
	}
	if restored.Cursor() != 2 {
		t.Errorf("cursor = %d, want 2", restored.Cursor())
	}
	step, err := restored.Current()
	if err != nil {
		t.Fatal(err)
	}
	if step.Title != "three" {
		t.Errorf("current = %+v", step)
	}
}

func TestEmptyPlan(t *testing.T) {
	s := NewStore()
	if !s.Exhausted() {
		t.Error("empty store should be exhausted")
	}
	if got := s.CompletedPrefix(); got != nil {
		t.Errorf("prefix = %v", got)
	}
}
