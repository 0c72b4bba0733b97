package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/MagClaw/MagClaw/internal/message"
	"github.com/MagClaw/MagClaw/internal/plan"
)

// State is the orchestrator's serializable position in a run. The
// pause flag is deliberately not part of it: a restored run always
// starts unpaused.
type State struct {
	Task                 string             `json:"task"`
	Plan                 *plan.Store        `json:"plan"`
	NRounds              int                `json:"n_rounds"`
	NReplans             int                `json:"n_replans"`
	InformationCollected string             `json:"information_collected"`
	InPlanningMode       bool               `json:"in_planning_mode"`
	History              []message.Envelope `json:"history"`
}

func newState() *State {
	return &State{Plan: plan.NewStore(), InPlanningMode: true}
}

// SaveState serializes the orchestrator's position.
func (o *Orchestrator) SaveState() ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	blob, err := json.Marshal(o.state)
	if err != nil {
		return nil, fmt.Errorf("encode orchestrator state: %w", err)
	}
	return blob, nil
}

// LoadState restores a previously saved position. The run resumes
// unpaused regardless of how it was saved.
func (o *Orchestrator) LoadState(blob []byte) error {
	st := newState()
	if err := json.Unmarshal(blob, st); err != nil {
		return fmt.Errorf("decode orchestrator state: %w", err)
	}
	if st.Plan == nil {
		st.Plan = plan.NewStore()
	}
	o.mu.Lock()
	o.state = st
	o.mu.Unlock()
	return nil
}
