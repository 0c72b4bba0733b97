package trace

import "time"

// RunEvent is one journaled orchestration event.
type RunEvent struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Turn      int       `json:"turn"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	TypeTag   string    `json:"type_tag,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ApprovalRecord tracks one guarded-action approval lifecycle.
type ApprovalRecord struct {
	ApprovalID  string    `json:"approval_id"`
	RunID       string    `json:"run_id"`
	Action      string    `json:"action"`
	Baseline    string    `json:"baseline"`
	Description string    `json:"description"`
	Status      string    `json:"status"` // pending, approved, denied, timeout
	CreatedAt   time.Time `json:"created_at"`
}

// CheckpointRecord is one persisted state snapshot.
type CheckpointRecord struct {
	RunID     string    `json:"run_id"`
	Turn      int       `json:"turn"`
	State     []byte    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Schema is the run journal DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	turn INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	kind TEXT NOT NULL,
	type_tag TEXT,
	content TEXT,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	action TEXT NOT NULL,
	baseline TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approvals_run ON approvals(run_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	state BLOB NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints(run_id, turn);
`
