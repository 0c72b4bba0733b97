// Package trace persists the run journal: events, approvals, and
// checkpoints for crash recovery and audit.
package trace

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Service is the sqlite-backed run journal.
type Service struct {
	db *sql.DB
}

// NewService opens (or creates) the journal database.
func NewService(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open trace db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply trace schema: %w", err)
	}
	return &Service{db: db}, nil
}

// DB exposes the underlying handle for read-only consumers.
func (s *Service) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Service) Close() error { return s.db.Close() }

// LogEvent appends one run event.
func (s *Service) LogEvent(evt *RunEvent) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO run_events
		(run_id, turn, source, kind, type_tag, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.RunID, evt.Turn, evt.Source, evt.Kind, evt.TypeTag, evt.Content, evt.Timestamp)
	if err != nil {
		return fmt.Errorf("insert run event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events for a run, oldest first.
func (s *Service) ListEvents(runID string, limit int) ([]RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, run_id, turn, source, kind,
		COALESCE(type_tag, ''), COALESCE(content, ''), timestamp
		FROM run_events WHERE run_id = ?
		ORDER BY id DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunEvent
	for rows.Next() {
		var e RunEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Turn, &e.Source, &e.Kind, &e.TypeTag, &e.Content, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	// Reverse to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// InsertApproval records a new pending approval.
func (s *Service) InsertApproval(rec *ApprovalRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	_, err := s.db.Exec(`INSERT INTO approvals
		(approval_id, run_id, action, baseline, description, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ApprovalID, rec.RunID, rec.Action, rec.Baseline, rec.Description, rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// UpdateApprovalStatus moves an approval to approved/denied/timeout.
func (s *Service) UpdateApprovalStatus(approvalID, status string) error {
	_, err := s.db.Exec(`UPDATE approvals SET status = ? WHERE approval_id = ?`, status, approvalID)
	return err
}

// ListApprovals returns all approvals for a run, oldest first.
func (s *Service) ListApprovals(runID string) ([]ApprovalRecord, error) {
	rows, err := s.db.Query(`SELECT approval_id, run_id, action, baseline,
		COALESCE(description, ''), status, created_at
		FROM approvals WHERE run_id = ? ORDER BY created_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		if err := rows.Scan(&r.ApprovalID, &r.RunID, &r.Action, &r.Baseline, &r.Description, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveCheckpoint stores a state snapshot for a turn.
func (s *Service) SaveCheckpoint(runID string, turn int, state []byte) error {
	_, err := s.db.Exec(`INSERT INTO checkpoints (run_id, turn, state) VALUES (?, ?, ?)`,
		runID, turn, state)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent snapshot for a run, or
// sql.ErrNoRows when none exists.
func (s *Service) LatestCheckpoint(runID string) (*CheckpointRecord, error) {
	row := s.db.QueryRow(`SELECT run_id, turn, state, created_at
		FROM checkpoints WHERE run_id = ? ORDER BY id DESC LIMIT 1`, runID)
	var rec CheckpointRecord
	if err := row.Scan(&rec.RunID, &rec.Turn, &rec.State, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
