package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ScheduledRun is a recurring or one-shot trigger for a workflow.
type ScheduledRun struct {
	ID         string     `json:"id"`
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Input      string     `json:"input,omitempty"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledRun, error) {
	r := &ScheduledRun{}
	var input, lastStatus, lastError *string
	err := scanner.Scan(&r.ID, &r.WorkflowID, &r.Name, &r.Schedule, &input, &r.Status,
		&r.NextRunAt, &r.LastRunAt, &lastStatus, &lastError, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if input != nil {
		r.Input = *input
	}
	if lastStatus != nil {
		r.LastStatus = *lastStatus
	}
	if lastError != nil {
		r.LastError = *lastError
	}
	return r, nil
}

func (s *Store) SaveScheduledRun(r *ScheduledRun) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduled_runs (id, workflow_id, name, schedule, input, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			input = excluded.input,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		r.ID, r.WorkflowID, r.Name, r.Schedule, r.Input, r.Status, r.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled run: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledRun(id string) (*ScheduledRun, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_id, name, schedule, input, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled run: %w", err)
	}
	return r, nil
}

func (s *Store) ListScheduledRuns() ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, name, schedule, input, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) GetDueRuns(now time.Time) ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT id, workflow_id, name, schedule, input, status,
		       next_run_at, last_run_at, last_status, last_error, created_at
		FROM scheduled_runs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due runs: %w", err)
	}
	defer rows.Close()

	var runs []ScheduledRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) UpdateRunResult(id string, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_runs
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateRunStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_runs SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteScheduledRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_runs WHERE id = ?`, id)
	return err
}
