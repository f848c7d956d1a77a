package store

import (
	"fmt"
	"time"
)

// RunReport is one completed workflow execution, stored append-only.
// The report column holds the engine's full execution log as JSON; the
// engine never reads it back to resume anything.
type RunReport struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflow_id"`
	Pattern     string    `json:"pattern"`
	Status      string    `json:"status"`
	Report      string    `json:"report"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

func (s *Store) SaveRunReport(r *RunReport) error {
	_, err := s.db.Exec(`
		INSERT INTO run_reports (id, workflow_id, pattern, status, report, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.WorkflowID, r.Pattern, r.Status, r.Report, r.StartedAt)
	if err != nil {
		return fmt.Errorf("save run report: %w", err)
	}
	return nil
}

func (s *Store) ListRunReports(workflowID string, limit int) ([]RunReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, workflow_id, pattern, status, report, started_at, completed_at
		FROM run_reports
		WHERE workflow_id = ?
		ORDER BY completed_at DESC
		LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list run reports: %w", err)
	}
	defer rows.Close()

	var reports []RunReport
	for rows.Next() {
		var r RunReport
		if err := rows.Scan(&r.ID, &r.WorkflowID, &r.Pattern, &r.Status, &r.Report, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
