package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AgentRecord is the persisted registration of an agent. Live load and
// status are in-memory only; the record captures what was registered,
// not what the agent is doing.
type AgentRecord struct {
	Name               string    `json:"name"`
	Role               string    `json:"role"`
	Capabilities       []string  `json:"capabilities"`
	MaxConcurrentTasks int       `json:"max_concurrent_tasks"`
	CreatedAt          time.Time `json:"created_at"`
}

func (s *Store) SaveAgentRecord(a *AgentRecord) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agents (name, role, capabilities, max_concurrent)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			role = excluded.role,
			capabilities = excluded.capabilities,
			max_concurrent = excluded.max_concurrent`,
		a.Name, a.Role, string(caps), a.MaxConcurrentTasks)
	if err != nil {
		return fmt.Errorf("save agent record: %w", err)
	}
	return nil
}

func (s *Store) GetAgentRecord(name string) (*AgentRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, role, capabilities, max_concurrent, created_at
		FROM agents WHERE name = ?`, name)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent record: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgentRecords() ([]AgentRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, role, capabilities, max_concurrent, created_at
		FROM agents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list agent records: %w", err)
	}
	defer rows.Close()

	var agents []AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent record: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *Store) DeleteAgentRecord(name string) error {
	_, err := s.db.Exec(`DELETE FROM agents WHERE name = ?`, name)
	return err
}

func scanAgent(scanner interface {
	Scan(dest ...any) error
}) (*AgentRecord, error) {
	a := &AgentRecord{}
	var caps string
	if err := scanner.Scan(&a.Name, &a.Role, &caps, &a.MaxConcurrentTasks, &a.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return a, nil
}
