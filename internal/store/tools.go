package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ToolRecord is the persisted registration of an external tool. The
// credential column holds the vault-sealed ciphertext, never plaintext.
type ToolRecord struct {
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Transport    string    `json:"transport"`
	Endpoint     string    `json:"endpoint"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Credential   []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) SaveToolRecord(t *ToolRecord) error {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO tools (name, description, transport, endpoint, capabilities, credential)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			transport = excluded.transport,
			endpoint = excluded.endpoint,
			capabilities = excluded.capabilities,
			credential = excluded.credential`,
		t.Name, t.Description, t.Transport, t.Endpoint, string(caps), t.Credential)
	if err != nil {
		return fmt.Errorf("save tool record: %w", err)
	}
	return nil
}

func (s *Store) GetToolRecord(name string) (*ToolRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, description, transport, endpoint, capabilities, credential, created_at
		FROM tools WHERE name = ?`, name)
	t, err := scanTool(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tool record: %w", err)
	}
	return t, nil
}

func (s *Store) ListToolRecords() ([]ToolRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, description, transport, endpoint, capabilities, credential, created_at
		FROM tools ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tool records: %w", err)
	}
	defer rows.Close()

	var tools []ToolRecord
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool record: %w", err)
		}
		tools = append(tools, *t)
	}
	return tools, rows.Err()
}

func (s *Store) DeleteToolRecord(name string) error {
	_, err := s.db.Exec(`DELETE FROM tools WHERE name = ?`, name)
	return err
}

func scanTool(scanner interface {
	Scan(dest ...any) error
}) (*ToolRecord, error) {
	t := &ToolRecord{}
	var desc, caps *string
	if err := scanner.Scan(&t.Name, &desc, &t.Transport, &t.Endpoint, &caps, &t.Credential, &t.CreatedAt); err != nil {
		return nil, err
	}
	if desc != nil {
		t.Description = *desc
	}
	if caps != nil && *caps != "" {
		if err := json.Unmarshal([]byte(*caps), &t.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	return t, nil
}
