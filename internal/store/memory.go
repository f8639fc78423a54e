package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// MemoryRecord is one persisted memory row: an agent-written fact keyed for
// later point and recency-ordered lookup.
type MemoryRecord struct {
	ID        string
	Workspace string
	Domain    string
	Key       string
	Text      string
	Embedding []float32
}

// PutMemory inserts a new memory row. Memory is append-only; superseding a
// key means writing a newer row under the same key, with callers reading
// `memory(key, ts desc)` to get the latest value.
func (s *WorkspaceDB) PutMemory(ctx context.Context, m MemoryRecord) (string, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	embJSON, err := json.Marshal(m.Embedding)
	if err != nil {
		return "", fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory (id, workspace, domain, key, text, embedding_json) VALUES (?, ?, ?, ?, ?, ?)`,
		id, m.Workspace, m.Domain, m.Key, m.Text, string(embJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return id, nil
}

// LatestMemory returns the most recent memory row for (workspace, key).
func (s *WorkspaceDB) LatestMemory(ctx context.Context, workspace, key string) (MemoryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, domain, text, embedding_json FROM memory WHERE workspace = ? AND key = ? ORDER BY ts DESC, rowid DESC LIMIT 1`,
		workspace, key,
	)
	var rec MemoryRecord
	var embJSON string
	err := row.Scan(&rec.ID, &rec.Domain, &rec.Text, &embJSON)
	if err == sql.ErrNoRows {
		return MemoryRecord{}, false, nil
	}
	if err != nil {
		return MemoryRecord{}, false, fmt.Errorf("query latest memory: %w", err)
	}
	rec.Workspace = workspace
	rec.Key = key
	if embJSON != "" {
		if err := json.Unmarshal([]byte(embJSON), &rec.Embedding); err != nil {
			return MemoryRecord{}, false, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return rec, true, nil
}

// MemoryByDomain returns up to limit memory rows for a domain, most recent
// first, for use as a retrieval source alongside corpus evidence.
func (s *WorkspaceDB) MemoryByDomain(ctx context.Context, workspace, domain string, limit int) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, text, embedding_json FROM memory WHERE workspace = ? AND domain = ? ORDER BY ts DESC, rowid DESC LIMIT ?`,
		workspace, domain, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query memory by domain: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		var embJSON string
		if err := rows.Scan(&rec.ID, &rec.Key, &rec.Text, &embJSON); err != nil {
			return nil, err
		}
		rec.Workspace = workspace
		rec.Domain = domain
		if embJSON != "" {
			if err := json.Unmarshal([]byte(embJSON), &rec.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
