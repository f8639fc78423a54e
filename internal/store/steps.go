package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uamm-go/uamm/internal/model"
)

// PutStep persists exactly one StepRecord per decided step, satisfying the
// one-row-per-step audit invariant. StepID must be set by the caller
// (typically the orchestrator, derived from RequestID+StepIndex) so retries
// on transient store errors are idempotent.
func (s *WorkspaceDB) PutStep(ctx context.Context, rec model.StepRecord) error {
	toolsJSON, err := json.Marshal(rec.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools_used: %w", err)
	}
	packIDsJSON, err := json.Marshal(rec.PackIDs)
	if err != nil {
		return fmt.Errorf("marshal pack_ids: %w", err)
	}
	issuesJSON, err := json.Marshal(rec.Issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	trace := rec.TraceJSON
	if trace == "" {
		trace = "{}"
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO steps (step_id, request_id, step_index, redacted_question, redacted_answer, s1, s2, s, cp_accept, action, tools_used_json, pack_ids_json, issues_json, trace_json, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(step_id) DO UPDATE SET
		   redacted_question = excluded.redacted_question,
		   redacted_answer = excluded.redacted_answer,
		   s1 = excluded.s1, s2 = excluded.s2, s = excluded.s,
		   cp_accept = excluded.cp_accept, action = excluded.action,
		   tools_used_json = excluded.tools_used_json,
		   pack_ids_json = excluded.pack_ids_json,
		   issues_json = excluded.issues_json,
		   trace_json = excluded.trace_json,
		   status = excluded.status`,
		rec.StepID, rec.RequestID, rec.StepIndex, rec.RedactedQuestion, rec.RedactedAnswer,
		rec.S1, rec.S2, rec.S, nullableBool(rec.CPAccept), string(rec.Action),
		string(toolsJSON), string(packIDsJSON), string(issuesJSON), trace, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert step %q: %w", rec.StepID, err)
	}
	return nil
}

// RecentSteps returns up to limit steps across all requests, most recent
// first, for the GET /steps/recent surface.
func (s *WorkspaceDB) RecentSteps(ctx context.Context, limit int) ([]model.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, request_id, step_index, redacted_question, redacted_answer, s1, s2, s, cp_accept, action, tools_used_json, pack_ids_json, issues_json, trace_json, status, created_at
		 FROM steps ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent steps: %w", err)
	}
	defer rows.Close()
	return scanSteps(rows)
}

// Step returns the single step with stepID, for the GET /steps/{id} surface.
func (s *WorkspaceDB) Step(ctx context.Context, stepID string) (model.StepRecord, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, request_id, step_index, redacted_question, redacted_answer, s1, s2, s, cp_accept, action, tools_used_json, pack_ids_json, issues_json, trace_json, status, created_at
		 FROM steps WHERE step_id = ?`,
		stepID,
	)
	if err != nil {
		return model.StepRecord{}, false, fmt.Errorf("query step %q: %w", stepID, err)
	}
	defer rows.Close()
	recs, err := scanSteps(rows)
	if err != nil {
		return model.StepRecord{}, false, err
	}
	if len(recs) == 0 {
		return model.StepRecord{}, false, nil
	}
	return recs[0], true, nil
}

func scanSteps(rows *sql.Rows) ([]model.StepRecord, error) {
	var out []model.StepRecord
	for rows.Next() {
		var rec model.StepRecord
		var cpAccept sql.NullBool
		var toolsJSON, packIDsJSON, issuesJSON, action, createdAt string
		if err := rows.Scan(
			&rec.StepID, &rec.RequestID, &rec.StepIndex, &rec.RedactedQuestion, &rec.RedactedAnswer,
			&rec.S1, &rec.S2, &rec.S, &cpAccept, &action,
			&toolsJSON, &packIDsJSON, &issuesJSON, &rec.TraceJSON, &rec.Status, &createdAt,
		); err != nil {
			return nil, err
		}
		rec.Action = model.Action(action)
		if t, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			rec.CreatedAt = t
		}
		if cpAccept.Valid {
			v := cpAccept.Bool
			rec.CPAccept = &v
		}
		if err := json.Unmarshal([]byte(toolsJSON), &rec.ToolsUsed); err != nil {
			return nil, fmt.Errorf("decode tools_used for %q: %w", rec.StepID, err)
		}
		if err := json.Unmarshal([]byte(packIDsJSON), &rec.PackIDs); err != nil {
			return nil, fmt.Errorf("decode pack_ids for %q: %w", rec.StepID, err)
		}
		if err := json.Unmarshal([]byte(issuesJSON), &rec.Issues); err != nil {
			return nil, fmt.Errorf("decode issues for %q: %w", rec.StepID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
