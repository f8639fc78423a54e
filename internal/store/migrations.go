package store

import (
	"database/sql"
	"fmt"
)

// migration is one idempotently-applied, ordered schema step.
type migration struct {
	version int
	stmt    string
}

func applyMigrations(db *sql.DB, migrations []migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL DEFAULT (datetime('now')))`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	applied := make(map[int]bool)
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// migrateIndexDB creates the process-wide index tables: workspaces,
// workspace_keys, workspace_policies, calibration artifacts and reference
// thresholds, eval_runs.
func migrateIndexDB(db *sql.DB) error {
	return applyMigrations(db, []migration{
		{1, `CREATE TABLE workspaces (
			slug TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{2, `CREATE TABLE workspace_keys (
			workspace TEXT NOT NULL REFERENCES workspaces(slug),
			key_id TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (workspace, key_id)
		)`},
		{3, `CREATE TABLE workspace_policies (
			workspace TEXT PRIMARY KEY REFERENCES workspaces(slug),
			overlay_json TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{4, `CREATE TABLE cp_artifacts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL,
			score REAL NOT NULL,
			accepted INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{5, `CREATE INDEX idx_cp_artifacts_run_id ON cp_artifacts(run_id)`},
		{6, `CREATE INDEX idx_cp_artifacts_domain ON cp_artifacts(domain)`},
		{7, `CREATE TABLE reference_thresholds (
			domain TEXT PRIMARY KEY,
			tau_accept REAL NOT NULL,
			borderline_delta REAL NOT NULL,
			snne_quantiles_json TEXT NOT NULL,
			computed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{8, `CREATE TABLE eval_runs (
			run_id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			artifact_count INTEGER NOT NULL,
			tau_accept REAL NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
	})
}

// migrateWorkspaceDB creates memory, corpus (+FTS5), corpus_files, steps,
// with the required indices of §6.4.
func migrateWorkspaceDB(db *sql.DB) error {
	return applyMigrations(db, []migration{
		{1, `CREATE TABLE memory (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			key TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding_json TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{2, `CREATE INDEX idx_memory_key_ts ON memory(key, ts DESC)`},
		{3, `CREATE INDEX idx_memory_domain ON memory(domain)`},
		{4, `CREATE TABLE corpus (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			embedding_json TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			ts TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{5, `CREATE INDEX idx_corpus_content_hash ON corpus(content_hash)`},
		{6, `CREATE VIRTUAL TABLE corpus_fts USING fts5(id UNINDEXED, title, text, content='corpus', content_rowid='rowid')`},
		{7, `CREATE TRIGGER corpus_ai AFTER INSERT ON corpus BEGIN
			INSERT INTO corpus_fts(rowid, id, title, text) VALUES (new.rowid, new.id, new.title, new.text);
		END`},
		{8, `CREATE TRIGGER corpus_ad AFTER DELETE ON corpus BEGIN
			INSERT INTO corpus_fts(corpus_fts, rowid, id, title, text) VALUES('delete', old.rowid, old.id, old.title, old.text);
		END`},
		{9, `CREATE TABLE corpus_files (
			id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL,
			path TEXT NOT NULL,
			corpus_id TEXT NOT NULL REFERENCES corpus(id),
			ts TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{10, `CREATE TABLE steps (
			step_id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			redacted_question TEXT NOT NULL,
			redacted_answer TEXT NOT NULL,
			s1 REAL NOT NULL,
			s2 REAL NOT NULL,
			s REAL NOT NULL,
			cp_accept INTEGER,
			action TEXT NOT NULL,
			tools_used_json TEXT NOT NULL DEFAULT '[]',
			pack_ids_json TEXT NOT NULL DEFAULT '[]',
			issues_json TEXT NOT NULL DEFAULT '[]',
			trace_json TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'ok',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`},
		{11, `CREATE INDEX idx_steps_request_id ON steps(request_id)`},
		{12, `CREATE INDEX idx_steps_created_at ON steps(created_at DESC)`},
	})
}
