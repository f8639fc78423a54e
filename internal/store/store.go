// Package store implements the persistence layout of §6.4: an index DB
// (workspaces, policies, calibration artifacts, eval runs) and one workspace
// DB per workspace root (memory, corpus + full-text index, corpus files,
// steps). Writers are serialized through database/sql's pool in WAL mode;
// readers run concurrently.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens (creating if absent) a SQLite database at path in WAL mode
// with a busy timeout, matching the "writers serialized, readers concurrent"
// resource model of §5.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL on %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys on %s: %w", path, err)
	}
	return db, nil
}

// IndexDB wraps the process-wide index database: workspaces, workspace
// policies, calibration artifacts, reference thresholds, eval runs.
type IndexDB struct {
	db *sql.DB
}

// OpenIndexDB opens the index database at path, running migrations.
func OpenIndexDB(path string) (*IndexDB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrateIndexDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &IndexDB{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *IndexDB) Close() error { return s.db.Close() }

// WorkspaceDB wraps one workspace's database: memory, corpus (+FTS),
// corpus_files, steps. When workspace roots aren't configured separately,
// a single shared WorkspaceDB instance serves every workspace (the row's
// `workspace` column scopes queries).
type WorkspaceDB struct {
	db *sql.DB
}

// OpenWorkspaceDB opens a workspace database at path, running migrations.
func OpenWorkspaceDB(path string) (*WorkspaceDB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := migrateWorkspaceDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &WorkspaceDB{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *WorkspaceDB) Close() error { return s.db.Close() }

// DB exposes the raw *sql.DB for callers (e.g. TABLE_QUERY) that need
// direct, policy-gated read access to a workspace's tables.
func (s *WorkspaceDB) DB() *sql.DB { return s.db }
