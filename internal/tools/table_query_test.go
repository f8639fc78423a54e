package tools

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE facts (id INTEGER PRIMARY KEY, name TEXT, value REAL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO facts (name, value) VALUES ('a', 1.0), ('b', 2.0)`)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTableQuery_Success(t *testing.T) {
	db := openTestDB(t)
	tool := TableQueryTool(db, []string{"facts"}, NewTableRateLimiter(100, 100))
	outcome, err := tool.Execute(context.Background(), map[string]any{"sql": "SELECT name, value FROM facts"})
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome.Status)
	result := outcome.Value.(QueryResult)
	assert.Len(t, result.Rows, 2)
}

func TestTableQuery_RejectsNonSelect(t *testing.T) {
	db := openTestDB(t)
	tool := TableQueryTool(db, []string{"facts"}, NewTableRateLimiter(100, 100))
	outcome, err := tool.Execute(context.Background(), map[string]any{"sql": "DELETE FROM facts"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "not_select", outcome.FailureKind)
}

func TestTableQuery_RejectsInjection(t *testing.T) {
	db := openTestDB(t)
	tool := TableQueryTool(db, []string{"facts"}, NewTableRateLimiter(100, 100))
	outcome, err := tool.Execute(context.Background(), map[string]any{"sql": "SELECT * FROM facts; DROP TABLE facts;"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "forbidden_construct", outcome.FailureKind)
}

func TestTableQuery_RejectsUnallowedTable(t *testing.T) {
	db := openTestDB(t)
	tool := TableQueryTool(db, []string{"other"}, NewTableRateLimiter(100, 100))
	outcome, err := tool.Execute(context.Background(), map[string]any{"sql": "SELECT * FROM facts"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "table_not_allowed", outcome.FailureKind)
}

func TestTableQuery_RowLimit(t *testing.T) {
	db := openTestDB(t)
	tool := TableQueryTool(db, []string{"facts"}, NewTableRateLimiter(100, 100))
	outcome, err := tool.Execute(context.Background(), map[string]any{"sql": "SELECT * FROM facts", "max_rows": 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "row_limit_exceeded", outcome.FailureKind)
}
