package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/uamm-go/uamm/internal/security"
)

// DBHandle is the minimal database/sql capability TABLE_QUERY needs.
type DBHandle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TableRateLimiter enforces a per-table token-bucket rate limit using a
// monotonic clock (golang.org/x/time/rate), per spec §5's shared-resource
// model.
type TableRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewTableRateLimiter returns a limiter allowing rps queries/sec per table
// with the given burst.
func NewTableRateLimiter(rps float64, burst int) *TableRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &TableRateLimiter{limiters: make(map[string]*rate.Limiter), rps: rate.Limit(rps), burst: burst}
}

// Allow reports whether a query against table may proceed now.
func (t *TableRateLimiter) Allow(table string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[table]
	if !ok {
		l = rate.NewLimiter(t.rps, t.burst)
		t.limiters[table] = l
	}
	return l.Allow()
}

// Row is one TABLE_QUERY result row, column name -> value.
type Row map[string]any

// QueryResult is the TABLE_QUERY contract's OK value.
type QueryResult struct {
	Rows         []Row    `json:"rows"`
	ColumnTypes  []string `json:"column_types"`
	PolicyChecks []string `json:"policy_checks"`
}

// TableQueryTool implements the TABLE_QUERY contract: SELECT-only SQL over
// an allowlisted table set, with per-table rate limiting and a row cap.
func TableQueryTool(db DBHandle, allowedTables []string, limiter *TableRateLimiter) *Tool {
	return &Tool{
		Name:        TableQuery,
		Description: "Run a read-only SELECT against an allowlisted table",
		Schema: Schema{
			Required: []string{"sql"},
			Properties: map[string]Property{
				"sql":           {Type: "string", Description: "single SELECT statement"},
				"params":        {Type: "array", Description: "positional bind parameters"},
				"max_rows":      {Type: "integer", Description: "row cap", Default: 100},
				"time_limit_ms": {Type: "integer", Description: "query timeout in ms", Default: 2000},
			},
		},
		Execute: func(ctx context.Context, args map[string]any) (*Outcome, error) {
			return executeTableQuery(ctx, args, db, allowedTables, limiter)
		},
	}
}

func executeTableQuery(ctx context.Context, args map[string]any, db DBHandle, allowedTables []string, limiter *TableRateLimiter) (*Outcome, error) {
	query, _ := args["sql"].(string)
	if strings.TrimSpace(query) == "" {
		return Failed("not_select", "sql is required"), nil
	}

	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToLower(trimmed), "select") {
		return Failed("not_select", "statement must begin with SELECT"), nil
	}
	if !security.IsReadOnlySelect(query) {
		return Failed("forbidden_construct", "query contains a disallowed construct (;, --, /*, UNION, PRAGMA, or DML/DDL)"), nil
	}
	if !security.TablesAllowed(query, allowedTables) {
		return Failed("table_not_allowed", "referenced table is not in the workspace allowlist"), nil
	}

	for _, table := range security.ReferencedTables(query) {
		if limiter != nil && !limiter.Allow(table) {
			return Failed("rate_limited", fmt.Sprintf("rate limit exceeded for table %s", table)), nil
		}
	}

	maxRows := 100
	if v, ok := args["max_rows"].(int); ok && v > 0 {
		maxRows = v
	}
	timeLimit := 2000 * time.Millisecond
	if v, ok := args["time_limit_ms"].(int); ok && v > 0 {
		timeLimit = time.Duration(v) * time.Millisecond
	}
	var params []any
	if raw, ok := args["params"].([]any); ok {
		params = raw
	}

	if db == nil {
		return Failed("timeout", "no database handle configured"), nil
	}

	qctx, cancel := context.WithTimeout(ctx, timeLimit)
	defer cancel()

	rows, err := db.QueryContext(qctx, query, params...)
	if err != nil {
		if qctx.Err() != nil {
			return Failed("timeout", err.Error()), nil
		}
		return Failed("forbidden_construct", err.Error()), nil
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return Failed("timeout", err.Error()), nil
	}
	colNames := make([]string, len(cols))
	colTypes := make([]string, len(cols))
	for i, c := range cols {
		colNames[i] = c.Name()
		colTypes[i] = c.DatabaseTypeName()
	}

	var result []Row
	for rows.Next() {
		if len(result) >= maxRows {
			return Failed("row_limit_exceeded", fmt.Sprintf("query exceeded max_rows=%d", maxRows)), nil
		}
		scanTargets := make([]any, len(cols))
		scanPtrs := make([]any, len(cols))
		for i := range scanTargets {
			scanPtrs[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return Failed("timeout", err.Error()), nil
		}
		row := make(Row, len(cols))
		for i, name := range colNames {
			row[name] = scanTargets[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		if qctx.Err() != nil {
			return Failed("timeout", err.Error()), nil
		}
		return Failed("forbidden_construct", err.Error()), nil
	}

	return OK(QueryResult{
		Rows:        result,
		ColumnTypes: colTypes,
		PolicyChecks: []string{"select_only", "table_allowlist", "rate_limit"},
	}, map[string]any{"row_count": len(result)}), nil
}
