// Package sqlexec runs validated read-only queries against the active
// dataset with row and wall-clock bounds.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/sqlsafe"
)

// Row is one result row. Values are nil, int64, float64, or string.
type Row map[string]any

// Result is the outcome of one executed query.
type Result struct {
	Label string
	SQL   string
	// Columns preserves the select-list order; Rows are keyed by column.
	Columns []string
	Rows    []Row
}

// ExecutionError wraps engine-level failures, including timeouts.
type ExecutionError struct {
	msg string
}

func (e *ExecutionError) Error() string {
	return e.msg
}

func newExecutionError(format string, args ...any) error {
	return &ExecutionError{msg: fmt.Sprintf(format, args...)}
}

// Executor runs bounded queries against the dataset database.
type Executor struct {
	db      *db.DB
	timeout time.Duration
	maxRows int
}

// New builds an executor with the given per-query bounds.
func New(database *db.DB, timeout time.Duration, maxRows int) *Executor {
	return &Executor{
		db:      database,
		timeout: timeout,
		maxRows: maxRows,
	}
}

// enforceLimit appends LIMIT when the query has none. An existing LIMIT is
// never overridden.
func enforceLimit(sqlText string, limit int) string {
	cleaned := strings.TrimSuffix(strings.TrimSpace(sqlText), ";")
	if strings.Contains(strings.ToUpper(cleaned), "LIMIT") {
		return cleaned
	}
	return fmt.Sprintf("%s LIMIT %d", cleaned, limit)
}

// ExecuteSafeQuery validates sqlText, bounds it, and returns its rows. A
// deadline overrun is reported as "Query timed out".
func (e *Executor) ExecuteSafeQuery(ctx context.Context, sqlText string) ([]string, []Row, error) {
	if err := sqlsafe.ValidateSafeSelect(sqlText); err != nil {
		return nil, nil, newExecutionError("%s", err.Error())
	}

	bounded := enforceLimit(sqlText, e.maxRows)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.db.Conn().QueryContext(ctx, bounded)
	if err != nil {
		return nil, nil, wrapEngineError(ctx, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, wrapEngineError(ctx, err)
	}

	var output []Row
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, nil, wrapEngineError(ctx, err)
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		output = append(output, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapEngineError(ctx, err)
	}
	return columns, output, nil
}

func wrapEngineError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newExecutionError("Query timed out")
	}
	if strings.Contains(strings.ToLower(err.Error()), "interrupt") {
		return newExecutionError("Query timed out")
	}
	return newExecutionError("%s", err.Error())
}

// normalizeValue maps driver values onto the supported row value set.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case bool:
		if value {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return value
	}
}
