package sqlexec

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clash402/dataghost/internal/db"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	_, err = database.Conn().Exec("CREATE TABLE `data_test` (`segment` TEXT, `revenue` REAL)")
	if err != nil {
		t.Fatalf("creating test table: %v", err)
	}
	for _, row := range [][]any{
		{"A", 100.0},
		{"A", 80.0},
		{"B", 90.0},
		{nil, 10.0},
	} {
		if _, err := database.Conn().Exec("INSERT INTO `data_test` VALUES (?, ?)", row...); err != nil {
			t.Fatalf("inserting test row: %v", err)
		}
	}
	return database
}

func TestEnforceLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want string
	}{
		{
			name: "appends limit",
			sql:  "SELECT * FROM `data_test`",
			want: "SELECT * FROM `data_test` LIMIT 50",
		},
		{
			name: "existing limit untouched",
			sql:  "SELECT * FROM `data_test` LIMIT 3",
			want: "SELECT * FROM `data_test` LIMIT 3",
		},
		{
			name: "strips trailing semicolon",
			sql:  "SELECT * FROM `data_test`;",
			want: "SELECT * FROM `data_test` LIMIT 50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := enforceLimit(tt.sql, 50); got != tt.want {
				t.Errorf("enforceLimit(%q) = %q, want %q", tt.sql, got, tt.want)
			}
		})
	}
}

func TestExecuteSafeQuery(t *testing.T) {
	database := newTestDB(t)
	executor := New(database, 5*time.Second, 5000)

	columns, rows, err := executor.ExecuteSafeQuery(context.Background(),
		"SELECT `segment`, SUM(`revenue`) AS total FROM `data_test` GROUP BY `segment` ORDER BY total DESC")
	if err != nil {
		t.Fatalf("ExecuteSafeQuery: %v", err)
	}
	if len(columns) != 2 || columns[0] != "segment" || columns[1] != "total" {
		t.Fatalf("columns = %v, want [segment total]", columns)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["segment"] != "A" {
		t.Errorf("top segment = %v, want A", rows[0]["segment"])
	}
	if total, ok := rows[0]["total"].(float64); !ok || total != 180 {
		t.Errorf("top total = %v, want 180", rows[0]["total"])
	}
}

func TestExecuteSafeQueryAppliesRowLimit(t *testing.T) {
	database := newTestDB(t)
	executor := New(database, 5*time.Second, 2)

	_, rows, err := executor.ExecuteSafeQuery(context.Background(), "SELECT * FROM `data_test`")
	if err != nil {
		t.Fatalf("ExecuteSafeQuery: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2 (max_rows limit)", len(rows))
	}
}

func TestExecuteSafeQueryRejectsUnsafeSQL(t *testing.T) {
	database := newTestDB(t)
	executor := New(database, 5*time.Second, 5000)

	_, _, err := executor.ExecuteSafeQuery(context.Background(), "DROP TABLE `data_test`")
	if err == nil {
		t.Fatal("expected rejection of DROP")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T, want *ExecutionError", err)
	}
}

func TestExecuteSafeQueryWrapsEngineErrors(t *testing.T) {
	database := newTestDB(t)
	executor := New(database, 5*time.Second, 5000)

	_, _, err := executor.ExecuteSafeQuery(context.Background(), "SELECT `missing_column` FROM `data_test`")
	if err == nil {
		t.Fatal("expected engine error for unknown column")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error type = %T, want *ExecutionError", err)
	}
}

func TestExecuteSafeQueryTimeout(t *testing.T) {
	database := newTestDB(t)
	executor := New(database, time.Nanosecond, 5000)

	_, _, err := executor.ExecuteSafeQuery(context.Background(), "SELECT * FROM `data_test`")
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q, want timeout message", err.Error())
	}
}
