package sqlsafe

import (
	"strings"
	"testing"
)

func TestValidateSafeSelect(t *testing.T) {
	tests := []struct {
		name       string
		sql        string
		wantValid  bool
		wantReason string
	}{
		{
			name:      "simple select",
			sql:       "SELECT * FROM `data_abc`",
			wantValid: true,
		},
		{
			name:      "trailing semicolon allowed",
			sql:       "SELECT 1;",
			wantValid: true,
		},
		{
			name:      "cte select",
			sql:       "WITH t AS (SELECT 1 AS n) SELECT n FROM t",
			wantValid: true,
		},
		{
			name:       "empty",
			sql:        "   ",
			wantValid:  false,
			wantReason: "Empty SQL",
		},
		{
			name:       "multiple statements",
			sql:        "SELECT 1; SELECT 2",
			wantValid:  false,
			wantReason: "Multiple statements",
		},
		{
			name:       "drop keyword",
			sql:        "DROP TABLE `data_abc`",
			wantValid:  false,
			wantReason: "Forbidden keyword",
		},
		{
			name:       "delete keyword",
			sql:        "DELETE FROM `data_abc`",
			wantValid:  false,
			wantReason: "Forbidden keyword",
		},
		{
			name:       "insert buried in select",
			sql:        "SELECT * FROM `data_abc` WHERE note = 'INSERT'",
			wantValid:  false,
			wantReason: "Forbidden keyword",
		},
		{
			name:       "pragma",
			sql:        "PRAGMA journal_mode",
			wantValid:  false,
			wantReason: "Forbidden keyword",
		},
		{
			name:       "not a select",
			sql:        "EXPLAIN SELECT 1",
			wantValid:  false,
			wantReason: "Only SELECT statements",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSafeSelect(tt.sql)
			if tt.wantValid {
				if err != nil {
					t.Fatalf("ValidateSafeSelect(%q) = %v, want nil", tt.sql, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateSafeSelect(%q) = nil, want error containing %q", tt.sql, tt.wantReason)
			}
			if !strings.Contains(err.Error(), tt.wantReason) {
				t.Errorf("ValidateSafeSelect(%q) = %q, want reason containing %q", tt.sql, err.Error(), tt.wantReason)
			}
		})
	}
}

func TestValidateReferences(t *testing.T) {
	table := "data_abc"
	columns := []string{"date", "segment", "revenue"}

	tests := []struct {
		name       string
		sql        string
		wantValid  bool
		wantReason string
	}{
		{
			name:      "allowed columns",
			sql:       "SELECT `segment`, SUM(`revenue`) AS total FROM `data_abc` GROUP BY `segment`",
			wantValid: true,
		},
		{
			name:      "star",
			sql:       "SELECT * FROM `data_abc` LIMIT 5",
			wantValid: true,
		},
		{
			name:      "select alias reused",
			sql:       "SELECT `revenue` AS value FROM `data_abc` ORDER BY value",
			wantValid: true,
		},
		{
			name: "cte names allowed as tables",
			sql: "WITH seg AS (SELECT `segment` AS s, SUM(`revenue`) AS total FROM `data_abc` GROUP BY s) " +
				"SELECT s, total FROM seg",
			wantValid: true,
		},
		{
			name:       "unknown column",
			sql:        "SELECT `profit` FROM `data_abc`",
			wantValid:  false,
			wantReason: "unknown column",
		},
		{
			name:       "wrong table",
			sql:        "SELECT `revenue` FROM `other_table`",
			wantValid:  false,
			wantReason: "unsupported table",
		},
		{
			name:       "missing table reference",
			sql:        "SELECT 1",
			wantValid:  false,
			wantReason: "must reference dataset table",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReferences(tt.sql, table, columns)
			if tt.wantValid {
				if err != nil {
					t.Fatalf("ValidateReferences(%q) = %v, want nil", tt.sql, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateReferences(%q) = nil, want error containing %q", tt.sql, tt.wantReason)
			}
			if !strings.Contains(err.Error(), tt.wantReason) {
				t.Errorf("ValidateReferences(%q) = %q, want reason containing %q", tt.sql, err.Error(), tt.wantReason)
			}
		})
	}
}

func TestFallbackTableCheck(t *testing.T) {
	// SQLite-only syntax the parser cannot handle still gets the FROM/JOIN
	// regex check.
	sql := `SELECT DATE(` + "`date`" + `, '-6 day') AS d FROM ` + "`data_abc`"
	if err := ValidateReferences(sql, "data_abc", []string{"date"}); err != nil {
		t.Fatalf("expected fallback acceptance, got %v", err)
	}

	wrong := `SELECT DATE(` + "`date`" + `, '-6 day') AS d FROM ` + "`data_zzz`"
	if err := ValidateReferences(wrong, "data_abc", []string{"date"}); err == nil {
		t.Fatal("expected rejection for mismatched table")
	}
}
