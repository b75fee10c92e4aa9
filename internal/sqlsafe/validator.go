// Package sqlsafe guards every SQL string executed against the dataset: a
// query must be a single read-only SELECT and may reference only the active
// dataset table and its columns.
//
// Validation is staged. The lexical stage is a substring keyword scan over the
// upper-cased statement; it is intentionally coarse, so an identifier that
// contains a forbidden keyword (created_at contains CREATE) gets the whole
// statement rejected.
// The parse stage builds a parse tree and inspects it. The parser speaks
// MySQL grammar, so generated SQL quotes identifiers with backticks (valid in
// SQLite as well); statements using SQLite-only syntax the parser cannot
// handle fall back to a regex check that the FROM/JOIN target is the expected
// table.
package sqlsafe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"
)

// forbiddenKeywords rejects any statement that could mutate state. The scan
// is substring-based over the upper-cased SQL.
var forbiddenKeywords = []string{
	"DROP",
	"DELETE",
	"UPDATE",
	"ALTER",
	"PRAGMA",
	"ATTACH",
	"DETACH",
	"VACUUM",
	"TRUNCATE",
	"REPLACE",
	"CREATE",
	"INSERT",
}

// ValidationError reports why a SQL string was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

var (
	parserOnce sync.Once
	parser     *sqlparser.Parser
	parserErr  error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		parser, parserErr = sqlparser.New(sqlparser.Options{})
	})
	return parser, parserErr
}

// ValidateSafeSelect enforces the lexical stage and, when the statement
// parses, the parse-tree stage: single statement, read-only, top-level
// SELECT (CTE-wrapped included).
func ValidateSafeSelect(sqlText string) error {
	stripped := strings.TrimSuffix(strings.TrimSpace(sqlText), ";")
	if stripped == "" {
		return reject("Empty SQL")
	}
	if strings.Contains(stripped, ";") {
		return reject("Multiple statements are not allowed")
	}

	upper := strings.ToUpper(stripped)
	for _, keyword := range forbiddenKeywords {
		if strings.Contains(upper, keyword) {
			return reject("Forbidden keyword detected: %s", keyword)
		}
	}
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return reject("Only SELECT statements are allowed")
	}

	p, err := getParser()
	if err != nil {
		return nil
	}
	stmt, err := p.Parse(stripped)
	if err != nil {
		// SQLite-only syntax the MySQL grammar cannot express. Lexical
		// checks passed; reference checking applies its own fallback.
		return nil
	}

	if _, ok := stmt.(sqlparser.SelectStatement); !ok {
		return reject("Only top-level SELECT queries are allowed")
	}

	var forbidden string
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlparser.Insert, *sqlparser.Update, *sqlparser.Delete,
			*sqlparser.AlterTable, *sqlparser.CreateTable, *sqlparser.DropTable,
			*sqlparser.TruncateTable, *sqlparser.RenameTable, *sqlparser.Load:
			forbidden = fmt.Sprintf("%T", node)
			return false, nil
		}
		return true, nil
	}, stmt)
	if forbidden != "" {
		return reject("Forbidden SQL node: %s", strings.TrimPrefix(forbidden, "*sqlparser."))
	}
	return nil
}

// ValidateReferences checks that every table reference resolves to the active
// dataset table (or a CTE/derived table introduced in the query) and every
// column reference is an allowed column, a select-list alias, or *.
func ValidateReferences(sqlText, tableName string, allowedColumns []string) error {
	stripped := strings.TrimSpace(sqlText)
	if stripped == "" {
		return reject("Empty SQL")
	}
	stripped = strings.TrimSuffix(stripped, ";")

	p, err := getParser()
	if err != nil {
		return fallbackTableCheck(stripped, tableName)
	}
	stmt, err := p.Parse(stripped)
	if err != nil {
		return fallbackTableCheck(stripped, tableName)
	}

	allowed := make(map[string]bool, len(allowedColumns))
	for _, column := range allowedColumns {
		allowed[column] = true
	}

	localTables := make(map[string]bool) // CTE names and derived-table aliases
	aliases := make(map[string]bool)     // select-list aliases
	tableRefs := make(map[string]bool)
	columnRefs := make(map[string]bool)

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.With:
			for _, cte := range n.CTEs {
				localTables[cte.ID.String()] = true
				for _, col := range cte.Columns {
					aliases[col.String()] = true
				}
			}
		case *sqlparser.AliasedTableExpr:
			if !n.As.IsEmpty() {
				localTables[n.As.String()] = true
			}
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				tableRefs[tn.Name.String()] = true
			}
		case *sqlparser.AliasedExpr:
			if !n.As.IsEmpty() {
				aliases[n.As.String()] = true
			}
		case *sqlparser.ColName:
			columnRefs[n.Name.String()] = true
		}
		return true, nil
	}, stmt)

	physical := make([]string, 0, len(tableRefs))
	for name := range tableRefs {
		// The parser renders FROM-less selects against the dual pseudo-table.
		if !localTables[name] && name != "dual" {
			physical = append(physical, name)
		}
	}
	if len(physical) == 0 {
		return reject("Query must reference dataset table %q.", tableName)
	}
	var invalid []string
	for _, name := range physical {
		if name != tableName {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return reject("Query references unsupported table(s): %s", strings.Join(invalid, ", "))
	}

	var unknown []string
	for name := range columnRefs {
		if name == "*" || allowed[name] || aliases[name] || localTables[name] {
			continue
		}
		unknown = append(unknown, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return reject("Query references unknown column(s): %s", strings.Join(unknown, ", "))
	}
	return nil
}

// fallbackTableCheck is the parser-less reference check: when the statement
// has a FROM or JOIN, the expected table must appear as its target.
func fallbackTableCheck(sqlText, tableName string) error {
	lowered := strings.ToLower(sqlText)
	hasFrom := regexp.MustCompile(`\b(from|join)\b`).MatchString(lowered)
	if !hasFrom {
		return nil
	}
	escaped := regexp.QuoteMeta(strings.ToLower(tableName))
	tablePattern := regexp.MustCompile(
		`\b(from|join)\s+(("` + escaped + `")|(` + "`" + escaped + "`" + `)|` + escaped + `)\b`,
	)
	if !tablePattern.MatchString(lowered) {
		return reject("Query must reference table %q.", tableName)
	}
	return nil
}
