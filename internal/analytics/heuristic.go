package analytics

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clash402/dataghost/internal/db"
)

var wordRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

func tokenize(text string) map[string]bool {
	tokens := map[string]bool{}
	for _, token := range wordRe.FindAllString(strings.ToLower(text), -1) {
		tokens[token] = true
	}
	return tokens
}

var frequencyIntents = []string{"common", "frequent", "frequency", "popular", "mode", "top"}

// aggregateIntents maps question tokens onto SQL aggregate functions; order
// fixes which wins when a question carries several.
var aggregateIntents = []struct {
	token string
	fn    string
}{
	{"average", "AVG"},
	{"mean", "AVG"},
	{"sum", "SUM"},
	{"total", "SUM"},
	{"max", "MAX"},
	{"highest", "MAX"},
	{"min", "MIN"},
	{"lowest", "MIN"},
}

func buildFrequencyQuery(tableName, column string) PlannedQuery {
	sql := strings.TrimSpace(fmt.Sprintf(`
SELECT
  COALESCE(CAST(%s AS CHAR), '(null)') AS value,
  COUNT(*) AS frequency
FROM %s
GROUP BY value
ORDER BY frequency DESC, value ASC
LIMIT 20`, q(column), q(tableName)))
	return PlannedQuery{
		Label:   fmt.Sprintf("Most common values for %s", column),
		SQL:     sql,
		Pattern: "heuristic_frequency",
	}
}

func buildNumericAggregateQuery(tableName, column, fn string) PlannedQuery {
	sql := fmt.Sprintf("SELECT %s(CAST(%s AS REAL)) AS value FROM %s", fn, q(column), q(tableName))
	return PlannedQuery{
		Label:   fmt.Sprintf("%s for %s", fn, column),
		SQL:     sql,
		Pattern: "heuristic_numeric",
	}
}

// BuildHeuristicQueries emits at most one query for simple "most common /
// average X / how many" questions. It never emits when the target column
// cannot be chosen unambiguously.
func BuildHeuristicQueries(question string, meta *db.DatasetMeta) []PlannedQuery {
	tokens := tokenize(question)
	mentioned := MentionedColumns(question, meta.Columns)
	textColumns := meta.TextColumns()
	numericColumns := meta.NumericColumns()

	for _, intent := range frequencyIntents {
		if !tokens[intent] {
			continue
		}
		target := firstIn(mentioned, textColumns)
		if target == "" && len(textColumns) == 1 {
			target = textColumns[0]
		}
		if target != "" {
			return []PlannedQuery{buildFrequencyQuery(meta.TableName, target)}
		}
		break
	}

	for _, agg := range aggregateIntents {
		if !tokens[agg.token] {
			continue
		}
		target := firstIn(mentioned, numericColumns)
		if target == "" && len(numericColumns) == 1 {
			target = numericColumns[0]
		}
		if target != "" {
			return []PlannedQuery{buildNumericAggregateQuery(meta.TableName, target, agg.fn)}
		}
		break
	}

	if tokens["count"] || (tokens["how"] && tokens["many"]) {
		sql := fmt.Sprintf("SELECT COUNT(*) AS row_count FROM %s", q(meta.TableName))
		return []PlannedQuery{{Label: "Row count", SQL: sql, Pattern: "heuristic_count"}}
	}

	return nil
}

// firstIn returns the first member of candidates that is also in allowed.
func firstIn(candidates, allowed []string) string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for _, c := range candidates {
		if allowedSet[c] {
			return c
		}
	}
	return ""
}
