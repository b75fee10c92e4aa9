package analytics

import (
	"strings"

	"github.com/clash402/dataghost/internal/db"
)

// timeTokens marks a column as time-like when its name contains any of them.
var timeTokens = []string{"date", "time", "day", "week", "month", "year"}

// PickMetricColumn selects the preferred numeric column when valid, else the
// first numeric column in ingestion order.
func PickMetricColumn(meta *db.DatasetMeta, preferred string) string {
	numeric := meta.NumericColumns()
	if preferred != "" {
		for _, column := range numeric {
			if column == preferred {
				return preferred
			}
		}
	}
	if len(numeric) > 0 {
		return numeric[0]
	}
	return ""
}

// IsTimeLike reports whether a column name looks like a time column.
func IsTimeLike(column string) bool {
	lowered := strings.ToLower(column)
	for _, token := range timeTokens {
		if strings.Contains(lowered, token) {
			return true
		}
	}
	return false
}

// TimeLikeColumns returns time-like columns in ingestion order.
func TimeLikeColumns(columns []string) []string {
	var out []string
	for _, column := range columns {
		if IsTimeLike(column) {
			out = append(out, column)
		}
	}
	return out
}

// PickTimeColumn selects the preferred column when it exists, else the first
// time-like column in ingestion order.
func PickTimeColumn(columns []string, preferred string) string {
	if preferred != "" {
		for _, column := range columns {
			if column == preferred {
				return preferred
			}
		}
	}
	candidates := TimeLikeColumns(columns)
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// PickDimensionColumns returns TEXT columns in ingestion order, minus the
// excluded set.
func PickDimensionColumns(meta *db.DatasetMeta, exclude map[string]bool) []string {
	var dims []string
	for _, column := range meta.TextColumns() {
		if exclude[column] {
			continue
		}
		dims = append(dims, column)
	}
	return dims
}

// InferTopN returns the intent's top-N bound, defaulting to 5.
func InferTopN(intent *Intent) int {
	if intent != nil && intent.TopN > 0 {
		return intent.TopN
	}
	return 5
}

// MentionedColumns returns the dataset columns whose names appear in the
// lower-cased question, in ingestion order.
func MentionedColumns(question string, columns []string) []string {
	lowered := strings.ToLower(question)
	var out []string
	for _, column := range columns {
		if strings.Contains(lowered, strings.ToLower(column)) {
			out = append(out, column)
		}
	}
	return out
}
