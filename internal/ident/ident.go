// Package ident implements identifier normalization for dataset columns and
// table names. Dataset column names go through Slugify before they reach SQL
// generation, so they are always lower-case. The lexical SQL guard upper-cases
// the whole statement before its keyword scan, so lower-case slugs do not keep
// a column such as created_at from matching a keyword.
package ident

import (
	"fmt"
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// Slugify replaces each run of characters other than letters, digits and
// underscores with an underscore, trims leading/trailing underscores, and lower-cases the result.
// An input that slugs to nothing becomes "dataset".
func Slugify(value string) string {
	cleaned := nonAlnum.ReplaceAllString(value, "_")
	cleaned = strings.ToLower(strings.Trim(cleaned, "_"))
	if cleaned == "" {
		return "dataset"
	}
	return cleaned
}

// DedupeColumns disambiguates repeated slugs in header order: the second
// occurrence of "col" becomes "col_2", the third "col_3", and so on.
func DedupeColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	output := make([]string, 0, len(columns))
	for _, column := range columns {
		count := seen[column]
		if count == 0 {
			output = append(output, column)
		} else {
			output = append(output, fmt.Sprintf("%s_%d", column, count+1))
		}
		seen[column] = count + 1
	}
	return output
}
