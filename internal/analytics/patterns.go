package analytics

import (
	"fmt"
	"strings"

	"github.com/clash402/dataghost/internal/db"
)

// PatternQuery is one query emitted by a pattern builder.
type PatternQuery struct {
	Label string
	SQL   string
}

// PatternPlan is the output of one pattern builder. A builder that cannot
// run (missing metric, time column, or dimension) emits diagnostics and no
// queries.
type PatternPlan struct {
	Name        string
	Queries     []PatternQuery
	Diagnostics []Diagnostic
}

// PatternBuilder produces a plan for one analytic pattern.
type PatternBuilder func(meta *db.DatasetMeta, intent *Intent) PatternPlan

// q backtick-quotes an identifier. Backticks are valid quoting in SQLite and
// keep generated SQL parseable by the reference validator.
func q(identifier string) string {
	return "`" + identifier + "`"
}

// BuildMetricChangeDecomposition compares per-segment metric sums between the
// 7 days ending at MAX(time) and the 7 days before that, returning the top-N
// segments by absolute difference.
func BuildMetricChangeDecomposition(meta *db.DatasetMeta, intent *Intent) PatternPlan {
	plan := PatternPlan{Name: "metric_change_decomposition"}
	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta.Columns, intent.TimeColumn)
	if metric == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingMetric, Message: "No numeric metric column found"})
		return plan
	}
	if timeCol == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingTimeColumn, Message: "No time-like column found"})
		return plan
	}
	dimensions := PickDimensionColumns(meta, map[string]bool{timeCol: true})
	if len(dimensions) == 0 {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingDimension, Message: "No segment dimension available"})
		return plan
	}

	dimension := dimensions[0]
	sql := strings.TrimSpace(fmt.Sprintf(`
WITH max_date AS (
  SELECT MAX(DATE(%[1]s)) AS max_dt FROM %[2]s
),
windowed AS (
  SELECT
    COALESCE(CAST(%[3]s AS CHAR), '(unknown)') AS segment,
    CASE
      WHEN DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-6 day') THEN 'current'
      WHEN DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-13 day') THEN 'prior'
      ELSE NULL
    END AS period,
    SUM(CAST(%[4]s AS REAL)) AS metric_sum
  FROM %[2]s
  WHERE DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-13 day')
  GROUP BY segment, period
),
pivoted AS (
  SELECT
    segment,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) AS current_value,
    SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS prior_value
  FROM windowed
  GROUP BY segment
)
SELECT
  segment,
  current_value,
  prior_value,
  (current_value - prior_value) AS contribution
FROM pivoted
ORDER BY ABS(contribution) DESC
LIMIT %[5]d`,
		q(timeCol), q(meta.TableName), q(dimension), q(metric), InferTopN(intent)))

	plan.Queries = append(plan.Queries, PatternQuery{Label: "Metric change decomposition", SQL: sql})
	return plan
}

// BuildSegmentContribution is the decomposition windowing plus each
// segment's share of the total delta (0 when the total delta is zero or
// null).
func BuildSegmentContribution(meta *db.DatasetMeta, intent *Intent) PatternPlan {
	plan := PatternPlan{Name: "segment_contribution"}
	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta.Columns, intent.TimeColumn)
	if metric == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingMetric, Message: "No numeric metric column found"})
		return plan
	}
	if timeCol == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingTimeColumn, Message: "No time-like column found"})
		return plan
	}
	dimensions := PickDimensionColumns(meta, map[string]bool{timeCol: true})
	if len(dimensions) == 0 {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingDimension, Message: "No segment dimension available"})
		return plan
	}

	dimension := dimensions[0]
	sql := strings.TrimSpace(fmt.Sprintf(`
WITH max_date AS (
  SELECT MAX(DATE(%[1]s)) AS max_dt FROM %[2]s
),
windowed AS (
  SELECT
    COALESCE(CAST(%[3]s AS CHAR), '(unknown)') AS segment,
    CASE
      WHEN DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-6 day') THEN 'current'
      WHEN DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-13 day') THEN 'prior'
      ELSE NULL
    END AS period,
    SUM(CAST(%[4]s AS REAL)) AS metric_sum
  FROM %[2]s
  WHERE DATE(%[1]s) >= DATE((SELECT max_dt FROM max_date), '-13 day')
  GROUP BY segment, period
),
seg AS (
  SELECT
    segment,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) AS current_value,
    SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS prior_value,
    SUM(CASE WHEN period = 'current' THEN metric_sum ELSE 0 END) - SUM(CASE WHEN period = 'prior' THEN metric_sum ELSE 0 END) AS delta
  FROM windowed
  GROUP BY segment
),
tot AS (
  SELECT SUM(delta) AS total_delta FROM seg
)
SELECT
  seg.segment,
  seg.delta,
  CASE
    WHEN tot.total_delta = 0 OR tot.total_delta IS NULL THEN 0
    ELSE seg.delta / tot.total_delta
  END AS contribution_share
FROM seg, tot
ORDER BY ABS(seg.delta) DESC
LIMIT %[5]d`,
		q(timeCol), q(meta.TableName), q(dimension), q(metric), InferTopN(intent)))

	plan.Queries = append(plan.Queries, PatternQuery{Label: "Segment contribution analysis", SQL: sql})
	return plan
}

// BuildAnomalyNoiseCheck classifies the latest day-over-day delta of the
// daily metric aggregate against the average absolute delta of the earlier
// days: likely_anomaly at >= 2x baseline, likely_noise otherwise,
// insufficient when the baseline is null or zero.
func BuildAnomalyNoiseCheck(meta *db.DatasetMeta, intent *Intent) PatternPlan {
	plan := PatternPlan{Name: "anomaly_noise_check"}
	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta.Columns, intent.TimeColumn)
	if metric == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingMetric, Message: "No numeric metric column found"})
		return plan
	}
	if timeCol == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingTimeColumn, Message: "No time-like column found"})
		return plan
	}

	sql := strings.TrimSpace(fmt.Sprintf(`
WITH daily AS (
  SELECT DATE(%[1]s) AS dt, SUM(CAST(%[2]s AS REAL)) AS metric_value
  FROM %[3]s
  GROUP BY dt
  ORDER BY dt
),
deltas AS (
  SELECT dt, metric_value - LAG(metric_value) OVER (ORDER BY dt) AS delta
  FROM daily
),
stats AS (
  SELECT AVG(ABS(delta)) AS avg_abs_delta
  FROM deltas
  WHERE delta IS NOT NULL AND dt < (SELECT MAX(dt) FROM deltas)
),
latest AS (
  SELECT dt, delta
  FROM deltas
  WHERE dt = (SELECT MAX(dt) FROM deltas)
)
SELECT
  latest.dt,
  latest.delta AS latest_delta,
  stats.avg_abs_delta,
  CASE
    WHEN stats.avg_abs_delta IS NULL OR stats.avg_abs_delta = 0 THEN 'insufficient'
    WHEN ABS(latest.delta) >= 2 * stats.avg_abs_delta THEN 'likely_anomaly'
    ELSE 'likely_noise'
  END AS signal
FROM latest, stats`,
		q(timeCol), q(metric), q(meta.TableName)))

	plan.Queries = append(plan.Queries, PatternQuery{Label: "Anomaly vs noise", SQL: sql})
	return plan
}

// BuildTrendBreakDetection compares the latest 7 daily aggregates against
// the preceding 21 and flags a trend break when the means diverge by at
// least 15% of the baseline. A companion "Trend series" query returns the
// last 30 daily points, newest first; consumers reverse for display.
func BuildTrendBreakDetection(meta *db.DatasetMeta, intent *Intent) PatternPlan {
	plan := PatternPlan{Name: "trend_break_detection"}
	metric := PickMetricColumn(meta, intent.Metric)
	timeCol := PickTimeColumn(meta.Columns, intent.TimeColumn)
	if metric == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingMetric, Message: "No numeric metric column found"})
		return plan
	}
	if timeCol == "" {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeMissingTimeColumn, Message: "No time-like column found"})
		return plan
	}

	signalSQL := strings.TrimSpace(fmt.Sprintf(`
WITH daily AS (
  SELECT DATE(%[1]s) AS dt, SUM(CAST(%[2]s AS REAL)) AS metric_value
  FROM %[3]s
  GROUP BY dt
),
ranked AS (
  SELECT dt, metric_value, ROW_NUMBER() OVER (ORDER BY dt DESC) AS rn
  FROM daily
),
recent AS (
  SELECT metric_value FROM ranked WHERE rn <= 7
),
baseline AS (
  SELECT metric_value FROM ranked WHERE rn > 7 AND rn <= 28
)
SELECT
  (SELECT AVG(metric_value) FROM recent) AS recent_avg,
  (SELECT AVG(metric_value) FROM baseline) AS baseline_avg,
  (SELECT AVG(metric_value) FROM recent) - (SELECT AVG(metric_value) FROM baseline) AS avg_delta,
  CASE
    WHEN (SELECT AVG(metric_value) FROM baseline) IS NULL THEN 'insufficient'
    WHEN ABS((SELECT AVG(metric_value) FROM recent) - (SELECT AVG(metric_value) FROM baseline)) >= 0.15 * ABS((SELECT AVG(metric_value) FROM baseline)) THEN 'trend_break'
    ELSE 'stable'
  END AS trend_signal`,
		q(timeCol), q(metric), q(meta.TableName)))

	seriesSQL := strings.TrimSpace(fmt.Sprintf(`
SELECT
  DATE(%[1]s) AS x,
  SUM(CAST(%[2]s AS REAL)) AS y
FROM %[3]s
GROUP BY x
ORDER BY x DESC
LIMIT 30`,
		q(timeCol), q(metric), q(meta.TableName)))

	plan.Queries = append(plan.Queries, PatternQuery{Label: "Trend break detection", SQL: signalSQL})
	plan.Queries = append(plan.Queries, PatternQuery{Label: "Trend series", SQL: seriesSQL})
	return plan
}

// BuildDataQualityChecks emits per-column null/blank counts, duplicate-key
// pairs over the first two columns, and time coverage when a time column
// exists.
func BuildDataQualityChecks(meta *db.DatasetMeta, intent *Intent) PatternPlan {
	plan := PatternPlan{Name: "data_quality_checks"}

	if len(meta.Columns) == 0 {
		plan.Diagnostics = append(plan.Diagnostics, Diagnostic{Code: CodeEmptySchema, Message: "No columns available for quality checks"})
		return plan
	}

	missingTerms := make([]string, 0, len(meta.Columns))
	for _, column := range meta.Columns {
		if meta.Schema[column] == "TEXT" {
			missingTerms = append(missingTerms, fmt.Sprintf(
				"SUM(CASE WHEN %[1]s IS NULL OR TRIM(%[1]s) = '' THEN 1 ELSE 0 END) AS missing_%[2]s",
				q(column), column))
		} else {
			missingTerms = append(missingTerms, fmt.Sprintf(
				"SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) AS missing_%s",
				q(column), column))
		}
	}

	summarySQL := strings.TrimSpace(fmt.Sprintf(`
SELECT
  COUNT(*) AS total_rows,
  %s
FROM %s`,
		strings.Join(missingTerms, ",\n  "), q(meta.TableName)))
	plan.Queries = append(plan.Queries, PatternQuery{Label: "Data quality missingness", SQL: summarySQL})

	if len(meta.Columns) >= 2 {
		duplicateSQL := strings.TrimSpace(fmt.Sprintf(`
SELECT
  %[1]s AS key_1,
  %[2]s AS key_2,
  COUNT(*) AS duplicate_count
FROM %[3]s
GROUP BY %[1]s, %[2]s
HAVING COUNT(*) > 1
ORDER BY duplicate_count DESC
LIMIT 20`,
			q(meta.Columns[0]), q(meta.Columns[1]), q(meta.TableName)))
		plan.Queries = append(plan.Queries, PatternQuery{Label: "Data quality duplicate keys", SQL: duplicateSQL})
	}

	if timeCol := PickTimeColumn(meta.Columns, ""); timeCol != "" {
		coverageSQL := strings.TrimSpace(fmt.Sprintf(`
SELECT
  MIN(DATE(%[1]s)) AS min_date,
  MAX(DATE(%[1]s)) AS max_date,
  COUNT(DISTINCT DATE(%[1]s)) AS distinct_days
FROM %[2]s`,
			q(timeCol), q(meta.TableName)))
		plan.Queries = append(plan.Queries, PatternQuery{Label: "Data quality time coverage", SQL: coverageSQL})
	}
	return plan
}

// qualityTokens restricts the builder list to data quality checks when the
// question is explicitly about quality.
var qualityTokens = []string{"quality", "missing", "duplicate"}

// PlanAnalyses runs the pattern catalogue and flattens the emitted queries,
// stamping each with its pattern name.
func PlanAnalyses(meta *db.DatasetMeta, intent *Intent) ([]PlannedQuery, []Diagnostic) {
	builders := []PatternBuilder{
		BuildMetricChangeDecomposition,
		BuildSegmentContribution,
		BuildAnomalyNoiseCheck,
		BuildTrendBreakDetection,
		BuildDataQualityChecks,
	}

	keywordText := strings.ToLower(intent.RawQuestion)
	for _, token := range qualityTokens {
		if strings.Contains(keywordText, token) {
			builders = []PatternBuilder{BuildDataQualityChecks}
			break
		}
	}

	var planned []PlannedQuery
	var diagnostics []Diagnostic
	for _, build := range builders {
		plan := build(meta, intent)
		diagnostics = append(diagnostics, plan.Diagnostics...)
		for _, query := range plan.Queries {
			planned = append(planned, PlannedQuery{
				Label:   query.Label,
				SQL:     query.SQL,
				Pattern: plan.Name,
			})
		}
	}
	return planned, diagnostics
}
