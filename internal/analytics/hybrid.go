package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/sqlsafe"
)

// PlannerCost records the model spend of the dynamic planning step.
type PlannerCost struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	USD              float64
}

// advancedMarkers trigger model-assisted planning.
var advancedMarkers = []string{
	" by ",
	" over ",
	"trend",
	"compare",
	"versus",
	" vs ",
	"breakdown",
	"why",
	"driver",
}

// patternMarkers trigger the prebuilt pattern catalogue.
var patternMarkers = []string{
	"change",
	"trend",
	"drop",
	"increase",
	"decrease",
	"anomaly",
	"noise",
	"driver",
	"quality",
	"missing",
	"duplicate",
}

func questionNeedsAdvancedPlanning(question string) bool {
	lowered := strings.ToLower(question)
	for _, marker := range advancedMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func includePrebuiltPatterns(question string) bool {
	lowered := strings.ToLower(question)
	for _, marker := range patternMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

const plannerSystemPrompt = "You are a SQL planning assistant for SQLite. Given a user question and a table schema, " +
	"return JSON: {\"queries\":[{\"label\":string,\"sql\":string}]}. " +
	"Rules: use ONLY SELECT/CTE statements; use ONLY provided table and columns; " +
	"prefer 1-3 queries; include aggregation/grouping when needed; quote identifiers with backticks; " +
	"for raw rows include LIMIT <= 200."

type plannerPayload struct {
	Question       string            `json:"question"`
	TableName      string            `json:"table_name"`
	Columns        []string          `json:"columns"`
	Schema         map[string]string `json:"schema"`
	Clarifications map[string]string `json:"clarifications"`
}

func extractLLMQueries(spec llm.PlanSpec) []PlannedQuery {
	var output []PlannedQuery
	for _, item := range spec.Queries {
		sqlText := strings.TrimSpace(item.SQL)
		if sqlText == "" {
			continue
		}
		label := item.Label
		if label == "" {
			label = item.Purpose
		}
		if label == "" {
			label = "Generated analysis"
		}
		output = append(output, PlannedQuery{Label: label, SQL: sqlText, Pattern: "llm_dynamic"})
	}
	return output
}

func dedupeQueries(queries []PlannedQuery) []PlannedQuery {
	seen := map[string]bool{}
	var output []PlannedQuery
	for _, query := range queries {
		normalized := strings.ToLower(strings.Join(strings.Fields(query.SQL), " "))
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		output = append(output, query)
	}
	return output
}

func validateQueries(queries []PlannedQuery, tableName string, columns []string) ([]PlannedQuery, []Diagnostic) {
	var valid []PlannedQuery
	var diagnostics []Diagnostic
	for _, query := range queries {
		if err := sqlsafe.ValidateSafeSelect(query.SQL); err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Code:    CodeUnsafeSQLPlan,
				Message: fmt.Sprintf("%s: %s", query.Label, err.Error()),
			})
			continue
		}
		if err := sqlsafe.ValidateReferences(query.SQL, tableName, columns); err != nil {
			diagnostics = append(diagnostics, Diagnostic{
				Code:    CodeInvalidSQLReferences,
				Message: fmt.Sprintf("%s: %s", query.Label, err.Error()),
			})
			continue
		}
		valid = append(valid, query)
	}
	return valid, diagnostics
}

// HybridPlanInput carries everything the hybrid planner needs for one
// request.
type HybridPlanInput struct {
	RequestID      string
	App            string
	Question       string
	Meta           *db.DatasetMeta
	Clarifications map[string]string
	Intent         *Intent
	MaxQueries     int
}

// BuildHybridQueryPlan composes heuristic, pattern, and model-assisted
// candidates; deduplicates by normalized SQL; caps to the per-request
// budget; and keeps only queries that pass safety and reference validation.
// A fatal router error (budget, disabled, provider) aborts the request.
func BuildHybridQueryPlan(ctx context.Context, router *llm.Router, in HybridPlanInput) ([]PlannedQuery, []Diagnostic, *PlannerCost, error) {
	var planned []PlannedQuery
	var diagnostics []Diagnostic
	var plannerCost *PlannerCost

	planned = append(planned, BuildHeuristicQueries(in.Question, in.Meta)...)

	if includePrebuiltPatterns(in.Question) {
		normalized := *in.Intent
		if normalized.Metric == "" {
			normalized.Metric = PickMetricColumn(in.Meta, in.Clarifications["metric"])
		}
		if normalized.TimeColumn == "" {
			normalized.TimeColumn = PickTimeColumn(in.Meta.Columns, in.Clarifications["time_column"])
		}
		patternQueries, patternDiagnostics := PlanAnalyses(in.Meta, &normalized)
		planned = append(planned, patternQueries...)
		diagnostics = append(diagnostics, patternDiagnostics...)
	}

	if questionNeedsAdvancedPlanning(in.Question) || len(planned) == 0 {
		payload, err := json.Marshal(plannerPayload{
			Question:       in.Question,
			TableName:      in.Meta.TableName,
			Columns:        in.Meta.Columns,
			Schema:         in.Meta.Schema,
			Clarifications: in.Clarifications,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("encoding planner payload: %w", err)
		}

		result, err := router.Call(ctx, llm.CallRequest{
			RequestID:    in.RequestID,
			App:          in.App,
			Task:         "plan_sql_queries",
			SystemPrompt: plannerSystemPrompt,
			UserPrompt:   string(payload),
		})
		if err != nil {
			return nil, nil, nil, err
		}
		plannerCost = &PlannerCost{
			Model:            result.Model,
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.CompletionTokens,
			USD:              result.USD,
		}

		var llmQueries []PlannedQuery
		if spec, ok := llm.DecodePlanSpec(result.Text); ok {
			llmQueries = extractLLMQueries(spec)
		}
		if len(llmQueries) == 0 {
			diagnostics = append(diagnostics, Diagnostic{
				Code:    CodeLLMPlanEmpty,
				Message: "Dynamic SQL planner returned no usable queries.",
			})
		}
		planned = append(planned, llmQueries...)
	}

	planned = dedupeQueries(planned)
	if len(planned) > in.MaxQueries {
		planned = planned[:in.MaxQueries]
	}

	valid, planDiagnostics := validateQueries(planned, in.Meta.TableName, in.Meta.Columns)
	diagnostics = append(diagnostics, planDiagnostics...)

	if len(valid) == 0 {
		diagnostics = append(diagnostics, Diagnostic{
			Code:    CodeNoValidSQLPlan,
			Message: "Unable to produce a safe SQL plan for this question and schema.",
		})
	}
	return valid, diagnostics, plannerCost, nil
}
