package ask

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/clash402/dataghost/internal/analytics"
	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/llm"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/sqlexec"
)

// Pipeline threads a request through the ask state machine. All mutable
// per-request state lives in an askState owned by the run; the pipeline
// itself is safe for concurrent use.
type Pipeline struct {
	DB        *db.DB
	Cfg       *config.Config
	Router    *llm.Router
	Executor  *sqlexec.Executor
	Retriever *rag.Retriever
	Logger    *log.Logger
}

// asksNumericTokens flag questions that need a numeric metric.
var asksNumericTokens = []string{"average", "mean", "sum", "total", "median", "trend", "change", "increase", "decrease", "drop"}

// asksChangeTokens flag questions about change over time.
var asksChangeTokens = []string{"change", "trend", "drop", "increase", "decrease", "week", "month"}

func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// Run executes the pipeline. Recoverable failures accumulate as diagnostics;
// fatal errors (budget, disabled model, provider failure) unwind the whole
// request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	if req.Clarifications == nil {
		req.Clarifications = map[string]string{}
	}

	state := &askState{
		req:         req,
		status:      statusOK,
		diagnostics: []analytics.Diagnostic{},
		confidence:  analytics.Confidence{Level: analytics.ConfidenceInsufficient, Reasons: []string{}},
	}

	for current := stageCheckDatasetReady; current != stageDone; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := p.step(ctx, state, current)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", current, err)
		}
		current = next
	}

	return &Result{
		RequestID:              req.RequestID,
		ConversationID:         req.ConversationID,
		NeedsClarification:     state.needsClarification,
		ClarificationQuestions: state.clarificationQuestions,
		Answer:                 state.answer,
		Diagnostics:            state.diagnostics,
		CostTrace:              state.cost,
	}, nil
}

// step runs one stage and returns the next. The transition table mirrors the
// documented state machine: clarification-gated and dataset-missing requests
// jump straight to finalize.
func (p *Pipeline) step(ctx context.Context, state *askState, current stage) (stage, error) {
	p.Logger.Debug("pipeline stage", "request_id", state.req.RequestID, "stage", current.String())

	switch current {
	case stageCheckDatasetReady:
		if err := p.checkDatasetReady(state); err != nil {
			return stageDone, err
		}
		return stageDecideClarification, nil

	case stageDecideClarification:
		p.decideNeedClarification(state)
		if state.status == statusDatasetNotReady || state.needsClarification {
			return stageFinalizeResponse, nil
		}
		return stageParseIntent, nil

	case stageParseIntent:
		if err := p.parseIntent(ctx, state); err != nil {
			return stageDone, err
		}
		return stagePlanAnalyses, nil

	case stagePlanAnalyses:
		if err := p.planAnalyses(ctx, state); err != nil {
			return stageDone, err
		}
		return stageExecuteQueries, nil

	case stageExecuteQueries:
		p.executeQueries(ctx, state)
		return stageValidateResults, nil

	case stageValidateResults:
		p.validateResults(state)
		return stageRetrieveContext, nil

	case stageRetrieveContext:
		if err := p.retrieveContext(state); err != nil {
			return stageDone, err
		}
		return stageSynthesizeExplanation, nil

	case stageSynthesizeExplanation:
		if err := p.synthesizeExplanation(ctx, state); err != nil {
			return stageDone, err
		}
		return stageFinalizeResponse, nil

	case stageFinalizeResponse:
		p.finalizeResponse(state)
		return stageDone, nil
	}
	return stageDone, fmt.Errorf("unknown stage %d", current)
}

func (p *Pipeline) checkDatasetReady(state *askState) error {
	meta, err := p.DB.GetDatasetMeta()
	if err != nil {
		return err
	}
	if meta == nil {
		state.status = statusDatasetNotReady
		state.diagnostics = append(state.diagnostics, analytics.Diagnostic{
			Code:    analytics.CodeDatasetNotReady,
			Message: "Upload a CSV dataset first using POST /upload/dataset.",
		})
		return nil
	}
	state.meta = meta
	return nil
}

func (p *Pipeline) decideNeedClarification(state *askState) {
	if state.status == statusDatasetNotReady {
		state.needsClarification = false
		return
	}

	question := strings.ToLower(state.req.Question)
	clarifications := state.req.Clarifications

	numericColumns := state.meta.NumericColumns()
	selectedMetric := clarifications["metric"]
	if selectedMetric == "" {
		for _, column := range numericColumns {
			if strings.Contains(question, strings.ToLower(column)) {
				selectedMetric = column
				break
			}
		}
	}

	timeColumns := analytics.TimeLikeColumns(state.meta.Columns)
	selectedTime := clarifications["time_column"]
	if selectedTime == "" {
		for _, column := range timeColumns {
			if strings.Contains(question, strings.ToLower(column)) {
				selectedTime = column
				break
			}
		}
	}
	if selectedTime == "" && len(timeColumns) == 1 {
		selectedTime = timeColumns[0]
	}

	if mentioned := analytics.MentionedColumns(state.req.Question, state.meta.Columns); len(mentioned) > 0 {
		state.intent.ColumnMention = mentioned[0]
	}

	var questions []ClarificationQuestion
	if containsAny(question, asksNumericTokens) && selectedMetric == "" && len(numericColumns) > 1 {
		questions = append(questions, ClarificationQuestion{
			Key:     "metric",
			Type:    "select",
			Prompt:  "Which metric should be analyzed?",
			Options: numericColumns,
		})
	}
	if containsAny(question, asksChangeTokens) && selectedTime == "" && len(timeColumns) > 1 {
		questions = append(questions, ClarificationQuestion{
			Key:     "time_column",
			Type:    "select",
			Prompt:  "Which column should be treated as time?",
			Options: timeColumns,
		})
	}

	state.needsClarification = len(questions) > 0
	state.clarificationQuestions = questions
	if selectedMetric != "" {
		state.intent.Metric = selectedMetric
	}
	if selectedTime != "" {
		state.intent.TimeColumn = selectedTime
	}
}

func (p *Pipeline) parseIntent(ctx context.Context, state *askState) error {
	result, err := p.Router.Call(ctx, llm.CallRequest{
		RequestID:    state.req.RequestID,
		App:          p.Cfg.AppName,
		Task:         "parse_intent",
		SystemPrompt: "Extract analysis intent from the question. Return JSON with metric, timeframe, dimensions, top_n.",
		UserPrompt:   state.req.Question,
	})
	if err != nil {
		return err
	}
	state.cost.Add(result.Model, result.PromptTokens, result.CompletionTokens, result.USD)

	// Merge the parsed shape under the pre-existing intent: values selected
	// during clarification gating win.
	if parsed, ok := llm.DecodeIntentSpec(result.Text); ok {
		if state.intent.Metric == "" {
			state.intent.Metric = parsed.Metric
		}
		if state.intent.TimeColumn == "" {
			state.intent.TimeColumn = parsed.TimeColumn
		}
		if len(state.intent.Dimensions) == 0 {
			state.intent.Dimensions = parsed.Dimensions
		}
		if state.intent.TopN == 0 {
			if topN, ok := parsed.TopNValue(); ok {
				state.intent.TopN = topN
			}
		}
	}
	state.intent.RawQuestion = state.req.Question
	return nil
}

func (p *Pipeline) planAnalyses(ctx context.Context, state *askState) error {
	planned, diagnostics, plannerCost, err := analytics.BuildHybridQueryPlan(ctx, p.Router, analytics.HybridPlanInput{
		RequestID:      state.req.RequestID,
		App:            p.Cfg.AppName,
		Question:       state.req.Question,
		Meta:           state.meta,
		Clarifications: state.req.Clarifications,
		Intent:         &state.intent,
		MaxQueries:     p.Cfg.QueryMaxPerRequest,
	})
	if err != nil {
		return err
	}
	if plannerCost != nil {
		state.cost.Add(plannerCost.Model, plannerCost.PromptTokens, plannerCost.CompletionTokens, plannerCost.USD)
	}
	state.planned = planned
	state.diagnostics = append(state.diagnostics, diagnostics...)
	return nil
}

func (p *Pipeline) executeQueries(ctx context.Context, state *askState) {
	planned := state.planned
	if len(planned) > p.Cfg.QueryMaxPerRequest {
		state.executionErrors = append(state.executionErrors, analytics.Diagnostic{
			Code: analytics.CodeQueryBudgetExceeded,
			Message: fmt.Sprintf("Planned %d queries, budget is %d. Trimming plan.",
				len(planned), p.Cfg.QueryMaxPerRequest),
		})
		planned = planned[:p.Cfg.QueryMaxPerRequest]
		state.planned = planned
	}

	for _, item := range planned {
		columns, rows, err := p.Executor.ExecuteSafeQuery(ctx, item.SQL)
		if err != nil {
			state.executionErrors = append(state.executionErrors, analytics.Diagnostic{
				Code:    analytics.CodeSQLExecutionError,
				Message: fmt.Sprintf("%s: %s", item.Label, err.Error()),
			})
			continue
		}
		state.executed = append(state.executed, sqlexec.Result{
			Label:   item.Label,
			SQL:     item.SQL,
			Columns: columns,
			Rows:    rows,
		})
	}
}

func (p *Pipeline) validateResults(state *askState) {
	nonEmpty := 0
	for _, result := range state.executed {
		if len(result.Rows) > 0 {
			nonEmpty++
		}
	}
	confidence, diagnostics := analytics.ValidateResults(
		len(state.planned), len(state.executed), nonEmpty,
		state.executionErrors, state.diagnostics,
	)
	state.confidence = confidence
	state.diagnostics = diagnostics
}

func (p *Pipeline) retrieveContext(state *askState) error {
	citations, err := p.Retriever.Retrieve(state.req.Question, p.Cfg.RAGTopK)
	if err != nil {
		return err
	}
	if citations == nil {
		citations = []rag.Citation{}
	}
	state.citations = citations
	return nil
}

func (p *Pipeline) synthesizeExplanation(ctx context.Context, state *askState) error {
	headline, narrative, callResult, err := p.synthesizeNarrative(ctx, state)
	if err != nil {
		return err
	}
	if callResult != nil {
		state.cost.Add(callResult.Model, callResult.PromptTokens, callResult.CompletionTokens, callResult.USD)
	}

	artifacts := make([]SQLArtifact, 0, len(state.executed))
	for _, result := range state.executed {
		artifacts = append(artifacts, SQLArtifact{Label: result.Label, Query: result.SQL})
	}

	state.answer = &Answer{
		Headline:         headline,
		Narrative:        narrative,
		Drivers:          buildDrivers(state.executed),
		Charts:           buildCharts(state.executed),
		SQL:              artifacts,
		Confidence:       state.confidence,
		Diagnostics:      state.diagnostics,
		Cost:             state.cost.Summary(),
		ContextCitations: state.citations,
	}
	return nil
}

func (p *Pipeline) finalizeResponse(state *askState) {
	if state.needsClarification {
		state.answer = nil
		return
	}

	if state.status == statusDatasetNotReady {
		state.confidence = analytics.Confidence{
			Level:   analytics.ConfidenceInsufficient,
			Reasons: []string{"No dataset available."},
		}
		state.answer = &Answer{
			Headline:         "Dataset required",
			Narrative:        "Upload a CSV dataset using POST /upload/dataset before asking analysis questions.",
			Drivers:          []Driver{},
			Charts:           []Chart{},
			SQL:              []SQLArtifact{},
			Confidence:       state.confidence,
			Diagnostics:      state.diagnostics,
			Cost:             state.cost.Summary(),
			ContextCitations: []rag.Citation{},
		}
	}
}

// Summary rolls the trace up into the answer's cost block, with USD rounded
// to 8 decimal places.
func (t *CostTrace) Summary() CostSummary {
	return CostSummary{
		Model:            strings.Join(t.Models, ","),
		PromptTokens:     t.PromptTokens,
		CompletionTokens: t.CompletionTokens,
		USD:              math.Round(t.USD*1e8) / 1e8,
	}
}
