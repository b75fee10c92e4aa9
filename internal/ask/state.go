// Package ask implements the ask pipeline: an explicit state machine that
// takes a natural-language question plus prior clarifications and produces
// either a clarification request or a grounded answer.
package ask

import (
	"github.com/clash402/dataghost/internal/analytics"
	"github.com/clash402/dataghost/internal/db"
	"github.com/clash402/dataghost/internal/rag"
	"github.com/clash402/dataghost/internal/sqlexec"
)

// stage enumerates the pipeline states. Transitions are strict: within a
// request the sequence never fans out, because confidence grading depends on
// totals across all planned queries.
type stage int

const (
	stageCheckDatasetReady stage = iota
	stageDecideClarification
	stageParseIntent
	stagePlanAnalyses
	stageExecuteQueries
	stageValidateResults
	stageRetrieveContext
	stageSynthesizeExplanation
	stageFinalizeResponse
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageCheckDatasetReady:
		return "check_dataset_ready"
	case stageDecideClarification:
		return "decide_need_clarification"
	case stageParseIntent:
		return "parse_intent"
	case stagePlanAnalyses:
		return "plan_analyses"
	case stageExecuteQueries:
		return "execute_queries"
	case stageValidateResults:
		return "validate_results"
	case stageRetrieveContext:
		return "retrieve_context"
	case stageSynthesizeExplanation:
		return "synthesize_explanation"
	case stageFinalizeResponse:
		return "finalize_response"
	case stageDone:
		return "done"
	}
	return "unknown"
}

// Request statuses.
const (
	statusOK              = "ok"
	statusDatasetNotReady = "dataset_not_ready"

	// StatusCompleted and StatusNeedsClarification are the persisted
	// request-log statuses.
	StatusCompleted          = "completed"
	StatusNeedsClarification = "needs_clarification"
)

// Request is the orchestrator entry input.
type Request struct {
	Question       string
	ConversationID string
	RequestID      string
	Clarifications map[string]string
}

// ClarificationQuestion enumerates one remaining ask back to the caller.
type ClarificationQuestion struct {
	Key     string   `json:"key"`
	Type    string   `json:"type"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// Driver is one ranked contributor in the answer.
type Driver struct {
	Name         string      `json:"name"`
	Contribution float64     `json:"contribution"`
	Evidence     sqlexec.Row `json:"evidence"`
}

// ChartPoint is one (x, y) pair of a chart series.
type ChartPoint struct {
	X any     `json:"x"`
	Y float64 `json:"y"`
}

// Chart is one renderable series.
type Chart struct {
	Kind  string       `json:"kind"`
	Title string       `json:"title"`
	Data  []ChartPoint `json:"data"`
}

// SQLArtifact cites one executed query.
type SQLArtifact struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// CostSummary is the request's cost ledger rollup.
type CostSummary struct {
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USD              float64 `json:"usd"`
}

// Answer is the grounded answer payload.
type Answer struct {
	Headline         string                 `json:"headline"`
	Narrative        string                 `json:"narrative"`
	Drivers          []Driver               `json:"drivers"`
	Charts           []Chart                `json:"charts"`
	SQL              []SQLArtifact          `json:"sql"`
	Confidence       analytics.Confidence   `json:"confidence"`
	Diagnostics      []analytics.Diagnostic `json:"diagnostics"`
	Cost             CostSummary            `json:"cost"`
	ContextCitations []rag.Citation         `json:"context_citations"`
}

// CostTrace accumulates unique model names in insertion order plus summed
// token counts and USD across the request. Totals never decrease.
type CostTrace struct {
	Models           []string
	PromptTokens     int
	CompletionTokens int
	USD              float64
}

// Add records one model call into the trace.
func (t *CostTrace) Add(model string, promptTokens, completionTokens int, usd float64) {
	seen := false
	for _, m := range t.Models {
		if m == model {
			seen = true
			break
		}
	}
	if !seen {
		t.Models = append(t.Models, model)
	}
	t.PromptTokens += promptTokens
	t.CompletionTokens += completionTokens
	t.USD += usd
}

// Result is the pipeline output.
type Result struct {
	RequestID              string
	ConversationID         string
	NeedsClarification     bool
	ClarificationQuestions []ClarificationQuestion
	Answer                 *Answer
	Diagnostics            []analytics.Diagnostic
	CostTrace              CostTrace
}

// Status is the request-log status for this result.
func (r *Result) Status() string {
	if r.NeedsClarification {
		return StatusNeedsClarification
	}
	return StatusCompleted
}

// askState is the mutable per-request state, owned exclusively by the
// pipeline run.
type askState struct {
	req    Request
	meta   *db.DatasetMeta
	status string

	needsClarification     bool
	clarificationQuestions []ClarificationQuestion

	intent          analytics.Intent
	planned         []analytics.PlannedQuery
	executed        []sqlexec.Result
	executionErrors []analytics.Diagnostic
	diagnostics     []analytics.Diagnostic
	confidence      analytics.Confidence
	citations       []rag.Citation
	answer          *Answer
	cost            CostTrace
}
