package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/clash402/dataghost/internal/config"
	"github.com/clash402/dataghost/internal/db"
)

// DisabledError is raised before any provider call when the configuration
// disables model usage.
type DisabledError struct{}

func (e *DisabledError) Error() string {
	return "LLM calls are disabled by configuration (llm_enabled=false)."
}

// BudgetExceededError is raised when the projected spend of a call would
// cross the per-request or per-day USD cap.
type BudgetExceededError struct {
	msg string
}

func (e *BudgetExceededError) Error() string {
	return e.msg
}

// ProviderError wraps upstream provider failures.
type ProviderError struct {
	err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model provider failure: %v", e.err)
}

func (e *ProviderError) Unwrap() error {
	return e.err
}

// CallRequest describes one routed model call.
type CallRequest struct {
	RequestID       string
	App             string
	Task            string
	SystemPrompt    string
	UserPrompt      string
	PreferExpensive bool
}

// Router selects a model per task, enforces budgets against the ledger, and
// persists a ledger entry for every completed call.
type Router struct {
	cfg      *config.Config
	db       *db.DB
	provider Provider
	logger   *log.Logger
	now      func() time.Time
}

// NewRouter builds a router over the given provider.
func NewRouter(cfg *config.Config, database *db.DB, provider Provider, logger *log.Logger) *Router {
	return &Router{
		cfg:      cfg,
		db:       database,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *Router) selectModel(task string, preferExpensive bool) string {
	switch task {
	case "synthesize_explanation":
		return r.cfg.LLMExpensiveModel
	case "default":
		return r.cfg.LLMDefaultModel
	}
	if preferExpensive {
		return r.cfg.LLMExpensiveModel
	}
	return r.cfg.LLMCheapModel
}

func (r *Router) enforceBudget(requestID string, estimatedUSD float64) error {
	requestSpend, err := r.db.RequestSpendUSD(requestID)
	if err != nil {
		return err
	}
	projectedRequest := requestSpend + estimatedUSD
	if projectedRequest > r.cfg.LLMMaxUSDPerRequest {
		return &BudgetExceededError{msg: fmt.Sprintf(
			"Per-request budget exceeded: projected $%.4f > $%.4f",
			projectedRequest, r.cfg.LLMMaxUSDPerRequest,
		)}
	}

	now := r.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dailySpend, err := r.db.GlobalSpendUSDSince(dayStart)
	if err != nil {
		return err
	}
	projectedDaily := dailySpend + estimatedUSD
	if projectedDaily > r.cfg.LLMMaxUSDPerDay {
		return &BudgetExceededError{msg: fmt.Sprintf(
			"Daily budget exceeded: projected $%.4f > $%.4f",
			projectedDaily, r.cfg.LLMMaxUSDPerDay,
		)}
	}
	return nil
}

// Call routes one model call. The budget projection runs before the call;
// the ledger entry records provider-returned token counts after it.
func (r *Router) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	if !r.cfg.LLMEnabled {
		return nil, &DisabledError{}
	}

	model := r.selectModel(req.Task, req.PreferExpensive)

	promptTokens := countTokens(req.SystemPrompt + "\n" + req.UserPrompt)
	estimatedCompletion := r.cfg.LLMEstimatedCompletionTokens
	if estimatedCompletion < 1 {
		estimatedCompletion = 1
	}
	estimatedUSD := estimatePrice(r.cfg, promptTokens, estimatedCompletion)
	if err := r.enforceBudget(req.RequestID, estimatedUSD); err != nil {
		return nil, err
	}

	result, err := r.provider.Call(ctx, model, Prompt{System: req.SystemPrompt, User: req.UserPrompt})
	if err != nil {
		return nil, &ProviderError{err: err}
	}

	entry := &db.LedgerEntry{
		ID:               uuid.NewString(),
		RequestID:        req.RequestID,
		App:              req.App,
		Provider:         result.Provider,
		Model:            result.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		USD:              result.USD,
		CreatedAt:        r.now(),
		Metadata: map[string]string{
			"task":                  req.Task,
			"system_prompt_preview": preview(req.SystemPrompt),
			"user_prompt_preview":   preview(req.UserPrompt),
		},
	}
	if err := r.db.InsertCostLedger(entry); err != nil {
		return nil, err
	}

	r.logger.Debug("model call completed",
		"request_id", req.RequestID,
		"task", req.Task,
		"model", result.Model,
		"usd", result.USD,
	)
	return result, nil
}

func preview(text string) string {
	if len(text) > 160 {
		return text[:160]
	}
	return text
}
