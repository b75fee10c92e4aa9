// Package llm routes chat-model calls through per-request and per-day USD
// guardrails, persisting every call to the cost ledger.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/clash402/dataghost/internal/config"
)

// Prompt is one system+user prompt pair.
type Prompt struct {
	System string
	User   string
}

// CallResult is the outcome of one provider call.
type CallResult struct {
	Text             string
	Model            string
	Provider         string
	PromptTokens     int
	CompletionTokens int
	USD              float64
}

// Provider abstracts the upstream chat-model API.
type Provider interface {
	Name() string
	Call(ctx context.Context, model string, prompt Prompt) (*CallResult, error)
}

// ProviderFromConfig selects the configured provider. Unknown names fall back
// to the mock provider.
func ProviderFromConfig(cfg *config.Config) (Provider, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	default:
		return NewMockProvider(cfg), nil
	}
}

// MockProvider returns a deterministic JSON echo of the user prompt. It is
// the default provider for development and tests.
type MockProvider struct {
	cfg *config.Config
}

// NewMockProvider builds a mock provider priced from the configuration.
func NewMockProvider(cfg *config.Config) *MockProvider {
	return &MockProvider{cfg: cfg}
}

// Name implements Provider.
func (p *MockProvider) Name() string { return "mock" }

// Call implements Provider.
func (p *MockProvider) Call(_ context.Context, model string, prompt Prompt) (*CallResult, error) {
	user := strings.TrimSpace(prompt.User)
	if len(user) > 300 {
		user = user[:300]
	}
	response, err := json.Marshal(map[string]string{
		"summary": user,
		"note":    "mock-provider-response",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding mock response: %w", err)
	}

	promptTokens := countTokens(prompt.System + "\n" + prompt.User)
	completionTokens := countTokens(string(response))
	return &CallResult{
		Text:             string(response),
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		USD:              estimatePrice(p.cfg, promptTokens, completionTokens),
	}, nil
}

// countTokens approximates token usage as whitespace-split word count.
func countTokens(text string) int {
	return len(strings.Fields(text))
}

// estimatePrice converts token counts to USD at the configured per-1000
// prices, rounded to 8 decimal places.
func estimatePrice(cfg *config.Config, promptTokens, completionTokens int) float64 {
	prompt := float64(promptTokens) / 1000 * cfg.LLMPricePromptPer1K
	completion := float64(completionTokens) / 1000 * cfg.LLMPriceCompletionPer1K
	return round8(prompt + completion)
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
