package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/clash402/dataghost/internal/config"
)

const anthropicMaxRetries = 3

// AnthropicProvider calls the Anthropic Messages API with retry on transient
// failures.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    *config.Config
}

// NewAnthropicProvider builds a provider from ANTHROPIC_API_KEY.
func NewAnthropicProvider(cfg *config.Config) (*AnthropicProvider, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY")
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		cfg:    cfg,
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Call implements Provider.
func (p *AnthropicProvider) Call(ctx context.Context, model string, prompt Prompt) (*CallResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: prompt.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)),
		},
	}

	var message *anthropic.Message
	operation := func() error {
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		message = resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), anthropicMaxRetries), ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("anthropic call: %w", err)
	}

	if len(message.Content) == 0 {
		return nil, fmt.Errorf("anthropic call: response has no content blocks")
	}
	block := message.Content[0]
	if block.Type != "text" {
		return nil, fmt.Errorf("anthropic call: unexpected content block type %q", block.Type)
	}

	promptTokens := int(message.Usage.InputTokens)
	completionTokens := int(message.Usage.OutputTokens)
	return &CallResult{
		Text:             block.Text,
		Model:            model,
		Provider:         p.Name(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		USD:              estimatePrice(p.cfg, promptTokens, completionTokens),
	}, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
