package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// AnthropicComposer composes articles with the Messages API.
type AnthropicComposer struct {
	client    *anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicComposer constructs a composer for model.
func NewAnthropicComposer(apiKey, model string, opts ...option.RequestOption) (*AnthropicComposer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key required")
	}
	if strings.TrimSpace(model) == "" {
		model = "claude-haiku-4-5"
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &AnthropicComposer{client: &client, model: anthropic.Model(model), maxTokens: 4096}, nil
}

// Compose implements Composer.
func (c *AnthropicComposer) Compose(ctx context.Context, mergedText string) (Composition, error) {
	const op = "anthropic.compose"
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: composeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(composeUserPrompt(mergedText))),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Composition{}, failure.FromStatus(op, apiErr.StatusCode, fmt.Errorf("anthropic API error: %w", err))
		}
		return Composition{}, failure.Transient(op, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return Composition{}, failure.Rejected(op, errors.New("no response from anthropic"))
	}
	return ParseComposition(sb.String()), nil
}
