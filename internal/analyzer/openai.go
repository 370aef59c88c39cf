package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/lifelog-publisher/internal/failure"
)

// OpenAIComposer composes articles with the Chat Completions API.
type OpenAIComposer struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAIComposer constructs a composer for model. Extra request options
// (base URL, retries) are passed through to the SDK.
func NewOpenAIComposer(apiKey, model string, opts ...option.RequestOption) (*OpenAIComposer, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIComposer{client: &client, model: openai.ChatModel(model)}, nil
}

// Compose implements Composer.
func (c *OpenAIComposer) Compose(ctx context.Context, mergedText string) (Composition, error) {
	const op = "openai.compose"
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(composeSystemPrompt),
			openai.UserMessage(composeUserPrompt(mergedText)),
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Composition{}, failure.FromStatus(op, apiErr.StatusCode, fmt.Errorf("openai API error: %w", err))
		}
		return Composition{}, failure.Transient(op, err)
	}
	if len(resp.Choices) == 0 {
		return Composition{}, failure.Rejected(op, errors.New("no response from openai"))
	}
	return ParseComposition(resp.Choices[0].Message.Content), nil
}
