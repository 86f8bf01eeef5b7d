package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/fiscal-qa/remote"
)

// openAIChat drafts answers through the chat completions endpoint.
type openAIChat struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}
	return &openAIChat{client: openai.NewClientWithConfig(cfg), model: opts.Model}
}

func (c *openAIChat) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", remote.FromOpenAI(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", remote.Permanent(errors.New("openai chat completion stopped by the content filter"))
	}
	return choice.Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
