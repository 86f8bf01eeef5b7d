// Package llm wraps the generative text service used to draft answers.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/fiscal-qa/config"
	"github.com/fabfab/fiscal-qa/remote"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string
	Content string
}

// Client performs a single-shot completion over the given messages.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewClient builds the configured provider client. When cfg.LLM.MaxRetries is
// positive, transient failures are retried with exponential backoff.
func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var client Client
	switch opts.Provider {
	case config.ProviderOllama:
		client = NewOllamaClient(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		client = NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}

	if cfg.LLM.MaxRetries > 0 {
		client = WithRetry(client, remote.Policy{
			MaxRetries:  cfg.LLM.MaxRetries,
			MinInterval: 500 * time.Millisecond,
			MaxInterval: 10 * time.Second,
		})
	}
	return client, nil
}
