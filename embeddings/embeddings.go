// Package embeddings turns text into fixed-dimension vectors through an
// external embedding model.
package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/fiscal-qa/config"
	"github.com/fabfab/fiscal-qa/remote"
)

// Embedder returns one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// NewEmbedder builds the provider named by cfg.Embeddings. Batches that fail
// on rate limits, server errors or the network are retried up to
// cfg.Embeddings.MaxRetries times.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	var embedder Embedder
	switch opts.Provider {
	case config.ProviderOllama:
		embedder = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: openai embeddings need OPENAI_API_KEY", config.ErrConfiguration)
		}
		embedder = NewOpenAIEmbedder(opts)
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider: %s", config.ErrConfiguration, opts.Provider)
	}

	if cfg.Embeddings.MaxRetries > 0 {
		embedder = WithRetry(embedder, remote.Policy{
			MaxRetries:  cfg.Embeddings.MaxRetries,
			MinInterval: 250 * time.Millisecond,
			MaxInterval: 5 * time.Second,
		})
	}
	return embedder, nil
}

type retryEmbedder struct {
	next    Embedder
	retrier *remote.Retrier
}

// WithRetry re-sends a whole batch when it fails transiently.
func WithRetry(next Embedder, p remote.Policy) Embedder {
	return &retryEmbedder{next: next, retrier: remote.NewRetrier(p)}
}

func (e *retryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return remote.Do(ctx, e.retrier, func(ctx context.Context) ([][]float32, error) {
		return e.next.Embed(ctx, texts)
	})
}
