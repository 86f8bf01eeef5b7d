package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/fiscal-qa/remote"
)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
	}
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", remote.FromOpenAI(err))
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	results := make([][]float32, len(resp.Data))
	for _, datum := range resp.Data {
		i := datum.Index
		if i < 0 || i >= len(results) {
			return nil, fmt.Errorf("openai embedding index %d out of range", i)
		}
		if e.dimension > 0 && len(datum.Embedding) != e.dimension {
			return nil, remote.Permanent(fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding)))
		}
		results[i] = datum.Embedding
	}

	return results, nil
}
