// Package retrieval selects the chunks most similar to a question from a
// built index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fabfab/fiscal-qa/embeddings"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

// ErrRetrieval wraps every failure to produce context for a question,
// including an empty result.
var ErrRetrieval = errors.New("retrieval failed")

// DefaultK is the number of chunks retrieved when the caller passes k <= 0.
const DefaultK = 4

// Context is the query plus its nearest chunks in store order.
type Context struct {
	Query   string
	Matches []vectorstore.Match
}

// DocumentIDs returns the distinct source documents, first occurrence first.
func (c Context) DocumentIDs() []string {
	seen := make(map[string]struct{}, len(c.Matches))
	ids := make([]string, 0, len(c.Matches))
	for _, m := range c.Matches {
		if _, ok := seen[m.DocumentID]; ok {
			continue
		}
		seen[m.DocumentID] = struct{}{}
		ids = append(ids, m.DocumentID)
	}
	return ids
}

type Retriever struct {
	embedder embeddings.Embedder
	store    vectorstore.Store
	logger   *zap.Logger
}

func NewRetriever(embedder embeddings.Embedder, store vectorstore.Store, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{embedder: embedder, store: store, logger: logger}
}

// Retrieve embeds query and returns up to k chunks of index, most similar
// first. The store's order is kept as is.
func (r *Retriever) Retrieve(ctx context.Context, index *vectorstore.Index, query string, k int) (Context, error) {
	if index == nil || index.ID == "" {
		return Context{}, fmt.Errorf("%w: index not built", ErrRetrieval)
	}
	if index.Chunks == 0 {
		return Context{}, fmt.Errorf("%w: index %s is empty", ErrRetrieval, index.ID)
	}
	if strings.TrimSpace(query) == "" {
		return Context{}, fmt.Errorf("%w: empty query", ErrRetrieval)
	}
	if k <= 0 {
		k = DefaultK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Context{}, fmt.Errorf("%w: embed query: %w", ErrRetrieval, err)
	}
	if len(vectors) != 1 {
		return Context{}, fmt.Errorf("%w: expected 1 query embedding, got %d", ErrRetrieval, len(vectors))
	}

	matches, err := r.store.Query(ctx, index.ID, vectors[0], k)
	if err != nil {
		return Context{}, fmt.Errorf("%w: query vector store: %w", ErrRetrieval, err)
	}
	if len(matches) == 0 {
		return Context{}, fmt.Errorf("%w: no matching chunks in index %s", ErrRetrieval, index.ID)
	}
	if len(matches) > k {
		matches = matches[:k]
	}

	r.logger.Debug("retrieved context",
		zap.String("index", index.ID),
		zap.Int("k", k),
		zap.Int("matches", len(matches)),
		zap.Float64("top_score", matches[0].Score))

	return Context{Query: query, Matches: matches}, nil
}
