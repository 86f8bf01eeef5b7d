// Package vectorstore persists chunk embeddings under a named index and answers
// nearest-neighbour queries scoped to one index.
package vectorstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrIndexNotFound is returned when querying an index id that was never registered.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexMismatch is returned when an index id is reused with different
	// chunking parameters or embedding dimension.
	ErrIndexMismatch = errors.New("index parameters mismatch")
	// ErrDimensionMismatch is returned for vectors whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// IndexSpec identifies an index and the parameters its chunks were built with.
type IndexSpec struct {
	ID           string
	ChunkSize    int
	ChunkOverlap int
	Dimension    int
}

// Index is the handle to a built index. It is never mutated after the build.
type Index struct {
	IndexSpec
	Documents int
	Chunks    int
	BuiltAt   time.Time
}

type Record struct {
	ChunkID    string
	DocumentID string
	Source     string
	Title      string
	Position   int
	Page       int
	Start      int
	End        int
	Text       string
	Vector     []float32
}

type Match struct {
	Record
	Score float64
}

// Store is the vector database boundary. Query returns matches in the store's
// own ranking order; callers must not re-rank.
type Store interface {
	Register(ctx context.Context, spec IndexSpec) error
	Upsert(ctx context.Context, indexID string, records []Record) error
	Query(ctx context.Context, indexID string, vector []float32, k int) ([]Match, error)
	Count(ctx context.Context, indexID string) (int, error)
	Drop(ctx context.Context, indexID string) error
}

func sameParameters(a, b IndexSpec) bool {
	return a.ChunkSize == b.ChunkSize && a.ChunkOverlap == b.ChunkOverlap && a.Dimension == b.Dimension
}
