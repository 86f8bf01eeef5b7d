package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureRAGSchema creates the pgvector tables. Every chunk row belongs to one
// index id; rag_indexes records the chunking parameters of each id.
func EnsureRAGSchema(ctx context.Context, pool *pgxpool.Pool, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_indexes (
			id TEXT PRIMARY KEY,
			chunk_size INT NOT NULL,
			chunk_overlap INT NOT NULL,
			dimension INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rag_chunks (
			id UUID PRIMARY KEY,
			index_id TEXT NOT NULL REFERENCES rag_indexes(id) ON DELETE CASCADE,
			document_id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			title TEXT,
			position INT NOT NULL,
			page INT NOT NULL DEFAULT 0,
			start_offset INT NOT NULL,
			end_offset INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(index_id, document_id, position)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_index ON rag_chunks(index_id)",
		"CREATE INDEX IF NOT EXISTS idx_rag_chunks_embedding ON rag_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
