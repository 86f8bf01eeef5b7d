package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/fiscal-qa/database"
)

// PostgresStore keeps every index in the shared rag_chunks table, scoped by
// index_id, and ranks by pgvector L2 distance.
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewPostgresStore(pool *pgxpool.Pool, dimension int) *PostgresStore {
	return &PostgresStore{pool: pool, dimension: dimension}
}

func (s *PostgresStore) Register(ctx context.Context, spec IndexSpec) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if spec.Dimension != s.dimension {
		return fmt.Errorf("%w: store dimension %d, index %s wants %d", ErrIndexMismatch, s.dimension, spec.ID, spec.Dimension)
	}
	if err := database.EnsureRAGSchema(ctx, s.pool, s.dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO rag_indexes (id, chunk_size, chunk_overlap, dimension, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`, spec.ID, spec.ChunkSize, spec.ChunkOverlap, spec.Dimension); err != nil {
		return fmt.Errorf("insert index %s: %w", spec.ID, err)
	}

	var existing IndexSpec
	existing.ID = spec.ID
	if err := s.pool.QueryRow(ctx,
		"SELECT chunk_size, chunk_overlap, dimension FROM rag_indexes WHERE id = $1", spec.ID,
	).Scan(&existing.ChunkSize, &existing.ChunkOverlap, &existing.Dimension); err != nil {
		return fmt.Errorf("load index %s: %w", spec.ID, err)
	}

	if !sameParameters(existing, spec) {
		return fmt.Errorf("%w: %s registered with size=%d overlap=%d dim=%d", ErrIndexMismatch,
			spec.ID, existing.ChunkSize, existing.ChunkOverlap, existing.Dimension)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, indexID string, records []Record) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		if len(rec.Vector) != s.dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.dimension, len(rec.Vector))
		}
		chunkID, parseErr := uuid.Parse(rec.ChunkID)
		if parseErr != nil {
			return fmt.Errorf("parse chunk id %q: %w", rec.ChunkID, parseErr)
		}
		batch.Queue(`
			INSERT INTO rag_chunks (id, index_id, document_id, source_path, title, position, page,
				start_offset, end_offset, content, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE
			SET content = EXCLUDED.content,
			    embedding = EXCLUDED.embedding,
			    page = EXCLUDED.page,
			    updated_at = NOW()
		`, chunkID, indexID, rec.DocumentID, rec.Source, rec.Title, rec.Position, rec.Page,
			rec.Start, rec.End, rec.Text, pgvector.NewVector(rec.Vector))
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	results := tx.SendBatch(ctx, batch)
	for i := range records {
		if _, execErr := results.Exec(); execErr != nil {
			_ = results.Close()
			return fmt.Errorf("upsert chunk %d: %w", i, execErr)
		}
	}
	if err = results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, indexID string, vector []float32, k int) ([]Match, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if k <= 0 {
		k = 4
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM rag_indexes WHERE id = $1)", indexID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup index: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}

	probes := k * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT
			id,
			document_id,
			source_path,
			COALESCE(title, ''),
			position,
			page,
			start_offset,
			end_offset,
			content,
			(embedding <-> $2::vector) AS distance
		FROM rag_chunks
		WHERE index_id = $1
		ORDER BY embedding <-> $2::vector
		LIMIT $3
	`, indexID, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]Match, 0, k)
	for rows.Next() {
		var (
			item     Match
			chunkID  uuid.UUID
			distance float64
		)
		if scanErr := rows.Scan(&chunkID, &item.DocumentID, &item.Source, &item.Title, &item.Position, &item.Page,
			&item.Start, &item.End, &item.Text, &distance); scanErr != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", scanErr)
		}
		item.ChunkID = chunkID.String()
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return results, nil
}

func (s *PostgresStore) Count(ctx context.Context, indexID string) (int, error) {
	if s.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}

	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(c.id)
		FROM rag_indexes i
		LEFT JOIN rag_chunks c ON c.index_id = i.id
		WHERE i.id = $1
		GROUP BY i.id
	`, indexID).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Drop(ctx context.Context, indexID string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM rag_indexes WHERE id = $1", indexID); err != nil {
		return fmt.Errorf("drop index %s: %w", indexID, err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
