package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fabfab/fiscal-qa/embeddings"
	"github.com/fabfab/fiscal-qa/knowledge"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

// ErrIndexBuild wraps every failure of the one-time index build. A failed
// build yields no Index.
var ErrIndexBuild = errors.New("index build failed")

const (
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

type IndexerOptions struct {
	Dimension         int
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64
	// CallTimeout bounds each embedding request; zero means no limit.
	CallTimeout time.Duration
	// Graph, when set, receives a copy of each indexed document.
	Graph  knowledge.Graph
	Logger *zap.Logger
}

type Indexer struct {
	segmenter   *Segmenter
	embedder    embeddings.Embedder
	store       vectorstore.Store
	graph       knowledge.Graph
	limiter     *rate.Limiter
	logger      *zap.Logger
	dimension   int
	batchSize   int
	concurrency int
	callTimeout time.Duration
}

func NewIndexer(segmenter *Segmenter, embedder embeddings.Embedder, store vectorstore.Store, opts IndexerOptions) *Indexer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Indexer{
		segmenter:   segmenter,
		embedder:    embedder,
		store:       store,
		graph:       opts.Graph,
		limiter:     rate.NewLimiter(limit, opts.Concurrency),
		logger:      opts.Logger,
		dimension:   opts.Dimension,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		callTimeout: opts.CallTimeout,
	}
}

// ChunkID is deterministic in (index, document, position) so rebuilding an
// unchanged corpus upserts the same rows.
func ChunkID(indexID, documentID string, position int) string {
	name := indexID + "|" + documentID + "|" + strconv.Itoa(position)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// BuildIndex segments docs, embeds every chunk and registers the result under
// indexID in the vector store.
func (ix *Indexer) BuildIndex(ctx context.Context, indexID string, docs []Document) (*vectorstore.Index, error) {
	if ix.segmenter == nil {
		return nil, fmt.Errorf("%w: segmenter not configured", ErrIndexBuild)
	}
	if ix.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", ErrIndexBuild)
	}
	if ix.store == nil {
		return nil, fmt.Errorf("%w: vector store not configured", ErrIndexBuild)
	}
	if indexID == "" {
		return nil, fmt.Errorf("%w: index id is required", ErrIndexBuild)
	}

	started := time.Now()
	spec := vectorstore.IndexSpec{
		ID:           indexID,
		ChunkSize:    ix.segmenter.ChunkSize(),
		ChunkOverlap: ix.segmenter.ChunkOverlap(),
		Dimension:    ix.dimension,
	}

	chunks := make([]Chunk, 0)
	for _, doc := range docs {
		chunks = append(chunks, ix.segmenter.Segment(doc)...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks to index", ErrIndexBuild)
	}

	// Registering pins the id to these parameters, so only a corpus that
	// produced chunks gets that far.
	if err := ix.store.Register(ctx, spec); err != nil {
		return nil, fmt.Errorf("%w: register index %s: %w", ErrIndexBuild, indexID, err)
	}

	ix.logger.Info("embedding chunks",
		zap.String("index", indexID),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Int("chunk_size", spec.ChunkSize),
		zap.Int("chunk_overlap", spec.ChunkOverlap))

	vectors, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: generate embeddings: %w", ErrIndexBuild, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.Record{
			ChunkID:    ChunkID(indexID, chunk.DocumentID, chunk.Position),
			DocumentID: chunk.DocumentID,
			Source:     chunk.Source,
			Title:      chunk.Title,
			Position:   chunk.Position,
			Page:       chunk.Page,
			Start:      chunk.Start,
			End:        chunk.End,
			Text:       chunk.Text,
			Vector:     vectors[i],
		}
	}

	if err := ix.store.Upsert(ctx, indexID, records); err != nil {
		return nil, fmt.Errorf("%w: upsert vectors: %w", ErrIndexBuild, err)
	}

	if ix.graph != nil {
		ix.syncGraph(ctx, indexID, docs, records)
	}

	index := &vectorstore.Index{
		IndexSpec: spec,
		Documents: len(docs),
		Chunks:    len(records),
		BuiltAt:   time.Now(),
	}
	ix.logger.Info("index built",
		zap.String("index", indexID),
		zap.Int("chunks", index.Chunks),
		zap.Duration("elapsed", time.Since(started)))
	return index, nil
}

func (ix *Indexer) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := start + ix.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		g.Go(func() error {
			if err := ix.limiter.Wait(gctx); err != nil {
				return err
			}

			texts := make([]string, 0, end-start)
			for _, chunk := range chunks[start:end] {
				texts = append(texts, chunk.Text)
			}

			callCtx, cancel := withTimeout(gctx, ix.callTimeout)
			batch, err := ix.embedder.Embed(callCtx, texts)
			cancel()
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(texts), len(batch))
			}
			for i, vec := range batch {
				if ix.dimension > 0 && len(vec) != ix.dimension {
					return fmt.Errorf("%w: expected %d, got %d", vectorstore.ErrDimensionMismatch, ix.dimension, len(vec))
				}
				vectors[start+i] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (ix *Indexer) syncGraph(ctx context.Context, indexID string, docs []Document, records []vectorstore.Record) {
	byDoc := make(map[string][]knowledge.Chunk, len(docs))
	for _, rec := range records {
		byDoc[rec.DocumentID] = append(byDoc[rec.DocumentID], knowledge.Chunk{
			ID:    rec.ChunkID,
			Index: rec.Position,
			Page:  rec.Page,
			Text:  rec.Text,
		})
	}

	for _, doc := range docs {
		err := ix.graph.SyncDocument(ctx, knowledge.Document{
			IndexID: indexID,
			ID:      doc.ID,
			Path:    doc.Path,
			Title:   doc.Title,
			Pages:   len(doc.PageOffsets),
			Chunks:  byDoc[doc.ID],
		})
		if err != nil {
			ix.logger.Warn("sync knowledge graph", zap.String("path", doc.Path), zap.Error(err))
		}
	}
}
