package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/fabfab/fiscal-qa/chat"
	"github.com/fabfab/fiscal-qa/config"
	"github.com/fabfab/fiscal-qa/database"
	"github.com/fabfab/fiscal-qa/embeddings"
	"github.com/fabfab/fiscal-qa/ingestion"
	"github.com/fabfab/fiscal-qa/knowledge"
	"github.com/fabfab/fiscal-qa/llm"
	"github.com/fabfab/fiscal-qa/retrieval"
	"github.com/fabfab/fiscal-qa/vectorstore"
)

// backends are the stateful external stores selected by configuration.
type backends struct {
	store  vectorstore.Store
	graph  knowledge.Graph
	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext
}

func openBackends(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.VectorStore {
	case config.StoreMemory:
		logger.Warn("using in-memory vector store; the index is rebuilt on every run")
		b.store = vectorstore.NewMemoryStore()
	default:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		b.pool = pool
		b.store = vectorstore.NewPostgresStore(pool, cfg.Embeddings.Dimension)
	}

	if cfg.GraphEnabled {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			b.Close(ctx)
			return nil, fmt.Errorf("neo4j connection: %w", err)
		}
		b.driver = driver
		b.graph = knowledge.NewNeo4jGraph(driver)
	}

	return b, nil
}

func (b *backends) Close(ctx context.Context) {
	if b.driver != nil {
		_ = b.driver.Close(ctx)
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// storedChunks reads back how many chunks the store holds for index. Fewer
// than the build produced means writes were lost; more means rows from an
// earlier, larger build of the same id are still present.
func storedChunks(ctx context.Context, store vectorstore.Store, index *vectorstore.Index, logger *zap.Logger) (int, error) {
	stored, err := store.Count(ctx, index.ID)
	if err != nil {
		return 0, fmt.Errorf("count stored chunks: %w", err)
	}
	if stored < index.Chunks {
		return stored, fmt.Errorf("index %s: store holds %d chunks but the build produced %d", index.ID, stored, index.Chunks)
	}
	if stored > index.Chunks {
		logger.Warn("store holds chunks from an earlier build",
			zap.String("index", index.ID), zap.Int("stored", stored), zap.Int("built", index.Chunks))
	}
	return stored, nil
}

type app struct {
	*backends
	service *chat.Service
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	llmClient, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}
	segmenter, err := ingestion.NewSegmenter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	synthesizer, err := chat.NewSynthesizer(llmClient, cfg.PrimingTemplate, logger.Named("synthesizer"))
	if err != nil {
		return nil, err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	indexer := ingestion.NewIndexer(segmenter, embedder, b.store, ingestion.IndexerOptions{
		Dimension:         cfg.Embeddings.Dimension,
		BatchSize:         cfg.Embeddings.BatchSize,
		Concurrency:       cfg.Embeddings.Concurrency,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		CallTimeout:       cfg.CallTimeout,
		Graph:             b.graph,
		Logger:            logger.Named("indexer"),
	})

	loader := func(ctx context.Context) ([]ingestion.Document, error) {
		logger.Info("loading documents", zap.String("dir", cfg.DataDir), zap.String("glob", cfg.DataGlob))
		return ingestion.LoadDirectory(ctx, cfg.DataDir, cfg.DataGlob, logger.Named("loader"))
	}

	service := chat.NewService(chat.Dependencies{
		Loader:      loader,
		Indexer:     indexer,
		Retriever:   retrieval.NewRetriever(embedder, b.store, logger.Named("retriever")),
		Synthesizer: synthesizer,
		Graph:       b.graph,
		Logger:      logger.Named("pipeline"),
	}, chat.Config{
		IndexID:     cfg.Index.ID,
		RetrievalK:  cfg.Index.RetrievalK,
		CallTimeout: cfg.CallTimeout,
	})

	return &app{backends: b, service: service}, nil
}
