// Package knowledge mirrors indexed documents and chunks into Neo4j and reads
// per-document insights back for answer sources.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Document struct {
	IndexID string
	ID      string
	Path    string
	Title   string
	Pages   int
	Chunks  []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Page  int
	Text  string
}

// DocumentInsight summarises what the graph knows about a source document.
type DocumentInsight struct {
	ChunkCount int    `json:"chunk_count"`
	Pages      int    `json:"pages"`
	Title      string `json:"title"`
}

// Graph is the optional knowledge-graph collaborator of the indexer and the
// answer pipeline.
type Graph interface {
	SyncDocument(ctx context.Context, doc Document) error
	DocumentInsights(ctx context.Context, indexID string, docIDs []string) (map[string]DocumentInsight, error)
	Purge(ctx context.Context, indexID string) error
}

type Neo4jGraph struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraph(driver neo4j.DriverWithContext) *Neo4jGraph {
	return &Neo4jGraph{driver: driver}
}

// SyncDocument replaces the document node and its chunk nodes for one index.
func (g *Neo4jGraph) SyncDocument(ctx context.Context, doc Document) error {
	return SyncDocument(ctx, g.driver, doc)
}

func SyncDocument(ctx context.Context, driver neo4j.DriverWithContext, doc Document) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	params := map[string]any{
		"index_id": doc.IndexID,
		"id":       doc.ID,
		"path":     doc.Path,
		"title":    doc.Title,
		"pages":    doc.Pages,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (i:Index {id: $index_id})
			MERGE (d:Document {id: $id, index_id: $index_id})
			SET d.path = $path,
			    d.title = $title,
			    d.pages = $pages,
			    d.updated_at = datetime()
			MERGE (i)-[:CONTAINS]->(d)
		`, params); err != nil {
			return nil, fmt.Errorf("upsert document node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id, index_id: $index_id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}

		rows := make([]map[string]any, 0, len(doc.Chunks))
		for _, chunk := range doc.Chunks {
			rows = append(rows, map[string]any{
				"chunk_id":    chunk.ID,
				"chunk_index": chunk.Index,
				"chunk_page":  chunk.Page,
				"chunk_text":  chunk.Text,
			})
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id, index_id: $index_id})
			UNWIND $chunks AS row
			MERGE (c:Chunk {id: row.chunk_id})
			SET c.index = row.chunk_index,
			    c.page = row.chunk_page,
			    c.text = row.chunk_text
			MERGE (d)-[:HAS_CHUNK {order: row.chunk_index}]->(c)
		`, map[string]any{"id": doc.ID, "index_id": doc.IndexID, "chunks": rows}); err != nil {
			return nil, fmt.Errorf("upsert chunk nodes: %w", err)
		}

		return nil, nil
	})

	return err
}

func (g *Neo4jGraph) DocumentInsights(ctx context.Context, indexID string, docIDs []string) (map[string]DocumentInsight, error) {
	if g.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(docIDs) == 0 {
		return map[string]DocumentInsight{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document {index_id: $index_id})
		WHERE d.id IN $ids
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		RETURN d.id AS id,
		       d.title AS title,
		       d.pages AS pages,
		       count(DISTINCT c) AS chunkCount
	`, map[string]any{"index_id": indexID, "ids": docIDs})
	if err != nil {
		return nil, fmt.Errorf("run neo4j insights query: %w", err)
	}

	insights := make(map[string]DocumentInsight, len(docIDs))
	for result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("id")
		title, _ := record.Get("title")
		pages, _ := record.Get("pages")
		count, _ := record.Get("chunkCount")

		docID, ok := id.(string)
		if !ok {
			continue
		}
		titleStr, _ := title.(string)
		pageCount, _ := toInt(pages)
		chunkCount, _ := toInt(count)

		insights[docID] = DocumentInsight{
			ChunkCount: chunkCount,
			Pages:      pageCount,
			Title:      titleStr,
		}
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j insights result error: %w", err)
	}

	return insights, nil
}

// Purge removes the index node with its documents and chunks.
func (g *Neo4jGraph) Purge(ctx context.Context, indexID string) error {
	if g.driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	queries := []string{
		"MATCH (:Document {index_id: $index_id})-[:HAS_CHUNK]->(c:Chunk) DETACH DELETE c",
		"MATCH (d:Document {index_id: $index_id}) DETACH DELETE d",
		"MATCH (i:Index {id: $index_id}) DETACH DELETE i",
	}

	for _, query := range queries {
		result, err := session.Run(ctx, query, map[string]any{"index_id": indexID})
		if err != nil {
			return fmt.Errorf("purge index %s: %w", indexID, err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("purge index %s: %w", indexID, err)
		}
	}
	return nil
}

var _ Graph = (*Neo4jGraph)(nil)

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
