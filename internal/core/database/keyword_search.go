package db

import (
	"context"
	"strconv"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

var _ core.KeywordSearcher = (*DatabaseClient)(nil)

// SearchKeywords runs a lexical match over a knowledge base's chunks
// using Postgres full-text ranking. Result ids are the chunks'
// vector-entry ids so hybrid fusion can merge them with vector hits.
func (c *DatabaseClient) SearchKeywords(ctx context.Context, kbID, query string, topK int) ([]models.SearchResult, error) {
	const q = `
		SELECT ch.vector_id, ch.content, ch.id, ch.document_id, ch.page_id, ch.chunk_index, d.filename,
		       ts_rank(to_tsvector('simple', ch.content), plainto_tsquery('simple', $2)) AS rank
		FROM document_chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.knowledge_base_id = $1
		  AND to_tsvector('simple', ch.content) @@ plainto_tsquery('simple', $2)
		ORDER BY rank DESC
		LIMIT $3
	`
	rows, err := c.db.QueryContext(ctx, q, kbID, query, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchResult
	for rows.Next() {
		var (
			vectorID       int64
			content        string
			chunkID, docID string
			pageID         *string
			chunkIndex     int
			filename       string
			rank           float64
		)
		if err := rows.Scan(&vectorID, &content, &chunkID, &docID, &pageID, &chunkIndex, &filename, &rank); err != nil {
			return nil, err
		}
		meta := map[string]any{
			"chunk_id":    chunkID,
			"document_id": docID,
			"chunk_index": chunkIndex,
		}
		if pageID != nil {
			meta["page_id"] = *pageID
		}
		out = append(out, models.SearchResult{
			ID:       strconv.FormatInt(vectorID, 10),
			Content:  content,
			Score:    rank,
			Metadata: meta,
			Source:   filename,
		})
	}
	return out, rows.Err()
}
