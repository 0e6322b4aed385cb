package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/agonx-ai/agonx-knowledge/internal/config"
	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	sqldb.SetMaxOpenConns(20)
	sqldb.SetMaxIdleConns(10)
	sqldb.SetConnMaxLifetime(30 * time.Minute)
	sqldb.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, sqldb); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: sqldb}, nil
}

var _ core.DbClient = (*DatabaseClient)(nil)

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// DB exposes the underlying pool for collaborators that share the same
// Postgres instance (keyword index, pgvector collections).
func (c *DatabaseClient) DB() *sql.DB { return c.db }

// Knowledge bases

func (c *DatabaseClient) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	if kb == nil {
		return errors.New("nil knowledge base")
	}
	const q = `
		INSERT INTO knowledge_bases
			(id, user_id, name, description, collection_name,
			 chunk_size, chunk_overlap, top_k, top_n, similarity_threshold, search_mode, rerank_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := c.db.ExecContext(ctx, q,
		kb.ID, kb.UserID, kb.Name, kb.Description, kb.CollectionName,
		kb.ChunkSize, kb.ChunkOverlap, kb.TopK, kb.TopN, kb.SimilarityThreshold, kb.SearchMode, kb.RerankEnabled)
	return err
}

func (c *DatabaseClient) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	const q = `
		SELECT id, user_id, name, description, collection_name,
		       chunk_size, chunk_overlap, top_k, top_n, similarity_threshold, search_mode, rerank_enabled,
		       created_at, updated_at
		FROM knowledge_bases WHERE id = $1
	`
	var kb models.KnowledgeBase
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&kb.ID, &kb.UserID, &kb.Name, &kb.Description, &kb.CollectionName,
		&kb.ChunkSize, &kb.ChunkOverlap, &kb.TopK, &kb.TopN, &kb.SimilarityThreshold, &kb.SearchMode, &kb.RerankEnabled,
		&kb.CreatedAt, &kb.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge base %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (c *DatabaseClient) ListKnowledgeBasesByUser(ctx context.Context, userID string) ([]models.KnowledgeBase, error) {
	const q = `
		SELECT id, user_id, name, description, collection_name,
		       chunk_size, chunk_overlap, top_k, top_n, similarity_threshold, search_mode, rerank_enabled,
		       created_at, updated_at
		FROM knowledge_bases
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeBase
	for rows.Next() {
		var kb models.KnowledgeBase
		if err := rows.Scan(
			&kb.ID, &kb.UserID, &kb.Name, &kb.Description, &kb.CollectionName,
			&kb.ChunkSize, &kb.ChunkOverlap, &kb.TopK, &kb.TopN, &kb.SimilarityThreshold, &kb.SearchMode, &kb.RerankEnabled,
			&kb.CreatedAt, &kb.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, kb)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateRetrievalConfig(ctx context.Context, kb *models.KnowledgeBase) error {
	const q = `
		UPDATE knowledge_bases
		SET chunk_size = $2, chunk_overlap = $3, top_k = $4, top_n = $5,
		    similarity_threshold = $6, search_mode = $7, rerank_enabled = $8, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		kb.ID, kb.ChunkSize, kb.ChunkOverlap, kb.TopK, kb.TopN,
		kb.SimilarityThreshold, kb.SearchMode, kb.RerankEnabled)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge base %s: %w", kb.ID, core.ErrNotFound)
	}
	return nil
}

// DeleteKnowledgeBase removes the row; documents, pages, elements and
// chunks go with it through ON DELETE CASCADE. The vector collection is
// dropped by the knowledge service before this call.
func (c *DatabaseClient) DeleteKnowledgeBase(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge base %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := marshalJSON(doc.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO documents
			(id, knowledge_base_id, filename, file_path, file_size, file_type,
			 chunk_count, status, error_message, metadata, content_type, page_count, has_images, has_tables)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.FilePath, doc.FileSize, doc.FileType,
		doc.ChunkCount, doc.Status, doc.ErrorMessage, meta, doc.ContentType, doc.PageCount, doc.HasImages, doc.HasTables)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, knowledge_base_id, filename, file_path, file_size, file_type,
		       chunk_count, status, error_message, metadata, content_type, page_count, has_images, has_tables,
		       created_at, updated_at
		FROM documents WHERE id = $1
	`
	var (
		d    models.Document
		meta []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.KnowledgeBaseID, &d.Filename, &d.FilePath, &d.FileSize, &d.FileType,
		&d.ChunkCount, &d.Status, &d.ErrorMessage, &meta, &d.ContentType, &d.PageCount, &d.HasImages, &d.HasTables,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &d.Metadata); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByKnowledgeBase(ctx context.Context, kbID string) ([]models.Document, error) {
	const q = `
		SELECT id, knowledge_base_id, filename, file_path, file_size, file_type,
		       chunk_count, status, error_message, metadata, content_type, page_count, has_images, has_tables,
		       created_at, updated_at
		FROM documents
		WHERE knowledge_base_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var (
			d    models.Document
			meta []byte
		)
		if err := rows.Scan(
			&d.ID, &d.KnowledgeBaseID, &d.Filename, &d.FilePath, &d.FileSize, &d.FileType,
			&d.ChunkCount, &d.Status, &d.ErrorMessage, &meta, &d.ContentType, &d.PageCount, &d.HasImages, &d.HasTables,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(meta, &d.Metadata); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	const q = `
		UPDATE documents
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, errorMessage)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// UpdateDocumentDerived persists the counts and flags computed by the
// ingestion pipeline.
func (c *DatabaseClient) UpdateDocumentDerived(ctx context.Context, doc *models.Document) error {
	meta, err := marshalJSON(doc.Metadata)
	if err != nil {
		return err
	}
	const q = `
		UPDATE documents
		SET chunk_count = $2, content_type = $3, page_count = $4,
		    has_images = $5, has_tables = $6, metadata = $7, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.ChunkCount, doc.ContentType, doc.PageCount, doc.HasImages, doc.HasTables, meta)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, core.ErrNotFound)
	}
	return nil
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Pages

func (c *DatabaseClient) CreatePage(ctx context.Context, page *models.Page) error {
	if page == nil {
		return errors.New("nil page")
	}
	const q = `
		INSERT INTO document_pages
			(id, document_id, page_number, page_image_path, page_thumbnail_path,
			 width, height, has_text, has_images, has_tables, ocr_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, q,
		page.ID, page.DocumentID, page.PageNumber, page.PageImagePath, page.PageThumbnailPath,
		page.Width, page.Height, page.HasText, page.HasImages, page.HasTables, page.OCRText)
	return err
}

func (c *DatabaseClient) GetPageByID(ctx context.Context, id string) (*models.Page, error) {
	const q = `
		SELECT id, document_id, page_number, page_image_path, page_thumbnail_path,
		       width, height, has_text, has_images, has_tables, ocr_text, created_at, updated_at
		FROM document_pages WHERE id = $1
	`
	var p models.Page
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.DocumentID, &p.PageNumber, &p.PageImagePath, &p.PageThumbnailPath,
		&p.Width, &p.Height, &p.HasText, &p.HasImages, &p.HasTables, &p.OCRText, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("page %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *DatabaseClient) ListPagesByDocument(ctx context.Context, documentID string) ([]models.Page, error) {
	const q = `
		SELECT id, document_id, page_number, page_image_path, page_thumbnail_path,
		       width, height, has_text, has_images, has_tables, ocr_text, created_at, updated_at
		FROM document_pages
		WHERE document_id = $1
		ORDER BY page_number ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(
			&p.ID, &p.DocumentID, &p.PageNumber, &p.PageImagePath, &p.PageThumbnailPath,
			&p.Width, &p.Height, &p.HasText, &p.HasImages, &p.HasTables, &p.OCRText, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePage cascades to the page's elements; chunks keep existing with
// their page reference nulled (ON DELETE SET NULL) so they stay
// searchable.
func (c *DatabaseClient) DeletePage(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM document_pages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("page %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Elements

func (c *DatabaseClient) CreateElement(ctx context.Context, el *models.Element) error {
	if el == nil {
		return errors.New("nil element")
	}
	pos, err := marshalJSON(el.Position)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(el.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO document_elements
			(id, document_id, page_id, element_type, element_path, thumbnail_path,
			 position, ocr_text, description, meta_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = c.db.ExecContext(ctx, q,
		el.ID, el.DocumentID, el.PageID, el.ElementType, el.ElementPath, el.ThumbnailPath,
		pos, el.OCRText, el.Description, meta)
	return err
}

func (c *DatabaseClient) GetElementByID(ctx context.Context, id string) (*models.Element, error) {
	const q = `
		SELECT id, document_id, page_id, element_type, element_path, thumbnail_path,
		       position, ocr_text, description, meta_info, created_at, updated_at
		FROM document_elements WHERE id = $1
	`
	var (
		el        models.Element
		pos, meta []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&el.ID, &el.DocumentID, &el.PageID, &el.ElementType, &el.ElementPath, &el.ThumbnailPath,
		&pos, &el.OCRText, &el.Description, &meta, &el.CreatedAt, &el.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(pos, &el.Position); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &el.Metadata); err != nil {
		return nil, err
	}
	return &el, nil
}

func (c *DatabaseClient) ListElementsByPage(ctx context.Context, pageID string) ([]models.Element, error) {
	const q = `
		SELECT id, document_id, page_id, element_type, element_path, thumbnail_path,
		       position, ocr_text, description, meta_info, created_at, updated_at
		FROM document_elements
		WHERE page_id = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, pageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Element
	for rows.Next() {
		var (
			el        models.Element
			pos, meta []byte
		)
		if err := rows.Scan(
			&el.ID, &el.DocumentID, &el.PageID, &el.ElementType, &el.ElementPath, &el.ThumbnailPath,
			&pos, &el.OCRText, &el.Description, &meta, &el.CreatedAt, &el.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(pos, &el.Position); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(meta, &el.Metadata); err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// Chunks

// InsertChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, page_id, chunk_index, content, vector_id,
			 start_pos, end_pos, related_elements, token_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		rel, err := marshalJSON(ch.RelatedElements)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var pageID sql.NullString
		if ch.PageID != "" {
			pageID = sql.NullString{String: ch.PageID, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, pageID, ch.ChunkIndex, ch.Content, ch.VectorID,
			ch.StartPos, ch.EndPos, rel, ch.TokenCount,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunkByVectorID(ctx context.Context, kbID string, vectorID int64) (*models.Chunk, error) {
	const q = `
		SELECT ch.id, ch.document_id, ch.page_id, ch.chunk_index, ch.content, ch.vector_id,
		       ch.start_pos, ch.end_pos, ch.related_elements, ch.token_count, ch.created_at
		FROM document_chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.knowledge_base_id = $1 AND ch.vector_id = $2
	`
	return c.scanChunkRow(c.db.QueryRowContext(ctx, q, kbID, vectorID), fmt.Sprintf("vector entry %d", vectorID))
}

func (c *DatabaseClient) GetChunkByIndex(ctx context.Context, documentID string, index int) (*models.Chunk, error) {
	const q = `
		SELECT id, document_id, page_id, chunk_index, content, vector_id,
		       start_pos, end_pos, related_elements, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1 AND chunk_index = $2
	`
	return c.scanChunkRow(c.db.QueryRowContext(ctx, q, documentID, index), fmt.Sprintf("chunk %d of document %s", index, documentID))
}

func (c *DatabaseClient) scanChunkRow(row *sql.Row, what string) (*models.Chunk, error) {
	var (
		ch     models.Chunk
		pageID sql.NullString
		rel    []byte
	)
	err := row.Scan(
		&ch.ID, &ch.DocumentID, &pageID, &ch.ChunkIndex, &ch.Content, &ch.VectorID,
		&ch.StartPos, &ch.EndPos, &rel, &ch.TokenCount, &ch.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ch.PageID = pageID.String
	if err := unmarshalJSON(rel, &ch.RelatedElements); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *DatabaseClient) ListChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error) {
	const q = `
		SELECT id, document_id, page_id, chunk_index, content, vector_id,
		       start_pos, end_pos, related_elements, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var (
			ch     models.Chunk
			pageID sql.NullString
			rel    []byte
		)
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &pageID, &ch.ChunkIndex, &ch.Content, &ch.VectorID,
			&ch.StartPos, &ch.EndPos, &rel, &ch.TokenCount, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		ch.PageID = pageID.String
		if err := unmarshalJSON(rel, &ch.RelatedElements); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountChunksByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// OCR tasks

func (c *DatabaseClient) CreateOCRTask(ctx context.Context, task *models.OCRTask) error {
	if task == nil {
		return errors.New("nil ocr task")
	}
	const q = `
		INSERT INTO ocr_tasks
			(id, element_id, status, ocr_engine, result_text, confidence, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := c.db.ExecContext(ctx, q,
		task.ID, task.ElementID, task.Status, task.Engine, task.ResultText, task.Confidence,
		task.ErrorMessage, task.StartedAt, task.CompletedAt)
	return err
}

// JSON column helpers. Nil values map to SQL NULL.

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case []string:
		if t == nil {
			return nil, nil
		}
	case *models.Position:
		if t == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

func unmarshalJSON(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}
