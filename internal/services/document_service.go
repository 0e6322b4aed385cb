package services

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	ingestionengine "github.com/agonx-ai/agonx-knowledge/internal/core/ingestion_engine"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// supported upload extensions, lowercase
var supportedExtensions = map[string]struct{}{
	".pdf":  {},
	".txt":  {},
	".md":   {},
	".doc":  {},
	".docx": {},
}

// DocumentService handles document upload and lifecycle. Uploads are
// accepted fast: the raw bytes go to the blob store, a processing row is
// created, and the heavy work is queued for the ingestion workers.
type DocumentService struct {
	db       core.DbClient
	obj      core.ObjectClient
	store    core.VectorStore
	ingestor ingestionengine.Ingestor
}

func NewDocumentService(db core.DbClient, obj core.ObjectClient, store core.VectorStore, ingestor ingestionengine.Ingestor) *DocumentService {
	return &DocumentService{db: db, obj: obj, store: store, ingestor: ingestor}
}

// UploadDocument stores the raw file, records the document in the
// processing state and enqueues it for ingestion. The returned document
// reflects the pre-ingestion state; callers poll status for progress.
func (s *DocumentService) UploadDocument(ctx context.Context, kb *models.KnowledgeBase, filename string, data []byte) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := supportedExtensions[ext]; !ok {
		return nil, &core.UnsupportedFormatError{Filename: filename, Ext: ext}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: uploaded file %s is empty", core.ErrInvalid, filename)
	}

	id := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", kb.ID, id, filename)
	if err := s.obj.Put(ctx, key, data, contentTypeForExt(ext)); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:              id,
		KnowledgeBaseID: kb.ID,
		Filename:        filename,
		FilePath:        key,
		FileSize:        int64(len(data)),
		FileType:        strings.TrimPrefix(ext, "."),
		Status:          models.StatusProcessing,
		ContentType:     models.ContentTypeText,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if delErr := s.obj.Delete(ctx, key); delErr != nil {
			log.Printf("orphaned upload %s after create failure: %v", key, delErr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.ingestor.Enqueue(doc.ID); err != nil {
		// Undo the accepted upload so a retry starts clean.
		if delErr := s.db.DeleteDocument(ctx, doc.ID); delErr != nil {
			log.Printf("orphaned document %s after enqueue failure: %v", doc.ID, delErr)
		}
		if delErr := s.obj.Delete(ctx, key); delErr != nil {
			log.Printf("orphaned upload %s after enqueue failure: %v", key, delErr)
		}
		return nil, err
	}
	return doc, nil
}

// GetDocument returns one document scoped to its knowledge base.
func (s *DocumentService) GetDocument(ctx context.Context, kbID, documentID string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseID != kbID {
		return nil, fmt.Errorf("document %s: %w", documentID, core.ErrNotFound)
	}
	return doc, nil
}

func (s *DocumentService) ListDocuments(ctx context.Context, kbID string) ([]models.Document, error) {
	return s.db.ListDocumentsByKnowledgeBase(ctx, kbID)
}

// DeleteDocument removes the document's vector entries, then the row
// (pages, elements and chunks cascade), then every blob under the
// document prefix: the raw upload, page renders and element crops. The
// vector ids are collected before the cascade wipes the chunk rows; a
// vector delete failure aborts so a retry can finish the cleanup.
func (s *DocumentService) DeleteDocument(ctx context.Context, kb *models.KnowledgeBase, documentID string) error {
	doc, err := s.GetDocument(ctx, kb.ID, documentID)
	if err != nil {
		return err
	}

	chunks, err := s.db.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list chunks of %s: %w", documentID, err)
	}
	if len(chunks) > 0 {
		vectorIDs := make([]int64, 0, len(chunks))
		for i := range chunks {
			vectorIDs = append(vectorIDs, chunks[i].VectorID)
		}
		if err := s.store.Delete(ctx, kb.CollectionName, vectorIDs); err != nil {
			return fmt.Errorf("delete vectors of %s: %w", documentID, err)
		}
	}

	if err := s.db.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	prefix := fmt.Sprintf("%s/%s/", kb.ID, doc.ID)
	if err := s.obj.DeletePrefix(ctx, prefix); err != nil {
		log.Printf("delete blobs under %s: %v", prefix, err)
	}
	return nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".doc":
		return "application/msword"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
