package core

import (
	"context"
	"time"

	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// DbClient defines all persistence operations the services need.
// It abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBasesByUser(ctx context.Context, userID string) ([]models.KnowledgeBase, error)
	UpdateRetrievalConfig(ctx context.Context, kb *models.KnowledgeBase) error
	DeleteKnowledgeBase(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByKnowledgeBase(ctx context.Context, kbID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error
	UpdateDocumentDerived(ctx context.Context, doc *models.Document) error
	DeleteDocument(ctx context.Context, id string) error

	CreatePage(ctx context.Context, page *models.Page) error
	GetPageByID(ctx context.Context, id string) (*models.Page, error)
	ListPagesByDocument(ctx context.Context, documentID string) ([]models.Page, error)
	DeletePage(ctx context.Context, id string) error

	CreateElement(ctx context.Context, el *models.Element) error
	GetElementByID(ctx context.Context, id string) (*models.Element, error)
	ListElementsByPage(ctx context.Context, pageID string) ([]models.Element, error)

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	GetChunkByVectorID(ctx context.Context, kbID string, vectorID int64) (*models.Chunk, error)
	GetChunkByIndex(ctx context.Context, documentID string, index int) (*models.Chunk, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]models.Chunk, error)
	CountChunksByDocument(ctx context.Context, documentID string) (int, error)

	CreateOCRTask(ctx context.Context, task *models.OCRTask) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// Paths follow {kb_id}/{document_id}/{pages|images|thumbnails}/...
type ObjectClient interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// VectorRow is one entry to upsert into a vector collection.
type VectorRow struct {
	Embedding []float32
	Content   string
	Metadata  map[string]any
	Source    string
}

// VectorHit is one nearest-neighbour match.
type VectorHit struct {
	ID       int64
	Score    float64
	Content  string
	Metadata map[string]any
	Source   string
}

// VectorStore is the boundary to the vector index. Collections hold
// {auto-id pk, fixed-dim float vector, content, JSON metadata, source}
// with a cosine similarity index. Inserted rows are guaranteed to be
// searchable only after Flush.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	HasCollection(ctx context.Context, name string) (bool, error)
	DropCollection(ctx context.Context, name string) error
	Insert(ctx context.Context, name string, rows []VectorRow) ([]int64, error)
	Delete(ctx context.Context, name string, ids []int64) error
	Search(ctx context.Context, name string, vector []float32, topK int) ([]VectorHit, error)
	Flush(ctx context.Context, name string) error
}
