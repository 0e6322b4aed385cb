package models

import (
	"time"
)

// Document lifecycle states. A document enters processing at upload and
// only ever moves to one of the two terminal states; re-uploading creates
// a new document rather than reusing a terminal one.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document content classification.
const (
	ContentTypeText  = "text"
	ContentTypeMixed = "mixed"
)

// KnowledgeBase is a named retrieval scope. It owns one vector collection
// and the retrieval configuration applied to every search against it.
type KnowledgeBase struct {
	ID             string `db:"id" json:"id"`
	UserID         string `db:"user_id" json:"user_id"`
	Name           string `db:"name" json:"name"`
	Description    string `db:"description" json:"description"`
	CollectionName string `db:"collection_name" json:"collection_name"`

	ChunkSize           int     `db:"chunk_size" json:"chunk_size"`
	ChunkOverlap        int     `db:"chunk_overlap" json:"chunk_overlap"`
	TopK                int     `db:"top_k" json:"top_k"`
	TopN                int     `db:"top_n" json:"top_n"`
	SimilarityThreshold float64 `db:"similarity_threshold" json:"similarity_threshold"`
	SearchMode          string  `db:"search_mode" json:"search_mode"` // vector | keyword | hybrid
	RerankEnabled       bool    `db:"rerank_enabled" json:"rerank_enabled"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents one ingested file inside a knowledge base.
type Document struct {
	ID              string         `db:"id" json:"id"`
	KnowledgeBaseID string         `db:"knowledge_base_id" json:"knowledge_base_id"`
	Filename        string         `db:"filename" json:"filename"`
	FilePath        string         `db:"file_path" json:"file_path"` // object store key of the raw upload
	FileSize        int64          `db:"file_size" json:"file_size"`
	FileType        string         `db:"file_type" json:"file_type"`
	ChunkCount      int            `db:"chunk_count" json:"chunk_count"`
	Status          string         `db:"status" json:"status"` // processing | completed | failed
	ErrorMessage    string         `db:"error_message" json:"error_message,omitempty"`
	Metadata        map[string]any `db:"metadata" json:"metadata,omitempty"`

	ContentType string `db:"content_type" json:"content_type"` // text | mixed
	PageCount   int    `db:"page_count" json:"page_count"`
	HasImages   bool   `db:"has_images" json:"has_images"`
	HasTables   bool   `db:"has_tables" json:"has_tables"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Page is one page of a paginated document.
type Page struct {
	ID                string `db:"id" json:"id"`
	DocumentID        string `db:"document_id" json:"document_id"`
	PageNumber        int    `db:"page_number" json:"page_number"` // 1-based
	PageImagePath     string `db:"page_image_path" json:"page_image_path"`
	PageThumbnailPath string `db:"page_thumbnail_path" json:"page_thumbnail_path"`
	Width             int    `db:"width" json:"width"`
	Height            int    `db:"height" json:"height"`
	HasText           bool   `db:"has_text" json:"has_text"`
	HasImages         bool   `db:"has_images" json:"has_images"`
	HasTables         bool   `db:"has_tables" json:"has_tables"`
	OCRText           string `db:"ocr_text" json:"ocr_text,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Position is a bounding box in page pixel space.
type Position struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Element is one extracted visual unit on a page.
type Element struct {
	ID            string         `db:"id" json:"id"`
	DocumentID    string         `db:"document_id" json:"document_id"`
	PageID        string         `db:"page_id" json:"page_id"`
	ElementType   string         `db:"element_type" json:"element_type"` // image | table | chart | formula | diagram
	ElementPath   string         `db:"element_path" json:"element_path"`
	ThumbnailPath string         `db:"thumbnail_path" json:"thumbnail_path"`
	Position      *Position      `db:"position" json:"position,omitempty"`
	OCRText       string         `db:"ocr_text" json:"ocr_text,omitempty"`
	Description   string         `db:"description" json:"description,omitempty"`
	Metadata      map[string]any `db:"meta_info" json:"metadata,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Chunk is one unit of retrievable text. Chunks are append-only: the
// ingestion pipeline writes them once and never mutates them. The
// chunk_index values of one document form a dense sequence starting at 0;
// neighbour chunks are derived by (document_id, chunk_index±1) rather than
// stored pointers.
type Chunk struct {
	ID              string   `db:"id" json:"id"`
	DocumentID      string   `db:"document_id" json:"document_id"`
	PageID          string   `db:"page_id" json:"page_id,omitempty"`
	ChunkIndex      int      `db:"chunk_index" json:"chunk_index"`
	Content         string   `db:"content" json:"content"`
	VectorID        int64    `db:"vector_id" json:"vector_id"` // id of the entry in the vector collection
	StartPos        int      `db:"start_pos" json:"start_pos"`
	EndPos          int      `db:"end_pos" json:"end_pos"`
	RelatedElements []string `db:"related_elements" json:"related_elements,omitempty"`
	TokenCount      int      `db:"token_count" json:"token_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OCR task states.
const (
	OCRPending    = "pending"
	OCRProcessing = "processing"
	OCRCompleted  = "completed"
	OCRFailed     = "failed"
)

// OCRTask tracks one OCR invocation against an element.
type OCRTask struct {
	ID           string     `db:"id" json:"id"`
	ElementID    string     `db:"element_id" json:"element_id"`
	Status       string     `db:"status" json:"status"` // pending | processing | completed | failed
	Engine       string     `db:"ocr_engine" json:"ocr_engine"`
	ResultText   string     `db:"result_text" json:"result_text,omitempty"`
	Confidence   float64    `db:"confidence" json:"confidence"`
	ErrorMessage string     `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// SearchResult is one scored retrieval hit, ordered by descending score.
type SearchResult struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
	Source   string         `json:"source"`
}
