package core

import (
	"context"

	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// EmbeddingProvider computes fixed-dimension embedding vectors.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OCRLine is one recognised line with its bounding box [x1, y1, x2, y2].
type OCRLine struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

// OCRResult is the recognition outcome for one image.
type OCRResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Lines      []OCRLine `json:"lines"`
}

// OCRProvider recognises text in image bytes. External capability; the
// engine behind it is identified by Engine() for task bookkeeping.
type OCRProvider interface {
	Recognize(ctx context.Context, imageData []byte) (*OCRResult, error)
	Engine() string
}

// Reranker reorders a candidate result set against the query and keeps
// the top n. External capability; may be absent.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []models.SearchResult, topN int) ([]models.SearchResult, error)
}

// KeywordSearcher performs lexical matching over a knowledge base's
// chunks. Result ids must be vector-entry ids so that hybrid fusion can
// merge them with vector hits. May be absent.
type KeywordSearcher interface {
	SearchKeywords(ctx context.Context, kbID, query string, topK int) ([]models.SearchResult, error)
}

// Capabilities is the explicit registry of external capability adapters,
// constructed once at process start and passed by reference. Nil fields
// mean the capability is unavailable and callers take their documented
// fallback path.
type Capabilities struct {
	Embedder EmbeddingProvider
	OCR      OCRProvider
	Reranker Reranker
	Keyword  KeywordSearcher
}
