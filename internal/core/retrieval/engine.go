// Package retrieval executes vector, keyword and hybrid search over a
// knowledge base's chunk graph and vector collection, with optional
// reranking and enhanced context assembly.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

const (
	defaultVectorWeight  = 0.7
	defaultKeywordWeight = 0.3

	// hybrid candidate retrieval relaxes the similarity threshold so
	// keyword-strong results are not cut before fusion
	hybridThresholdRelax = 0.5

	contextWindow = 1
)

// Engine serves retrieval requests. It is read-only: no call path ever
// writes to the relational store, the vector store or the blob store.
type Engine struct {
	db    core.DbClient
	store core.VectorStore
	obj   core.ObjectClient
	caps  *core.Capabilities

	VectorWeight  float64
	KeywordWeight float64
	PresignTTL    time.Duration
}

func NewEngine(db core.DbClient, store core.VectorStore, obj core.ObjectClient, caps *core.Capabilities) *Engine {
	return &Engine{
		db:            db,
		store:         store,
		obj:           obj,
		caps:          caps,
		VectorWeight:  defaultVectorWeight,
		KeywordWeight: defaultKeywordWeight,
		PresignTTL:    time.Hour,
	}
}

// Search runs one retrieval request in the given mode, applying the
// knowledge base's threshold and, when enabled, reranking down to top_n.
// Results are ordered by descending score and all satisfy the threshold.
func (e *Engine) Search(ctx context.Context, kb *models.KnowledgeBase, query string, mode core.SearchMode, topK int) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = kb.TopK
	}

	var (
		results []models.SearchResult
		err     error
	)
	switch mode {
	case core.ModeVector:
		results, err = e.vectorSearch(ctx, kb, query, topK, kb.SimilarityThreshold)
	case core.ModeKeyword:
		results, err = e.keywordSearch(ctx, kb, query, topK)
	case core.ModeHybrid:
		results, err = e.hybridSearch(ctx, kb, query, topK)
	default:
		return nil, &core.UnknownModeError{Mode: string(mode)}
	}
	if err != nil {
		return nil, err
	}

	if kb.RerankEnabled {
		results = e.rerank(ctx, kb, query, results)
	}
	return results, nil
}

// vectorSearch embeds the query, runs nearest-neighbour search with the
// cosine metric, filters by threshold and truncates to topK.
func (e *Engine) vectorSearch(ctx context.Context, kb *models.KnowledgeBase, query string, topK int, threshold float64) ([]models.SearchResult, error) {
	vec, err := e.caps.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.store.Search(ctx, kb.CollectionName, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		results = append(results, models.SearchResult{
			ID:       strconv.FormatInt(h.ID, 10),
			Content:  h.Content,
			Score:    h.Score,
			Metadata: h.Metadata,
			Source:   h.Source,
		})
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// keywordSearch performs lexical matching. Without a keyword capability
// it degrades to vector search at threshold 0; the degradation is
// logged and recorded in every result's metadata so callers can tell.
func (e *Engine) keywordSearch(ctx context.Context, kb *models.KnowledgeBase, query string, topK int) ([]models.SearchResult, error) {
	if e.caps.Keyword != nil {
		results, err := e.caps.Keyword.SearchKeywords(ctx, kb.ID, query, topK)
		if err != nil {
			return nil, fmt.Errorf("keyword search: %w", err)
		}
		return results, nil
	}

	log.Printf("keyword search unavailable for kb %s, falling back to vector search", kb.ID)
	results, err := e.vectorSearch(ctx, kb, query, topK, 0)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Metadata = withMeta(results[i].Metadata, "retrieval_fallback", "vector")
	}
	return results, nil
}

// hybridSearch runs both legs at top_k·2 candidates, fuses them by
// summing weighted scores per vector-entry id, filters the fused scores
// by the knowledge base threshold and truncates to topK.
func (e *Engine) hybridSearch(ctx context.Context, kb *models.KnowledgeBase, query string, topK int) ([]models.SearchResult, error) {
	var vectorResults, keywordResults []models.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorResults, err = e.vectorSearch(gctx, kb, query, topK*2, kb.SimilarityThreshold*hybridThresholdRelax)
		return err
	})
	g.Go(func() error {
		var err error
		keywordResults, err = e.keywordSearch(gctx, kb, query, topK*2)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuse(vectorResults, keywordResults, e.VectorWeight, e.KeywordWeight)

	out := fused[:0]
	for _, r := range fused {
		if r.Score >= kb.SimilarityThreshold {
			out = append(out, r)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// fuse merges two result sets by id, summing weighted scores. A result
// present in only one set contributes only its weighted score. Output is
// sorted by descending score, ties broken by id for determinism.
func fuse(vectorResults, keywordResults []models.SearchResult, vectorWeight, keywordWeight float64) []models.SearchResult {
	merged := make(map[string]models.SearchResult, len(vectorResults)+len(keywordResults))

	for _, r := range vectorResults {
		r.Score *= vectorWeight
		merged[r.ID] = r
	}
	for _, r := range keywordResults {
		if have, ok := merged[r.ID]; ok {
			have.Score += r.Score * keywordWeight
			merged[r.ID] = have
			continue
		}
		r.Score *= keywordWeight
		merged[r.ID] = r
	}

	out := make([]models.SearchResult, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// rerank post-filters the result set down to top_n. Without a rerank
// capability (or when it errors) the set is truncated in place; that
// fallback is explicit in the logs and the result metadata.
func (e *Engine) rerank(ctx context.Context, kb *models.KnowledgeBase, query string, results []models.SearchResult) []models.SearchResult {
	topN := kb.TopN
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}

	if e.caps.Reranker != nil {
		reranked, err := e.caps.Reranker.Rerank(ctx, query, results, topN)
		if err == nil {
			return reranked
		}
		log.Printf("rerank failed for kb %s, truncating instead: %v", kb.ID, err)
	} else {
		log.Printf("rerank unavailable for kb %s, truncating to top_n", kb.ID)
	}

	truncated := results[:topN]
	for i := range truncated {
		truncated[i].Metadata = withMeta(truncated[i].Metadata, "rerank_fallback", "truncated")
	}
	return truncated
}

func withMeta(meta map[string]any, key, value string) map[string]any {
	if meta == nil {
		meta = make(map[string]any, 1)
	}
	meta[key] = value
	return meta
}

// ContextChunk is a neighbouring chunk in an enhanced result.
type ContextChunk struct {
	ID         string `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
}

// RelatedElement is a visual element attached to a hit, with signed,
// time-limited URLs.
type RelatedElement struct {
	ID           string `json:"id"`
	ElementType  string `json:"element_type"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url"`
	OCRText      string `json:"ocr_text,omitempty"`
}

// PagePreview locates a hit on its rendered page.
type PagePreview struct {
	PageNumber   int    `json:"page_number"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// DocumentRef is a stable reference to the owning document.
type DocumentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// EnhancedResult is a search hit plus reconstructed context.
type EnhancedResult struct {
	models.SearchResult
	Before   []ContextChunk   `json:"context_before"`
	After    []ContextChunk   `json:"context_after"`
	Elements []RelatedElement `json:"related_elements,omitempty"`
	Page     *PagePreview     `json:"page,omitempty"`
	Document *DocumentRef     `json:"document,omitempty"`
}

// EnhancedSearch runs Search and then reassembles surrounding context
// for every hit: neighbouring chunks by chunk_index, related image
// elements resolved to presigned URLs, the page preview when the chunk
// is page-bound, and a document reference. Purely read-only.
func (e *Engine) EnhancedSearch(ctx context.Context, kb *models.KnowledgeBase, query string, mode core.SearchMode, topK int) ([]EnhancedResult, error) {
	results, err := e.Search(ctx, kb, query, mode, topK)
	if err != nil {
		return nil, err
	}

	out := make([]EnhancedResult, 0, len(results))
	for _, r := range results {
		enhanced, err := e.enhance(ctx, kb, r)
		if err != nil {
			log.Printf("enhanced assembly for result %s failed: %v", r.ID, err)
			enhanced = &EnhancedResult{SearchResult: r}
		}
		out = append(out, *enhanced)
	}
	return out, nil
}

func (e *Engine) enhance(ctx context.Context, kb *models.KnowledgeBase, r models.SearchResult) (*EnhancedResult, error) {
	vectorID, err := strconv.ParseInt(r.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("result id %q is not a vector entry id: %w", r.ID, err)
	}

	chunk, err := e.db.GetChunkByVectorID(ctx, kb.ID, vectorID)
	if err != nil {
		return nil, err
	}

	enhanced := &EnhancedResult{SearchResult: r}

	// Context window: chunk_index values are dense per document, so the
	// neighbours are exactly index±1 when they exist.
	for off := contextWindow; off >= 1; off-- {
		if prev := e.chunkAt(ctx, chunk.DocumentID, chunk.ChunkIndex-off); prev != nil {
			enhanced.Before = append(enhanced.Before, *prev)
		}
	}
	for off := 1; off <= contextWindow; off++ {
		if next := e.chunkAt(ctx, chunk.DocumentID, chunk.ChunkIndex+off); next != nil {
			enhanced.After = append(enhanced.After, *next)
		}
	}

	for _, elID := range chunk.RelatedElements {
		el, err := e.db.GetElementByID(ctx, elID)
		if err != nil {
			log.Printf("related element %s of chunk %s: %v", elID, chunk.ID, err)
			continue
		}
		if el.ElementType != core.ElementImage {
			continue
		}
		re := RelatedElement{ID: el.ID, ElementType: el.ElementType, OCRText: el.OCRText}
		re.URL, _ = e.obj.Presign(ctx, el.ElementPath, e.PresignTTL)
		re.ThumbnailURL, _ = e.obj.Presign(ctx, el.ThumbnailPath, e.PresignTTL)
		enhanced.Elements = append(enhanced.Elements, re)
	}

	if chunk.PageID != "" {
		page, err := e.db.GetPageByID(ctx, chunk.PageID)
		if err != nil {
			log.Printf("page %s of chunk %s: %v", chunk.PageID, chunk.ID, err)
		} else {
			pv := &PagePreview{PageNumber: page.PageNumber, Width: page.Width, Height: page.Height}
			pv.ImageURL, _ = e.obj.Presign(ctx, page.PageImagePath, e.PresignTTL)
			pv.ThumbnailURL, _ = e.obj.Presign(ctx, page.PageThumbnailPath, e.PresignTTL)
			enhanced.Page = pv
		}
	}

	doc, err := e.db.GetDocumentByID(ctx, chunk.DocumentID)
	if err != nil {
		log.Printf("document %s of chunk %s: %v", chunk.DocumentID, chunk.ID, err)
	} else {
		enhanced.Document = &DocumentRef{ID: doc.ID, Filename: doc.Filename}
	}

	return enhanced, nil
}

func (e *Engine) chunkAt(ctx context.Context, documentID string, index int) *ContextChunk {
	if index < 0 {
		return nil
	}
	ch, err := e.db.GetChunkByIndex(ctx, documentID, index)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			log.Printf("context chunk %d of document %s: %v", index, documentID, err)
		}
		return nil
	}
	return &ContextChunk{ID: ch.ID, ChunkIndex: ch.ChunkIndex, Content: ch.Content}
}
