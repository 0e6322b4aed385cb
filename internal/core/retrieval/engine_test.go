package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/core/vectorstore"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// fixedEmbedder returns the same vector for every query.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) EmbedText(context.Context, string) ([]float32, error) { return f.vec, nil }

func (f *fixedEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fixedEmbedder) Dimension() int { return len(f.vec) }

// fakeKeyword returns canned results.
type fakeKeyword struct {
	results []models.SearchResult
}

func (f *fakeKeyword) SearchKeywords(context.Context, string, string, int) ([]models.SearchResult, error) {
	return f.results, nil
}

// reverseReranker reverses the candidate order and keeps topN.
type reverseReranker struct{}

func (reverseReranker) Rerank(_ context.Context, _ string, results []models.SearchResult, topN int) ([]models.SearchResult, error) {
	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		out[len(results)-1-i] = r
	}
	if topN < len(out) {
		out = out[:topN]
	}
	return out, nil
}

// fakeChunkDB serves the read paths of enhanced assembly.
type fakeChunkDB struct {
	core.DbClient
	chunks   map[int64]*models.Chunk  // by vector id
	byIndex  map[string]*models.Chunk // "docID/index"
	elements map[string]*models.Element
	pages    map[string]*models.Page
	docs     map[string]*models.Document
}

func (f *fakeChunkDB) GetChunkByVectorID(_ context.Context, _ string, vectorID int64) (*models.Chunk, error) {
	ch, ok := f.chunks[vectorID]
	if !ok {
		return nil, fmt.Errorf("chunk for vector %d: %w", vectorID, core.ErrNotFound)
	}
	return ch, nil
}

func (f *fakeChunkDB) GetChunkByIndex(_ context.Context, documentID string, index int) (*models.Chunk, error) {
	ch, ok := f.byIndex[fmt.Sprintf("%s/%d", documentID, index)]
	if !ok {
		return nil, fmt.Errorf("chunk %d: %w", index, core.ErrNotFound)
	}
	return ch, nil
}

func (f *fakeChunkDB) GetElementByID(_ context.Context, id string) (*models.Element, error) {
	el, ok := f.elements[id]
	if !ok {
		return nil, fmt.Errorf("element %s: %w", id, core.ErrNotFound)
	}
	return el, nil
}

func (f *fakeChunkDB) GetPageByID(_ context.Context, id string) (*models.Page, error) {
	p, ok := f.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %s: %w", id, core.ErrNotFound)
	}
	return p, nil
}

func (f *fakeChunkDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	d, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, nil
}

type fakePresigner struct{}

func (fakePresigner) Put(context.Context, string, []byte, string) error { return nil }
func (fakePresigner) Get(context.Context, string) ([]byte, error)       { return nil, core.ErrNotFound }
func (fakePresigner) Delete(context.Context, string) error              { return nil }
func (fakePresigner) DeletePrefix(context.Context, string) error        { return nil }
func (fakePresigner) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

func searchKB(mode string, threshold float64) *models.KnowledgeBase {
	return &models.KnowledgeBase{
		ID:                  "kb1",
		CollectionName:      "agonx_kb1",
		TopK:                10,
		TopN:                5,
		SimilarityThreshold: threshold,
		SearchMode:          mode,
	}
}

// seedStore fills a memory collection with three entries of descending
// similarity to the query vector [1, 0].
func seedStore(t *testing.T) *vectorstore.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.EnsureCollection(ctx, "agonx_kb1", 2))
	_, err := store.Insert(ctx, "agonx_kb1", []core.VectorRow{
		{Embedding: []float32{1, 0}, Content: "exact match"},     // id 1, score 1.0
		{Embedding: []float32{1, 1}, Content: "diagonal match"},  // id 2, score ~0.707
		{Embedding: []float32{0, 1}, Content: "orthogonal text"}, // id 3, score 0
	})
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, "agonx_kb1"))
	return store
}

func newTestEngine(t *testing.T, db core.DbClient, caps *core.Capabilities) *Engine {
	t.Helper()
	if caps.Embedder == nil {
		caps.Embedder = &fixedEmbedder{vec: []float32{1, 0}}
	}
	return NewEngine(db, seedStore(t), fakePresigner{}, caps)
}

func TestSearch_VectorModeOrdersAndFilters(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{})
	kb := searchKB("vector", 0.5)

	results, err := e.Search(context.Background(), kb, "query", core.ModeVector, 0)
	require.NoError(t, err)
	require.Len(t, results, 2, "orthogonal entry falls below the threshold")
	assert.Equal(t, "exact match", results[0].Content)
	assert.Equal(t, "diagonal match", results[1].Content)
	assert.Equal(t, "1", results[0].ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_VectorModeTruncatesToTopK(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{})
	kb := searchKB("vector", 0)

	results, err := e.Search(context.Background(), kb, "query", core.ModeVector, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact match", results[0].Content)
}

func TestSearch_UnknownMode(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{})
	kb := searchKB("vector", 0)

	_, err := e.Search(context.Background(), kb, "query", core.SearchMode("semantic"), 0)
	var modeErr *core.UnknownModeError
	require.ErrorAs(t, err, &modeErr)
	assert.Equal(t, "semantic", modeErr.Mode)
}

func TestSearch_KeywordMode(t *testing.T) {
	kw := &fakeKeyword{results: []models.SearchResult{
		{ID: "2", Content: "diagonal match", Score: 0.9},
	}}
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{Keyword: kw})
	kb := searchKB("keyword", 0.5)

	results, err := e.Search(context.Background(), kb, "query", core.ModeKeyword, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].ID)
	assert.NotContains(t, results[0].Metadata, "retrieval_fallback")
}

func TestSearch_KeywordFallsBackToVector(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{})
	kb := searchKB("keyword", 0.5)

	results, err := e.Search(context.Background(), kb, "query", core.ModeKeyword, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "vector", r.Metadata["retrieval_fallback"])
	}
}

func TestSearch_HybridFusesBothLegs(t *testing.T) {
	// keyword leg boosts the orthogonal entry that vector search alone
	// would rank last
	kw := &fakeKeyword{results: []models.SearchResult{
		{ID: "3", Content: "orthogonal text", Score: 1.0},
	}}
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{Keyword: kw})
	kb := searchKB("hybrid", 0.25)

	results, err := e.Search(context.Background(), kb, "query", core.ModeHybrid, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	byID := map[string]float64{}
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		byID[r.ID] = r.Score
		assert.GreaterOrEqual(t, r.Score, 0.25)
	}

	// id 1: 0.7·1.0, id 3: 0.3·1.0; both pass, fused scores reflect the
	// weights
	assert.InDelta(t, 0.7, byID["1"], 1e-6)
	assert.InDelta(t, 0.3, byID["3"], 1e-6)
}

func TestSearch_HybridWithFullVectorWeightMatchesVector(t *testing.T) {
	kw := &fakeKeyword{results: []models.SearchResult{
		{ID: "3", Content: "orthogonal text", Score: 1.0},
	}}
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{Keyword: kw})
	e.VectorWeight = 1
	e.KeywordWeight = 0
	kb := searchKB("hybrid", 0.5)

	hybrid, err := e.Search(context.Background(), kb, "query", core.ModeHybrid, 0)
	require.NoError(t, err)
	vector, err := e.Search(context.Background(), kb, "query", core.ModeVector, 0)
	require.NoError(t, err)

	require.Len(t, hybrid, len(vector))
	for i := range vector {
		assert.Equal(t, vector[i].ID, hybrid[i].ID)
		assert.InDelta(t, vector[i].Score, hybrid[i].Score, 1e-6)
	}
}

func TestSearch_RerankTruncatesWithoutCapability(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{})
	kb := searchKB("vector", 0)
	kb.RerankEnabled = true
	kb.TopN = 2

	results, err := e.Search(context.Background(), kb, "query", core.ModeVector, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "truncated", r.Metadata["rerank_fallback"])
	}
	// truncation preserves score order
	assert.Equal(t, "1", results[0].ID)
}

func TestSearch_RerankUsesCapability(t *testing.T) {
	e := newTestEngine(t, &fakeChunkDB{}, &core.Capabilities{Reranker: reverseReranker{}})
	kb := searchKB("vector", 0)
	kb.RerankEnabled = true
	kb.TopN = 2

	results, err := e.Search(context.Background(), kb, "query", core.ModeVector, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "3", results[0].ID, "reranker output order is authoritative")
	assert.NotContains(t, results[0].Metadata, "rerank_fallback")
}

func enhancedFixtureDB() *fakeChunkDB {
	doc := &models.Document{ID: "doc1", Filename: "paper.pdf"}
	page := &models.Page{
		ID:                "page1",
		DocumentID:        "doc1",
		PageNumber:        4,
		Width:             800,
		Height:            1200,
		PageImagePath:     "kb1/doc1/pages/page_4.png",
		PageThumbnailPath: "kb1/doc1/thumbnails/page_4_thumb.png",
	}
	el := &models.Element{
		ID:            "el1",
		ElementType:   core.ElementImage,
		ElementPath:   "kb1/doc1/images/p4_img0.png",
		ThumbnailPath: "kb1/doc1/images/p4_img0_thumb.png",
		OCRText:       "axis labels",
	}
	mk := func(idx int, vectorID int64) *models.Chunk {
		return &models.Chunk{
			ID:              fmt.Sprintf("c%d", idx),
			DocumentID:      "doc1",
			PageID:          "page1",
			ChunkIndex:      idx,
			Content:         fmt.Sprintf("chunk %d content", idx),
			VectorID:        vectorID,
			RelatedElements: []string{"el1"},
		}
	}
	chunks := map[int64]*models.Chunk{1: mk(0, 1), 2: mk(1, 2), 3: mk(2, 3)}
	byIndex := map[string]*models.Chunk{}
	for _, ch := range chunks {
		byIndex[fmt.Sprintf("doc1/%d", ch.ChunkIndex)] = ch
	}
	return &fakeChunkDB{
		chunks:   chunks,
		byIndex:  byIndex,
		elements: map[string]*models.Element{"el1": el},
		pages:    map[string]*models.Page{"page1": page},
		docs:     map[string]*models.Document{"doc1": doc},
	}
}

func TestEnhancedSearch_AssemblesContext(t *testing.T) {
	db := enhancedFixtureDB()
	e := newTestEngine(t, db, &core.Capabilities{})
	kb := searchKB("vector", 0)

	results, err := e.EnhancedSearch(context.Background(), kb, "query", core.ModeVector, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// hit 1 resolves to chunk index 0: no predecessor, one successor
	first := results[0]
	assert.Equal(t, "1", first.ID)
	assert.Empty(t, first.Before)
	require.Len(t, first.After, 1)
	assert.Equal(t, 1, first.After[0].ChunkIndex)

	// hit for the middle chunk gets both neighbours
	var middle *EnhancedResult
	for i := range results {
		if results[i].ID == "2" {
			middle = &results[i]
		}
	}
	require.NotNil(t, middle)
	require.Len(t, middle.Before, 1)
	assert.Equal(t, 0, middle.Before[0].ChunkIndex)
	require.Len(t, middle.After, 1)
	assert.Equal(t, 2, middle.After[0].ChunkIndex)

	// related element with signed urls
	require.Len(t, first.Elements, 1)
	assert.Equal(t, "https://signed.example/kb1/doc1/images/p4_img0.png", first.Elements[0].URL)
	assert.Equal(t, "axis labels", first.Elements[0].OCRText)

	// page preview and document reference
	require.NotNil(t, first.Page)
	assert.Equal(t, 4, first.Page.PageNumber)
	assert.Equal(t, "https://signed.example/kb1/doc1/pages/page_4.png", first.Page.ImageURL)
	require.NotNil(t, first.Document)
	assert.Equal(t, "paper.pdf", first.Document.Filename)

	// last chunk has no successor
	var last *EnhancedResult
	for i := range results {
		if results[i].ID == "3" {
			last = &results[i]
		}
	}
	require.NotNil(t, last)
	assert.Empty(t, last.After)
}

func TestEnhancedSearch_UnresolvableHitDegrades(t *testing.T) {
	db := &fakeChunkDB{chunks: map[int64]*models.Chunk{}}
	e := newTestEngine(t, db, &core.Capabilities{})
	kb := searchKB("vector", 0)

	results, err := e.EnhancedSearch(context.Background(), kb, "query", core.ModeVector, 1)
	require.NoError(t, err, "a hit without a chunk row degrades, not fails")
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Before)
	assert.Nil(t, results[0].Document)
	assert.Equal(t, "exact match", results[0].Content)
}
