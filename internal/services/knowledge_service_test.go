package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/core/vectorstore"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// fakeKBStore implements the knowledge base slice of the persistence
// interface; everything else panics via the embedded nil interface.
type fakeKBStore struct {
	core.DbClient
	kbs       map[string]*models.KnowledgeBase
	createErr error
}

func newFakeKBStore() *fakeKBStore {
	return &fakeKBStore{kbs: map[string]*models.KnowledgeBase{}}
}

func (f *fakeKBStore) CreateKnowledgeBase(_ context.Context, kb *models.KnowledgeBase) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *kb
	f.kbs[kb.ID] = &cp
	return nil
}

func (f *fakeKBStore) GetKnowledgeBase(_ context.Context, id string) (*models.KnowledgeBase, error) {
	kb, ok := f.kbs[id]
	if !ok {
		return nil, fmt.Errorf("knowledge base %s: %w", id, core.ErrNotFound)
	}
	cp := *kb
	return &cp, nil
}

func (f *fakeKBStore) ListKnowledgeBasesByUser(_ context.Context, userID string) ([]models.KnowledgeBase, error) {
	var out []models.KnowledgeBase
	for _, kb := range f.kbs {
		if kb.UserID == userID {
			out = append(out, *kb)
		}
	}
	return out, nil
}

func (f *fakeKBStore) UpdateRetrievalConfig(_ context.Context, kb *models.KnowledgeBase) error {
	stored, ok := f.kbs[kb.ID]
	if !ok {
		return core.ErrNotFound
	}
	*stored = *kb
	return nil
}

func (f *fakeKBStore) DeleteKnowledgeBase(_ context.Context, id string) error {
	delete(f.kbs, id)
	return nil
}

func newTestService() (*KnowledgeService, *fakeKBStore, *vectorstore.MemoryStore) {
	db := newFakeKBStore()
	store := vectorstore.NewMemoryStore()
	return NewKnowledgeService(db, store, 4), db, store
}

func TestCollectionNameFor(t *testing.T) {
	assert.Equal(t, "agonx_ab_cd_ef", CollectionNameFor("ab-cd-ef"))
	assert.Equal(t, "agonx_plain", CollectionNameFor("plain"))
}

func TestCreateKnowledgeBase_Defaults(t *testing.T) {
	ctx := context.Background()
	svc, _, store := newTestService()

	kb, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "docs"})
	require.NoError(t, err)

	assert.Equal(t, "u1", kb.UserID)
	assert.Equal(t, "docs", kb.Name)
	assert.Equal(t, CollectionNameFor(kb.ID), kb.CollectionName)
	assert.Equal(t, DefaultChunkSize, kb.ChunkSize)
	assert.Equal(t, DefaultChunkOverlap, kb.ChunkOverlap)
	assert.Equal(t, DefaultTopK, kb.TopK)
	assert.Equal(t, DefaultTopN, kb.TopN)
	assert.Equal(t, DefaultSimilarityThreshold, kb.SimilarityThreshold)
	assert.Equal(t, DefaultSearchMode, kb.SearchMode)
	assert.True(t, kb.RerankEnabled)

	ok, err := store.HasCollection(ctx, kb.CollectionName)
	require.NoError(t, err)
	assert.True(t, ok, "collection exists before the row is visible")
}

func TestCreateKnowledgeBase_Overrides(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	overlap := 0
	threshold := 0.4
	rerank := false
	kb, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{
		Name:                "tuned",
		ChunkSize:           256,
		ChunkOverlap:        &overlap,
		TopK:                20,
		TopN:                3,
		SimilarityThreshold: &threshold,
		SearchMode:          "vector",
		RerankEnabled:       &rerank,
	})
	require.NoError(t, err)
	assert.Equal(t, 256, kb.ChunkSize)
	assert.Equal(t, 0, kb.ChunkOverlap)
	assert.Equal(t, 20, kb.TopK)
	assert.Equal(t, 3, kb.TopN)
	assert.Equal(t, 0.4, kb.SimilarityThreshold)
	assert.Equal(t, "vector", kb.SearchMode)
	assert.False(t, kb.RerankEnabled)
}

func TestCreateKnowledgeBase_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	_, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "   "})
	assert.ErrorIs(t, err, core.ErrInvalid)

	_, err = svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "x", SearchMode: "fuzzy"})
	var modeErr *core.UnknownModeError
	assert.ErrorAs(t, err, &modeErr)

	bad := 1.5
	_, err = svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "x", SimilarityThreshold: &bad})
	assert.ErrorIs(t, err, core.ErrInvalid)

	_, err = svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "x", TopK: 3, TopN: 5})
	assert.ErrorIs(t, err, core.ErrInvalid)
}

// trackingStore records collection names passing through the store.
type trackingStore struct {
	core.VectorStore
	ensured []string
	dropped []string
}

func (ts *trackingStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	ts.ensured = append(ts.ensured, name)
	return ts.VectorStore.EnsureCollection(ctx, name, dim)
}

func (ts *trackingStore) DropCollection(ctx context.Context, name string) error {
	ts.dropped = append(ts.dropped, name)
	return ts.VectorStore.DropCollection(ctx, name)
}

func TestCreateKnowledgeBase_RowFailureDropsCollection(t *testing.T) {
	ctx := context.Background()
	db := newFakeKBStore()
	db.createErr = errors.New("db down")
	store := &trackingStore{VectorStore: vectorstore.NewMemoryStore()}
	svc := NewKnowledgeService(db, store, 4)

	_, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "docs"})
	require.Error(t, err)

	// the collection provisioned before the failed insert must be gone
	require.Len(t, store.ensured, 1)
	assert.Equal(t, store.ensured, store.dropped)
	ok, err := store.HasCollection(ctx, store.ensured[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetKnowledgeBase_OwnershipScoped(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	kb, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "docs"})
	require.NoError(t, err)

	got, err := svc.GetKnowledgeBase(ctx, "u1", kb.ID)
	require.NoError(t, err)
	assert.Equal(t, kb.ID, got.ID)

	_, err = svc.GetKnowledgeBase(ctx, "u2", kb.ID)
	assert.ErrorIs(t, err, core.ErrNotFound, "other users must not see the knowledge base")
}

func TestDeleteKnowledgeBase_DropsCollection(t *testing.T) {
	ctx := context.Background()
	svc, db, store := newTestService()

	kb, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "docs"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteKnowledgeBase(ctx, "u1", kb.ID))

	ok, err := store.HasCollection(ctx, kb.CollectionName)
	require.NoError(t, err)
	assert.False(t, ok)
	_, exists := db.kbs[kb.ID]
	assert.False(t, exists)
}

func TestUpdateRetrievalConfig(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	kb, err := svc.CreateKnowledgeBase(ctx, "u1", CreateParams{Name: "docs"})
	require.NoError(t, err)

	updated, err := svc.UpdateRetrievalConfig(ctx, "u1", kb.ID, RetrievalConfig{
		ChunkSize:           1024,
		ChunkOverlap:        100,
		TopK:                15,
		TopN:                5,
		SimilarityThreshold: 0.6,
		SearchMode:          "keyword",
		RerankEnabled:       false,
	})
	require.NoError(t, err)
	assert.Equal(t, 1024, updated.ChunkSize)
	assert.Equal(t, "keyword", updated.SearchMode)
	assert.False(t, updated.RerankEnabled)

	// invalid mode is rejected before persisting
	_, err = svc.UpdateRetrievalConfig(ctx, "u1", kb.ID, RetrievalConfig{
		ChunkSize: 512, ChunkOverlap: 50, TopK: 10, TopN: 5,
		SimilarityThreshold: 0.7, SearchMode: "fuzzy",
	})
	var modeErr *core.UnknownModeError
	assert.ErrorAs(t, err, &modeErr)

	cfg, err := svc.GetRetrievalConfig(ctx, "u1", kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "keyword", cfg.SearchMode, "failed update must not change stored config")
}
