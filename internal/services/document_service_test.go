package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/core/vectorstore"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// fakeDocStore implements the document slice of the persistence
// interface. Deleting a document cascades to its chunks, like the
// schema's foreign keys do.
type fakeDocStore struct {
	core.DbClient
	docs      map[string]*models.Document
	chunks    []models.Chunk
	createErr error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: map[string]*models.Document{}}
}

func (f *fakeDocStore) CreateDocument(_ context.Context, doc *models.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return nil
}

func (f *fakeDocStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDocStore) ListChunksByDocument(_ context.Context, documentID string) ([]models.Chunk, error) {
	var out []models.Chunk
	for _, ch := range f.chunks {
		if ch.DocumentID == documentID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (f *fakeDocStore) DeleteDocument(_ context.Context, id string) error {
	delete(f.docs, id)
	kept := f.chunks[:0]
	for _, ch := range f.chunks {
		if ch.DocumentID != id {
			kept = append(kept, ch)
		}
	}
	f.chunks = kept
	return nil
}

// fakeBlobStore keeps blobs in a map, with prefix deletion.
type fakeBlobStore struct {
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	f.blobs[key] = data
	return nil
}

func (f *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	delete(f.blobs, key)
	return nil
}

func (f *fakeBlobStore) DeletePrefix(_ context.Context, prefix string) error {
	for key := range f.blobs {
		if strings.HasPrefix(key, prefix) {
			delete(f.blobs, key)
		}
	}
	return nil
}

func (f *fakeBlobStore) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + key, nil
}

// fakeIngestor records queued document ids and can refuse work.
type fakeIngestor struct {
	queued []string
	busy   bool
}

func (f *fakeIngestor) Start(context.Context, int) {}

func (f *fakeIngestor) Enqueue(docID string) error {
	if f.busy {
		return fmt.Errorf("document %s: %w", docID, core.ErrBusy)
	}
	f.queued = append(f.queued, docID)
	return nil
}

func (f *fakeIngestor) ProcessOne(context.Context, string) error { return nil }

func docTestKB() *models.KnowledgeBase {
	return &models.KnowledgeBase{
		ID:             "kb1",
		UserID:         "u1",
		CollectionName: "agonx_kb1",
	}
}

type documentFixture struct {
	db       *fakeDocStore
	obj      *fakeBlobStore
	store    *vectorstore.MemoryStore
	ingestor *fakeIngestor
	svc      *DocumentService
}

func newDocumentFixture(t *testing.T) *documentFixture {
	t.Helper()
	db := newFakeDocStore()
	obj := newFakeBlobStore()
	store := vectorstore.NewMemoryStore()
	require.NoError(t, store.EnsureCollection(context.Background(), "agonx_kb1", 2))
	ingestor := &fakeIngestor{}
	return &documentFixture{
		db:       db,
		obj:      obj,
		store:    store,
		ingestor: ingestor,
		svc:      NewDocumentService(db, obj, store, ingestor),
	}
}

// seedIngested plants a document with indexed chunks and derived blobs,
// as if ingestion had completed.
func (fx *documentFixture) seedIngested(t *testing.T, ctx context.Context, docID string, contents ...string) *models.Document {
	t.Helper()
	doc := &models.Document{
		ID:              docID,
		KnowledgeBaseID: "kb1",
		Filename:        docID + ".pdf",
		FilePath:        fmt.Sprintf("kb1/%s/%s.pdf", docID, docID),
		Status:          models.StatusCompleted,
	}
	fx.db.docs[docID] = doc

	rows := make([]core.VectorRow, len(contents))
	for i, c := range contents {
		rows[i] = core.VectorRow{Embedding: []float32{1, 0}, Content: c}
	}
	ids, err := fx.store.Insert(ctx, "agonx_kb1", rows)
	require.NoError(t, err)
	require.NoError(t, fx.store.Flush(ctx, "agonx_kb1"))
	for i, id := range ids {
		fx.db.chunks = append(fx.db.chunks, models.Chunk{
			ID:         fmt.Sprintf("%s-c%d", docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			Content:    contents[i],
			VectorID:   id,
		})
	}

	fx.obj.blobs[doc.FilePath] = []byte("%PDF-fake")
	fx.obj.blobs[fmt.Sprintf("kb1/%s/pages/page_1.png", docID)] = []byte("png")
	fx.obj.blobs[fmt.Sprintf("kb1/%s/thumbnails/page_1_thumb.png", docID)] = []byte("png")
	return doc
}

func TestUploadDocument_StoresAndQueues(t *testing.T) {
	ctx := context.Background()
	fx := newDocumentFixture(t)

	doc, err := fx.svc.UploadDocument(ctx, docTestKB(), "notes.txt", []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusProcessing, doc.Status)
	assert.Equal(t, "txt", doc.FileType)
	assert.Equal(t, []string{doc.ID}, fx.ingestor.queued)

	stored, err := fx.obj.Get(ctx, doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), stored)
}

func TestUploadDocument_QueueFullRollsBack(t *testing.T) {
	ctx := context.Background()
	fx := newDocumentFixture(t)
	fx.ingestor.busy = true

	_, err := fx.svc.UploadDocument(ctx, docTestKB(), "notes.txt", []byte("hello"))
	require.ErrorIs(t, err, core.ErrBusy)

	assert.Empty(t, fx.db.docs, "refused upload must not leave a document row")
	assert.Empty(t, fx.obj.blobs, "refused upload must not leave a blob")
}

func TestDeleteDocument_RemovesVectorEntries(t *testing.T) {
	ctx := context.Background()
	fx := newDocumentFixture(t)
	kb := docTestKB()

	fx.seedIngested(t, ctx, "doc1", "content of the removed document")
	fx.seedIngested(t, ctx, "doc2", "content of the surviving document")

	require.NoError(t, fx.svc.DeleteDocument(ctx, kb, "doc1"))

	hits, err := fx.store.Search(ctx, "agonx_kb1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1, "deleted document's vectors must not remain searchable")
	assert.Equal(t, "content of the surviving document", hits[0].Content)
}

func TestDeleteDocument_RemovesDerivedBlobs(t *testing.T) {
	ctx := context.Background()
	fx := newDocumentFixture(t)
	kb := docTestKB()

	fx.seedIngested(t, ctx, "doc1", "first")
	other := fx.seedIngested(t, ctx, "doc2", "second")

	require.NoError(t, fx.svc.DeleteDocument(ctx, kb, "doc1"))

	for key := range fx.obj.blobs {
		assert.False(t, strings.HasPrefix(key, "kb1/doc1/"), "blob %s must be gone", key)
	}
	_, err := fx.obj.Get(ctx, other.FilePath)
	assert.NoError(t, err, "sibling document's blobs stay")

	_, exists := fx.db.docs["doc1"]
	assert.False(t, exists)
	assert.Empty(t, mustChunks(t, fx.db, "doc1"))
}

func TestDeleteDocument_ScopedToKnowledgeBase(t *testing.T) {
	ctx := context.Background()
	fx := newDocumentFixture(t)

	fx.seedIngested(t, ctx, "doc1", "content")

	otherKB := &models.KnowledgeBase{ID: "kb2", UserID: "u1", CollectionName: "agonx_kb2"}
	err := fx.svc.DeleteDocument(ctx, otherKB, "doc1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, exists := fx.db.docs["doc1"]
	assert.True(t, exists, "document in another knowledge base must stay")
}

func mustChunks(t *testing.T, db *fakeDocStore, docID string) []models.Chunk {
	t.Helper()
	chunks, err := db.ListChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	return chunks
}
