package ingestion_engine

import (
	"context"
	"fmt"
	"log"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
)

const defaultIndexBatchSize = 100

// IndexEntry is one (text, metadata) pair bound for the vector
// collection.
type IndexEntry struct {
	Text     string
	Metadata map[string]any
	Source   string
}

// Indexer batches entries, obtains embeddings and upserts them into a
// knowledge base's vector collection.
type Indexer struct {
	store     core.VectorStore
	embedder  core.EmbeddingProvider
	batchSize int
}

func NewIndexer(store core.VectorStore, embedder core.EmbeddingProvider, batchSize int) *Indexer {
	if batchSize <= 0 {
		batchSize = defaultIndexBatchSize
	}
	return &Indexer{store: store, embedder: embedder, batchSize: batchSize}
}

// EnsureCollection bootstraps the target collection with the embedder's
// dimension. Idempotent.
func (ix *Indexer) EnsureCollection(ctx context.Context, collection string) error {
	return ix.store.EnsureCollection(ctx, collection, ix.embedder.Dimension())
}

// IndexEntries processes entries in fixed-size batches, sequentially so
// failure attribution stays per-batch. It returns the vector-entry id
// for every successfully indexed entry, keyed by entry position. When
// one or more batches fail the returned error is a *core.IndexError
// aggregating them; ids of the batches that succeeded remain valid and
// committed.
func (ix *Indexer) IndexEntries(ctx context.Context, collection string, entries []IndexEntry) (map[int]int64, error) {
	ids := make(map[int]int64, len(entries))
	if len(entries) == 0 {
		return ids, nil
	}

	total := (len(entries) + ix.batchSize - 1) / ix.batchSize
	var failures []*core.IndexBatchError

	for b := 0; b < total; b++ {
		lo := b * ix.batchSize
		hi := lo + ix.batchSize
		if hi > len(entries) {
			hi = len(entries)
		}

		batchIDs, err := ix.indexBatch(ctx, collection, entries[lo:hi])
		if err != nil {
			log.Printf("indexer: collection %s batch %d/%d failed: %v", collection, b, total, err)
			failures = append(failures, &core.IndexBatchError{Batch: b, Err: err})
			continue
		}
		for i, id := range batchIDs {
			ids[lo+i] = id
		}
	}

	// Inserted vectors are only guaranteed searchable after a flush.
	flushErr := ix.store.Flush(ctx, collection)
	if flushErr != nil {
		log.Printf("indexer: collection %s flush failed: %v", collection, flushErr)
	}

	if len(failures) > 0 || flushErr != nil {
		return ids, &core.IndexError{Failed: len(failures), Total: total, Batches: failures, FlushErr: flushErr}
	}
	return ids, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, collection string, batch []IndexEntry) ([]int64, error) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}

	vecs, err := ix.embedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	rows := make([]core.VectorRow, len(batch))
	for i := range batch {
		rows[i] = core.VectorRow{
			Embedding: vecs[i],
			Content:   batch[i].Text,
			Metadata:  batch[i].Metadata,
			Source:    batch[i].Source,
		}
	}

	ids, err := ix.store.Insert(ctx, collection, rows)
	if err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	if len(ids) != len(rows) {
		return nil, fmt.Errorf("insert returned %d ids for %d rows", len(ids), len(rows))
	}
	return ids, nil
}

// embedTexts embeds a batch in one call; when the batch call fails it
// degrades to per-text embedding where an individual failure yields a
// zero-vector sentinel. The sentinel is an explicit, logged
// approximation, never a silent success.
func (ix *Indexer) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := ix.embedder.EmbedTexts(ctx, texts)
	if err == nil {
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d want %d", len(vecs), len(texts))
		}
		return vecs, nil
	}

	log.Printf("indexer: batch embedding failed, retrying per text: %v", err)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := ix.embedder.EmbedText(ctx, t)
		if err != nil {
			log.Printf("indexer: embedding failed for text %d, using zero vector: %v", i, err)
			v = make([]float32, ix.embedder.Dimension())
		}
		out[i] = v
	}
	return out, nil
}
