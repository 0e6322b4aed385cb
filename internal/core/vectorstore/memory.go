package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
)

// MemoryStore is a brute-force cosine-similarity vector store. It backs
// tests and local runs without Postgres, and it enforces the boundary's
// visibility rule strictly: inserted rows are not searchable until Flush.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memEntry struct {
	id  int64
	row core.VectorRow
}

type memCollection struct {
	dim     int
	nextID  int64
	visible []memEntry
	pending []memEntry
}

var _ core.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &memCollection{dim: dim, nextID: 1}
	}
	return nil
}

func (s *MemoryStore) HasCollection(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *MemoryStore) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) Insert(_ context.Context, name string, rows []core.VectorRow) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", name)
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) != col.dim {
			return nil, fmt.Errorf("vector dimension mismatch: got %d want %d", len(r.Embedding), col.dim)
		}
		id := col.nextID
		col.nextID++
		col.pending = append(col.pending, memEntry{id: id, row: r})
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete drops entries by id from both the visible and the pending set,
// so a deleted entry can never surface through a later Flush.
func (s *MemoryStore) Delete(_ context.Context, name string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q does not exist", name)
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	col.visible = without(col.visible, drop)
	col.pending = without(col.pending, drop)
	return nil
}

func without(entries []memEntry, drop map[int64]struct{}) []memEntry {
	kept := entries[:0]
	for _, e := range entries {
		if _, gone := drop[e.id]; !gone {
			kept = append(kept, e)
		}
	}
	return kept
}

func (s *MemoryStore) Flush(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("collection %q does not exist", name)
	}
	col.visible = append(col.visible, col.pending...)
	col.pending = nil
	return nil
}

func (s *MemoryStore) Search(_ context.Context, name string, vector []float32, topK int) ([]core.VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", name)
	}
	if topK <= 0 {
		return nil, nil
	}

	hits := make([]core.VectorHit, 0, len(col.visible))
	for _, e := range col.visible {
		hits = append(hits, core.VectorHit{
			ID:       e.id,
			Score:    cosine(vector, e.row.Embedding),
			Content:  e.row.Content,
			Metadata: e.row.Metadata,
			Source:   e.row.Source,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
