// Package services holds the application-level orchestration between the
// HTTP layer and the core stores and engines.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// Knowledge base retrieval defaults applied when a create request leaves
// a field unset.
const (
	DefaultChunkSize           = 512
	DefaultChunkOverlap        = 50
	DefaultTopK                = 10
	DefaultTopN                = 5
	DefaultSimilarityThreshold = 0.7
	DefaultSearchMode          = string(core.ModeHybrid)
	DefaultRerankEnabled       = true
)

// KnowledgeService manages knowledge base lifecycle: each knowledge base
// owns one vector collection, created before the row and dropped with it.
type KnowledgeService struct {
	db     core.DbClient
	store  core.VectorStore
	embDim int
}

func NewKnowledgeService(db core.DbClient, store core.VectorStore, embeddingDim int) *KnowledgeService {
	return &KnowledgeService{db: db, store: store, embDim: embeddingDim}
}

// CreateParams carries the caller-settable fields of a knowledge base.
// Zero values fall back to the service defaults.
type CreateParams struct {
	Name                string
	Description         string
	ChunkSize           int
	ChunkOverlap        *int
	TopK                int
	TopN                int
	SimilarityThreshold *float64
	SearchMode          string
	RerankEnabled       *bool
}

// CollectionNameFor derives the vector collection name of a knowledge
// base from its id. Collection names must be stable: they are written
// into the vector store's DDL at create time.
func CollectionNameFor(kbID string) string {
	return "agonx_" + strings.ReplaceAll(kbID, "-", "_")
}

// CreateKnowledgeBase provisions the vector collection first and only
// then persists the row, so a stored knowledge base always has a
// searchable collection behind it.
func (s *KnowledgeService) CreateKnowledgeBase(ctx context.Context, userID string, p CreateParams) (*models.KnowledgeBase, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: knowledge base name is required", core.ErrInvalid)
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	kb := &models.KnowledgeBase{
		ID:                  id,
		UserID:              userID,
		Name:                p.Name,
		Description:         p.Description,
		CollectionName:      CollectionNameFor(id),
		ChunkSize:           DefaultChunkSize,
		ChunkOverlap:        DefaultChunkOverlap,
		TopK:                DefaultTopK,
		TopN:                DefaultTopN,
		SimilarityThreshold: DefaultSimilarityThreshold,
		SearchMode:          DefaultSearchMode,
		RerankEnabled:       DefaultRerankEnabled,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if p.ChunkSize > 0 {
		kb.ChunkSize = p.ChunkSize
	}
	if p.ChunkOverlap != nil && *p.ChunkOverlap >= 0 {
		kb.ChunkOverlap = *p.ChunkOverlap
	}
	if p.TopK > 0 {
		kb.TopK = p.TopK
	}
	if p.TopN > 0 {
		kb.TopN = p.TopN
	}
	if p.SimilarityThreshold != nil {
		kb.SimilarityThreshold = *p.SimilarityThreshold
	}
	if p.SearchMode != "" {
		mode, err := core.ParseSearchMode(p.SearchMode)
		if err != nil {
			return nil, err
		}
		kb.SearchMode = string(mode)
	}
	if p.RerankEnabled != nil {
		kb.RerankEnabled = *p.RerankEnabled
	}
	if err := validateRetrievalConfig(kb); err != nil {
		return nil, err
	}

	if err := s.store.EnsureCollection(ctx, kb.CollectionName, s.embDim); err != nil {
		return nil, fmt.Errorf("provision collection %s: %w", kb.CollectionName, err)
	}
	if err := s.db.CreateKnowledgeBase(ctx, kb); err != nil {
		// best effort rollback of the collection created above
		if dropErr := s.store.DropCollection(ctx, kb.CollectionName); dropErr != nil {
			return nil, fmt.Errorf("create knowledge base: %w (collection %s left behind: %v)", err, kb.CollectionName, dropErr)
		}
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}
	return kb, nil
}

// GetKnowledgeBase returns one knowledge base owned by userID.
func (s *KnowledgeService) GetKnowledgeBase(ctx context.Context, userID, kbID string) (*models.KnowledgeBase, error) {
	kb, err := s.db.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if kb.UserID != userID {
		return nil, fmt.Errorf("knowledge base %s: %w", kbID, core.ErrNotFound)
	}
	return kb, nil
}

func (s *KnowledgeService) ListKnowledgeBases(ctx context.Context, userID string) ([]models.KnowledgeBase, error) {
	return s.db.ListKnowledgeBasesByUser(ctx, userID)
}

// DeleteKnowledgeBase drops the vector collection and then deletes the
// row; documents, pages, elements and chunks go with it via cascade.
func (s *KnowledgeService) DeleteKnowledgeBase(ctx context.Context, userID, kbID string) error {
	kb, err := s.GetKnowledgeBase(ctx, userID, kbID)
	if err != nil {
		return err
	}
	if err := s.store.DropCollection(ctx, kb.CollectionName); err != nil {
		return fmt.Errorf("drop collection %s: %w", kb.CollectionName, err)
	}
	return s.db.DeleteKnowledgeBase(ctx, kbID)
}

// RetrievalConfig is the tunable subset of a knowledge base. Chunking
// settings apply to future ingestions only; retrieval settings take
// effect on the next search.
type RetrievalConfig struct {
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	TopK                int     `json:"top_k"`
	TopN                int     `json:"top_n"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	SearchMode          string  `json:"search_mode"`
	RerankEnabled       bool    `json:"rerank_enabled"`
}

func (s *KnowledgeService) GetRetrievalConfig(ctx context.Context, userID, kbID string) (*RetrievalConfig, error) {
	kb, err := s.GetKnowledgeBase(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}
	return &RetrievalConfig{
		ChunkSize:           kb.ChunkSize,
		ChunkOverlap:        kb.ChunkOverlap,
		TopK:                kb.TopK,
		TopN:                kb.TopN,
		SimilarityThreshold: kb.SimilarityThreshold,
		SearchMode:          kb.SearchMode,
		RerankEnabled:       kb.RerankEnabled,
	}, nil
}

// UpdateRetrievalConfig validates and persists the full config.
func (s *KnowledgeService) UpdateRetrievalConfig(ctx context.Context, userID, kbID string, cfg RetrievalConfig) (*RetrievalConfig, error) {
	kb, err := s.GetKnowledgeBase(ctx, userID, kbID)
	if err != nil {
		return nil, err
	}

	mode, err := core.ParseSearchMode(cfg.SearchMode)
	if err != nil {
		return nil, err
	}

	kb.ChunkSize = cfg.ChunkSize
	kb.ChunkOverlap = cfg.ChunkOverlap
	kb.TopK = cfg.TopK
	kb.TopN = cfg.TopN
	kb.SimilarityThreshold = cfg.SimilarityThreshold
	kb.SearchMode = string(mode)
	kb.RerankEnabled = cfg.RerankEnabled
	if err := validateRetrievalConfig(kb); err != nil {
		return nil, err
	}

	if err := s.db.UpdateRetrievalConfig(ctx, kb); err != nil {
		return nil, fmt.Errorf("update retrieval config: %w", err)
	}
	return s.GetRetrievalConfig(ctx, userID, kbID)
}

func validateRetrievalConfig(kb *models.KnowledgeBase) error {
	if kb.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", core.ErrInvalid, kb.ChunkSize)
	}
	if kb.ChunkOverlap < 0 || kb.ChunkOverlap >= kb.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", core.ErrInvalid, kb.ChunkOverlap)
	}
	if kb.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", core.ErrInvalid, kb.TopK)
	}
	if kb.TopN <= 0 || kb.TopN > kb.TopK {
		return fmt.Errorf("%w: top_n must be in [1, top_k], got %d", core.ErrInvalid, kb.TopN)
	}
	if kb.SimilarityThreshold < 0 || kb.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold must be in [0, 1], got %g", core.ErrInvalid, kb.SimilarityThreshold)
	}
	return nil
}
