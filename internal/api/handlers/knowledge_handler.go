package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agonx-ai/agonx-knowledge/internal/services"
)

type KnowledgeHandler struct {
	knowledge *services.KnowledgeService
}

func NewKnowledgeHandler(knowledge *services.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge}
}

type createKnowledgeBaseRequest struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	ChunkSize           int      `json:"chunk_size"`
	ChunkOverlap        *int     `json:"chunk_overlap"`
	TopK                int      `json:"top_k"`
	TopN                int      `json:"top_n"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	SearchMode          string   `json:"search_mode"`
	RerankEnabled       *bool    `json:"rerank_enabled"`
}

func (h *KnowledgeHandler) CreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	kb, err := h.knowledge.CreateKnowledgeBase(r.Context(), userID, services.CreateParams{
		Name:                req.Name,
		Description:         req.Description,
		ChunkSize:           req.ChunkSize,
		ChunkOverlap:        req.ChunkOverlap,
		TopK:                req.TopK,
		TopN:                req.TopN,
		SimilarityThreshold: req.SimilarityThreshold,
		SearchMode:          req.SearchMode,
		RerankEnabled:       req.RerankEnabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (h *KnowledgeHandler) ListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kbs, err := h.knowledge.ListKnowledgeBases(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kbs)
}

func (h *KnowledgeHandler) GetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (h *KnowledgeHandler) DeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.knowledge.DeleteKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *KnowledgeHandler) GetRetrievalConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	cfg, err := h.knowledge.GetRetrievalConfig(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *KnowledgeHandler) UpdateRetrievalConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var cfg services.RetrievalConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	updated, err := h.knowledge.UpdateRetrievalConfig(r.Context(), userID, chi.URLParam(r, "kb_id"), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
