package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/core/retrieval"
	"github.com/agonx-ai/agonx-knowledge/internal/services"
)

type SearchHandler struct {
	knowledge *services.KnowledgeService
	engine    *retrieval.Engine
}

func NewSearchHandler(knowledge *services.KnowledgeService, engine *retrieval.Engine) *SearchHandler {
	return &SearchHandler{knowledge: knowledge, engine: engine}
}

type searchRequest struct {
	Query    string `json:"query"`
	Mode     string `json:"mode"`  // optional, overrides the knowledge base default
	TopK     int    `json:"top_k"` // optional, overrides the knowledge base default
	Enhanced bool   `json:"enhanced"`
}

type searchResponse struct {
	Query   string `json:"query"`
	Mode    string `json:"mode"`
	Results any    `json:"results"`
}

// Search runs retrieval against one knowledge base. The request may
// override the configured mode and top_k; with enhanced set, each hit
// carries neighbouring chunks, related elements and a page preview.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	modeTag := kb.SearchMode
	if req.Mode != "" {
		modeTag = req.Mode
	}
	mode, err := core.ParseSearchMode(modeTag)
	if err != nil {
		writeError(w, err)
		return
	}

	var results any
	if req.Enhanced {
		results, err = h.engine.EnhancedSearch(r.Context(), kb, req.Query, mode, req.TopK)
	} else {
		results, err = h.engine.Search(r.Context(), kb, req.Query, mode, req.TopK)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Mode: string(mode), Results: results})
}
