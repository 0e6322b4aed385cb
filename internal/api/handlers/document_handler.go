package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agonx-ai/agonx-knowledge/internal/services"
)

const maxUploadBytes = 64 << 20 // 64 MB

type DocumentHandler struct {
	knowledge *services.KnowledgeService
	documents *services.DocumentService
}

func NewDocumentHandler(knowledge *services.KnowledgeService, documents *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{knowledge: knowledge, documents: documents}
}

// UploadDocument accepts a multipart upload, stores it and queues
// ingestion. The response carries the document in its processing state.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}

	// strip any path components from the client-supplied name
	filename := filepath.Base(header.Filename)

	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	doc, err := h.documents.UploadDocument(uploadCtx, kb, filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	docs, err := h.documents.ListDocuments(r.Context(), kb.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// GetDocument returns the full document row, including status and any
// ingestion error message.
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := h.documents.GetDocument(r.Context(), kb.ID, chi.URLParam(r, "doc_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	kb, err := h.knowledge.GetKnowledgeBase(r.Context(), userID, chi.URLParam(r, "kb_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.documents.DeleteDocument(r.Context(), kb, chi.URLParam(r, "doc_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
