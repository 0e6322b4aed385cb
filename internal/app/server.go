package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agonx-ai/agonx-knowledge/internal/api/handlers"
	"github.com/agonx-ai/agonx-knowledge/internal/config"
	"github.com/agonx-ai/agonx-knowledge/internal/core/retrieval"
	"github.com/agonx-ai/agonx-knowledge/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, knowledge *services.KnowledgeService, documents *services.DocumentService, engine *retrieval.Engine) *Server {
	kbHandler := handlers.NewKnowledgeHandler(knowledge)
	docHandler := handlers.NewDocumentHandler(knowledge, documents)
	searchHandler := handlers.NewSearchHandler(knowledge, engine)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/knowledge", func(api chi.Router) {
		api.Post("/", kbHandler.CreateKnowledgeBase)
		api.Get("/", kbHandler.ListKnowledgeBases)

		api.Route("/{kb_id}", func(kb chi.Router) {
			kb.Get("/", kbHandler.GetKnowledgeBase)
			kb.Delete("/", kbHandler.DeleteKnowledgeBase)
			kb.Get("/config", kbHandler.GetRetrievalConfig)
			kb.Put("/config", kbHandler.UpdateRetrievalConfig)

			kb.Post("/documents", docHandler.UploadDocument)
			kb.Get("/documents", docHandler.ListDocuments)
			kb.Get("/documents/{doc_id}", docHandler.GetDocument)
			kb.Delete("/documents/{doc_id}", docHandler.DeleteDocument)

			kb.Post("/search", searchHandler.Search)
		})
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server.
func (s *Server) Start() {
	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}
