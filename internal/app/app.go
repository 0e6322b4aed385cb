// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agonx-ai/agonx-knowledge/internal/config"
	"github.com/agonx-ai/agonx-knowledge/internal/core"
	db "github.com/agonx-ai/agonx-knowledge/internal/core/database"
	ingestionengine "github.com/agonx-ai/agonx-knowledge/internal/core/ingestion_engine"
	"github.com/agonx-ai/agonx-knowledge/internal/core/llm"
	objectclient "github.com/agonx-ai/agonx-knowledge/internal/core/object-client"
	"github.com/agonx-ai/agonx-knowledge/internal/core/ocr"
	"github.com/agonx-ai/agonx-knowledge/internal/core/rerank"
	"github.com/agonx-ai/agonx-knowledge/internal/core/retrieval"
	"github.com/agonx-ai/agonx-knowledge/internal/core/vectorstore"
	"github.com/agonx-ai/agonx-knowledge/internal/services"
)

type App struct {
	DBClient    *db.DatabaseClient
	VectorStore core.VectorStore
	Coordinator *ingestionengine.Coordinator
	Server      *Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Database initialized and ready.")

	store, err := vectorstore.NewPgVectorStore(appCtx, dbClient.DB())
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the vector store: %w", err)
	}

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Println("Object client initialized and ready.")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	caps := &core.Capabilities{
		Embedder: embedder,
		Keyword:  dbClient,
	}
	if cfg.OCRURL != "" {
		caps.OCR = ocr.NewHTTPClient(cfg.OCRURL, cfg.OCREngine)
	} else {
		log.Println("OCR_URL not set; visual elements keep empty OCR text.")
	}
	if cfg.RerankURL != "" {
		caps.Reranker = rerank.NewHTTPClient(cfg.RerankURL)
	} else {
		log.Println("RERANK_URL not set; reranking degrades to truncation.")
	}

	coordinator := ingestionengine.NewCoordinator(dbClient, objClient, store, caps, 0)
	engine := retrieval.NewEngine(dbClient, store, objClient, caps)
	engine.PresignTTL = time.Duration(cfg.PresignTTLMin) * time.Minute

	knowledgeService := services.NewKnowledgeService(dbClient, store, cfg.EmbedDim)
	documentService := services.NewDocumentService(dbClient, objClient, store, coordinator)

	server := NewServer(cfg, knowledgeService, documentService, engine)

	return &App{
		DBClient:    dbClient,
		VectorStore: store,
		Coordinator: coordinator,
		Server:      server,
	}, nil
}

func (a *App) Close() {
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
