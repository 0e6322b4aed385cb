package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/google/uuid"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// Coordinator drives document ingestion end to end: it classifies the
// uploaded file, runs the rich-media or plain-text path, indexes the
// resulting chunks and owns the document status state machine.
//
// db:       persistence for documents, pages, elements, chunks, tasks.
// obj:      object storage holding the raw upload and derived assets.
// caps:     external capability registry (embedding, OCR).
// indexer:  batch embedding + vector upsert.
// jobs:     in-memory queue of document IDs to process.
type Coordinator struct {
	db        core.DbClient
	obj       core.ObjectClient
	caps      *core.Capabilities
	indexer   *Indexer
	processor *PageProcessor
	jobs      chan string

	// openSource is swappable so the rich path can run against a fake
	// paginated source.
	openSource func(data []byte) (PageSource, error)
}

var _ Ingestor = (*Coordinator)(nil)

// NewCoordinator constructs the coordinator with a bounded job queue (64).
func NewCoordinator(db core.DbClient, obj core.ObjectClient, store core.VectorStore, caps *core.Capabilities, batchSize int) *Coordinator {
	return &Coordinator{
		db:        db,
		obj:       obj,
		caps:      caps,
		indexer:   NewIndexer(store, caps.Embedder, batchSize),
		processor: NewPageProcessor(obj, caps.OCR),
		jobs:      make(chan string, 64),
		openSource: func(data []byte) (PageSource, error) {
			return OpenPDF(data)
		},
	}
}

// Start runs numWorkers goroutines reading from the jobs channel.
// Independent documents ingest concurrently; one document is always
// processed by a single worker.
func (c *Coordinator) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go func(w int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("ingestion worker %d shutting down", w)
					return
				case docID := <-c.jobs:
					log.Printf("worker %d: processing document %s", w, docID)
					if err := c.ProcessOne(ctx, docID); err != nil {
						log.Printf("worker %d: document %s failed: %v", w, docID, err)
					}
				}
			}
		}(w)
	}
}

// Enqueue schedules a document ID for ingestion without blocking the
// caller. A full queue returns core.ErrBusy so the upload path can turn
// it into a retryable response instead of hanging.
func (c *Coordinator) Enqueue(docID string) error {
	select {
	case c.jobs <- docID:
		return nil
	default:
		return fmt.Errorf("document %s: %w", docID, core.ErrBusy)
	}
}

// ProcessOne ingests a single document. Any unrecovered error marks the
// document failed with the causing message; partially created pages,
// elements and chunks are left in place for diagnosis.
func (c *Coordinator) ProcessOne(ctx context.Context, docID string) error {
	doc, err := c.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("document %s: %w", docID, err)
	}

	kb, err := c.db.GetKnowledgeBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return c.fail(ctx, doc, fmt.Errorf("knowledge base %s: %w", doc.KnowledgeBaseID, err))
	}

	data, err := c.obj.Get(ctx, doc.FilePath)
	if err != nil {
		return c.fail(ctx, doc, fmt.Errorf("fetch upload: %w", err))
	}

	ext := strings.ToLower(filepath.Ext(doc.Filename))
	var out *ingestOutcome
	switch ext {
	case ".pdf":
		out, err = c.processRich(ctx, kb, doc, data)
	case ".txt", ".md":
		out, err = c.processPlain(ctx, kb, doc, string(data))
	case ".doc", ".docx":
		var text string
		text, err = extractWordText(data, ext)
		if err == nil {
			out, err = c.processPlain(ctx, kb, doc, text)
		}
	default:
		err = &core.UnsupportedFormatError{Filename: doc.Filename, Ext: ext}
	}
	if err != nil {
		return c.fail(ctx, doc, err)
	}

	doc.ChunkCount = out.chunkCount
	doc.PageCount = out.pageCount
	doc.HasImages = out.hasImages
	doc.HasTables = out.hasTables
	doc.ContentType = out.contentType
	doc.Metadata = out.metadata
	if err := c.db.UpdateDocumentDerived(ctx, doc); err != nil {
		return c.fail(ctx, doc, fmt.Errorf("persist derived fields: %w", err))
	}
	if err := c.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusCompleted, ""); err != nil {
		return err
	}

	log.Printf("document %s completed: %d chunks, %d pages", doc.ID, out.chunkCount, out.pageCount)
	return nil
}

func (c *Coordinator) fail(ctx context.Context, doc *models.Document, cause error) error {
	if err := c.db.UpdateDocumentStatus(ctx, doc.ID, models.StatusFailed, cause.Error()); err != nil {
		log.Printf("document %s: recording failure state failed too: %v", doc.ID, err)
	}
	return cause
}

// ingestOutcome carries the derived document fields of a finished path.
type ingestOutcome struct {
	chunkCount  int
	pageCount   int
	hasImages   bool
	hasTables   bool
	contentType string
	metadata    map[string]any
}

// chunkDraft is a chunk before indexing assigned its vector id.
type chunkDraft struct {
	id      string
	pageID  string
	index   int
	content string
	start   int
	end     int
	related []string
	tokens  int
}

// processPlain runs the flat-text path: chunk, index, persist.
func (c *Coordinator) processPlain(ctx context.Context, kb *models.KnowledgeBase, doc *models.Document, text string) (*ingestOutcome, error) {
	spans := SplitText(text, kb.ChunkSize, kb.ChunkOverlap)

	drafts := make([]chunkDraft, 0, len(spans))
	for i, sp := range spans {
		drafts = append(drafts, chunkDraft{
			id:      uuid.NewString(),
			index:   i,
			content: sp.Text,
			start:   sp.Start,
			end:     sp.End,
			tokens:  approxTokens(sp.Text),
		})
	}

	n, err := c.indexAndPersist(ctx, kb, doc, drafts)
	if err != nil {
		return nil, err
	}
	return &ingestOutcome{
		chunkCount:  n,
		contentType: models.ContentTypeText,
	}, nil
}

// processRich runs the paginated path: per-page extraction in page
// order, page/element/task persistence, then chunking and indexing. A
// single page's extraction failure is logged and the page skipped; the
// skipped page numbers are recorded in the document metadata.
func (c *Coordinator) processRich(ctx context.Context, kb *models.KnowledgeBase, doc *models.Document, data []byte) (*ingestOutcome, error) {
	src, err := c.openSource(data)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var (
		drafts       []chunkDraft
		skippedPages []int
		hasImages    bool
		hasTables    bool
		chunkIndex   int
	)

	pageCount := src.PageCount()
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		res, err := c.processor.ProcessPage(ctx, src, pageNum, kb.ID, doc.ID)
		if err != nil {
			log.Printf("document %s: skipping page %d: %v", doc.ID, pageNum, err)
			skippedPages = append(skippedPages, pageNum)
			continue
		}

		page := &models.Page{
			ID:                uuid.NewString(),
			DocumentID:        doc.ID,
			PageNumber:        res.PageNumber,
			PageImagePath:     res.PageImagePath,
			PageThumbnailPath: res.PageThumbnailPath,
			Width:             res.Width,
			Height:            res.Height,
			HasText:           res.HasText,
			HasImages:         res.HasImages,
			HasTables:         res.HasTables,
		}
		if err := c.db.CreatePage(ctx, page); err != nil {
			return nil, fmt.Errorf("persist page %d: %w", pageNum, err)
		}

		imageElementIDs, err := c.persistElements(ctx, doc, page, res.Elements)
		if err != nil {
			return nil, err
		}

		hasImages = hasImages || res.HasImages
		hasTables = hasTables || res.HasTables

		for _, sp := range SplitText(res.Text, kb.ChunkSize, kb.ChunkOverlap) {
			drafts = append(drafts, chunkDraft{
				id:      uuid.NewString(),
				pageID:  page.ID,
				index:   chunkIndex,
				content: sp.Text,
				start:   sp.Start,
				end:     sp.End,
				related: imageElementIDs,
				tokens:  approxTokens(sp.Text),
			})
			chunkIndex++
		}
	}

	n, err := c.indexAndPersist(ctx, kb, doc, drafts)
	if err != nil {
		return nil, err
	}

	out := &ingestOutcome{
		chunkCount:  n,
		pageCount:   pageCount,
		hasImages:   hasImages,
		hasTables:   hasTables,
		contentType: models.ContentTypeText,
	}
	if hasImages || hasTables {
		out.contentType = models.ContentTypeMixed
	}
	if len(skippedPages) > 0 {
		out.metadata = map[string]any{"skipped_pages": skippedPages}
	}
	return out, nil
}

func (c *Coordinator) persistElements(ctx context.Context, doc *models.Document, page *models.Page, payloads []ElementPayload) ([]string, error) {
	var imageIDs []string
	for i := range payloads {
		p := &payloads[i]
		el := &models.Element{
			ID:            uuid.NewString(),
			DocumentID:    doc.ID,
			PageID:        page.ID,
			ElementType:   p.ElementType,
			ElementPath:   p.ElementPath,
			ThumbnailPath: p.ThumbnailPath,
			Position:      p.Position,
			OCRText:       p.OCRText,
			Metadata:      p.Metadata,
		}
		if err := c.db.CreateElement(ctx, el); err != nil {
			return nil, fmt.Errorf("persist element on page %d: %w", page.PageNumber, err)
		}
		if p.ElementType == core.ElementImage {
			imageIDs = append(imageIDs, el.ID)
		}

		if c.caps.OCR != nil {
			if err := c.db.CreateOCRTask(ctx, ocrTaskFor(el.ID, c.caps.OCR.Engine(), p)); err != nil {
				return nil, fmt.Errorf("persist ocr task for element %s: %w", el.ID, err)
			}
		}
	}
	return imageIDs, nil
}

func ocrTaskFor(elementID, engine string, p *ElementPayload) *models.OCRTask {
	now := time.Now()
	task := &models.OCRTask{
		ID:        uuid.NewString(),
		ElementID: elementID,
		Engine:    engine,
		StartedAt: &now,
	}
	done := now
	task.CompletedAt = &done
	if p.OCRError != "" {
		task.Status = models.OCRFailed
		task.ErrorMessage = p.OCRError
	} else {
		task.Status = models.OCRCompleted
		task.ResultText = p.OCRText
		task.Confidence = p.OCRConfidence
	}
	return task
}

// indexAndPersist embeds and upserts the drafts, then writes chunk rows
// for every draft whose batch committed. When indexing reports an
// aggregate batch failure the committed chunks stay in place and the
// error propagates so the document is marked failed.
func (c *Coordinator) indexAndPersist(ctx context.Context, kb *models.KnowledgeBase, doc *models.Document, drafts []chunkDraft) (int, error) {
	if len(drafts) == 0 {
		return 0, nil
	}

	if err := c.indexer.EnsureCollection(ctx, kb.CollectionName); err != nil {
		return 0, fmt.Errorf("ensure collection %s: %w", kb.CollectionName, err)
	}

	entries := make([]IndexEntry, len(drafts))
	for i, d := range drafts {
		meta := map[string]any{
			"chunk_id":    d.id,
			"document_id": doc.ID,
			"chunk_index": d.index,
		}
		if d.pageID != "" {
			meta["page_id"] = d.pageID
		}
		entries[i] = IndexEntry{Text: d.content, Metadata: meta, Source: doc.Filename}
	}

	ids, indexErr := c.indexer.IndexEntries(ctx, kb.CollectionName, entries)

	chunks := make([]models.Chunk, 0, len(ids))
	for i, d := range drafts {
		vectorID, ok := ids[i]
		if !ok {
			continue
		}
		chunks = append(chunks, models.Chunk{
			ID:              d.id,
			DocumentID:      doc.ID,
			PageID:          d.pageID,
			ChunkIndex:      d.index,
			Content:         d.content,
			VectorID:        vectorID,
			StartPos:        d.start,
			EndPos:          d.end,
			RelatedElements: d.related,
			TokenCount:      d.tokens,
		})
	}
	if err := c.db.InsertChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}

	if indexErr != nil {
		return len(chunks), indexErr
	}
	return len(chunks), nil
}

// extractWordText converts word-processor bytes to plain text.
func extractWordText(data []byte, ext string) (string, error) {
	mime := "application/msword"
	if ext == ".docx" {
		mime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	res, err := docconv.Convert(bytes.NewReader(data), mime, false)
	if err != nil {
		return "", fmt.Errorf("docconv: %w", err)
	}
	return res.Body, nil
}
