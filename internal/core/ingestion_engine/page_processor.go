package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

const (
	pageRenderScale     = 2.0
	pageThumbMaxSide    = 200
	elementThumbMaxSide = 150
)

// ElementPayload is one extracted visual element, not yet persisted.
type ElementPayload struct {
	ElementType   string
	ElementPath   string
	ThumbnailPath string
	Position      *models.Position
	OCRText       string
	OCRConfidence float64
	OCRError      string
	Metadata      map[string]any
}

// PageResult is everything extracted from one page. The page processor
// writes derived assets to the blob store but performs no database
// writes; persistence stays with the coordinator.
type PageResult struct {
	PageNumber        int
	PageImagePath     string
	PageThumbnailPath string
	Width             int
	Height            int
	HasText           bool
	HasImages         bool
	HasTables         bool
	Text              string
	Elements          []ElementPayload
}

// PageProcessor turns one page of a paginated source into a page record
// payload, element payloads and raw text.
type PageProcessor struct {
	obj core.ObjectClient
	ocr core.OCRProvider
}

func NewPageProcessor(obj core.ObjectClient, ocr core.OCRProvider) *PageProcessor {
	return &PageProcessor{obj: obj, ocr: ocr}
}

// ProcessPage extracts a single 1-based page. A failure of one embedded
// image is logged and skipped; a failure of the page itself is returned
// to the caller, which decides whether to skip the page.
func (p *PageProcessor) ProcessPage(ctx context.Context, src PageSource, pageNum int, kbID, docID string) (*PageResult, error) {
	// 1. Render the page and store image + thumbnail.
	imageData, width, height, err := src.Render(pageNum, pageRenderScale)
	if err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Err: err}
	}

	pageImagePath := fmt.Sprintf("%s/%s/pages/page_%d.png", kbID, docID, pageNum)
	if err := p.obj.Put(ctx, pageImagePath, imageData, "image/png"); err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Err: err}
	}

	thumbPath := fmt.Sprintf("%s/%s/thumbnails/page_%d_thumb.png", kbID, docID, pageNum)
	thumbData, err := makeThumbnail(imageData, pageThumbMaxSide)
	if err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Err: err}
	}
	if err := p.obj.Put(ctx, thumbPath, thumbData, "image/png"); err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Err: err}
	}

	// 2. Text layer; empty for pure-image pages.
	text, err := src.Text(pageNum)
	if err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Err: err}
	}

	// 3. Embedded images. One bad image does not drop the page.
	images, err := src.Images(pageNum)
	if err != nil {
		log.Printf("page %d: image enumeration failed, continuing without elements: %v", pageNum, err)
		images = nil
	}

	var elements []ElementPayload
	for idx, img := range images {
		el, err := p.extractImage(ctx, img, idx, pageNum, kbID, docID)
		if err != nil {
			log.Printf("page %d: %v", pageNum, err)
			continue
		}
		elements = append(elements, *el)
	}

	// 4. Table heuristic over the text layer.
	hasTables := detectTables(text)

	return &PageResult{
		PageNumber:        pageNum,
		PageImagePath:     pageImagePath,
		PageThumbnailPath: thumbPath,
		Width:             width,
		Height:            height,
		HasText:           strings.TrimSpace(text) != "",
		HasImages:         len(elements) > 0,
		HasTables:         hasTables,
		Text:              text,
		Elements:          elements,
	}, nil
}

func (p *PageProcessor) extractImage(ctx context.Context, img EmbeddedImage, idx, pageNum int, kbID, docID string) (*ElementPayload, error) {
	name := fmt.Sprintf("p%d_img%d", pageNum, idx)

	imgPath := fmt.Sprintf("%s/%s/images/%s.%s", kbID, docID, name, img.Ext)
	if err := p.obj.Put(ctx, imgPath, img.Data, imageContentType(img.Ext)); err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Element: name, Err: err}
	}

	thumbData, err := makeThumbnail(img.Data, elementThumbMaxSide)
	if err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Element: name, Err: err}
	}
	thumbPath := fmt.Sprintf("%s/%s/images/%s_thumb.png", kbID, docID, name)
	if err := p.obj.Put(ctx, thumbPath, thumbData, "image/png"); err != nil {
		return nil, &core.ExtractionError{Page: pageNum, Element: name, Err: err}
	}

	el := &ElementPayload{
		ElementType:   core.ElementImage,
		ElementPath:   imgPath,
		ThumbnailPath: thumbPath,
		Position:      img.BBox,
		Metadata: map[string]any{
			"format": img.Ext,
			"size":   len(img.Data),
		},
	}

	// OCR is an external capability; its failure degrades the element,
	// not the page.
	if p.ocr != nil {
		res, err := p.ocr.Recognize(ctx, img.Data)
		if err != nil {
			log.Printf("ocr failed for element %s on page %d: %v", name, pageNum, err)
			el.OCRError = err.Error()
		} else {
			el.OCRText = res.Text
			el.OCRConfidence = res.Confidence
		}
	}

	return el, nil
}

// detectTables is a lightweight heuristic: three or more lines that each
// contain multiple column gaps (tab or runs of two-plus spaces) suggest
// tabular layout.
func detectTables(text string) bool {
	tableLines := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		gaps := strings.Count(line, "\t") + countSpaceRuns(line)
		if gaps >= 2 {
			tableLines++
			if tableLines >= 3 {
				return true
			}
		}
	}
	return false
}

func countSpaceRuns(line string) int {
	runs := 0
	spaces := 0
	for _, r := range line {
		if r == ' ' {
			spaces++
			continue
		}
		if spaces >= 2 {
			runs++
		}
		spaces = 0
	}
	return runs
}

func makeThumbnail(imageData []byte, maxSide int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func imageContentType(ext string) string {
	switch strings.ToLower(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "tiff", "tif":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
