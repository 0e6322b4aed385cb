package ingestion_engine

import (
	"bytes"
	"fmt"
	"image/png"
	"io"
	"strconv"

	"github.com/gen2brain/go-fitz"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

// EmbeddedImage is one raster image found on a page.
type EmbeddedImage struct {
	Data []byte
	Ext  string
	BBox *models.Position // nil when the source cannot report placement
}

// PageSource abstracts a paginated document during extraction. Pages are
// 1-based. The page processor depends on this interface only, so it can
// be exercised without a real PDF.
type PageSource interface {
	PageCount() int
	Render(page int, scale float64) (imageData []byte, width, height int, err error)
	Text(page int) (string, error)
	Images(page int) ([]EmbeddedImage, error)
	Close() error
}

// PDFSource reads a PDF from memory. Rendering and the text layer come
// from MuPDF (go-fitz); embedded image extraction from pdfcpu.
type PDFSource struct {
	doc *fitz.Document
	raw []byte
}

var _ PageSource = (*PDFSource)(nil)

func OpenPDF(data []byte) (*PDFSource, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &PDFSource{doc: doc, raw: data}, nil
}

func (s *PDFSource) PageCount() int { return s.doc.NumPage() }

// Render rasterises the page at scale times the base 72 DPI and encodes
// it as PNG.
func (s *PDFSource) Render(page int, scale float64) ([]byte, int, int, error) {
	if scale <= 0 {
		scale = 1
	}
	img, err := s.doc.ImageDPI(page-1, 72*scale)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("render page %d: %w", page, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encode page %d: %w", page, err)
	}
	b := img.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

func (s *PDFSource) Text(page int) (string, error) {
	text, err := s.doc.Text(page - 1)
	if err != nil {
		return "", fmt.Errorf("text layer of page %d: %w", page, err)
	}
	return text, nil
}

// Images extracts the embedded raster images of one page. pdfcpu does
// not report placement, so BBox stays nil for images from this source.
func (s *PDFSource) Images(page int) ([]EmbeddedImage, error) {
	pages := []string{strconv.Itoa(page)}
	extracted, err := pdfapi.ExtractImagesRaw(bytes.NewReader(s.raw), pages, model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("extract images of page %d: %w", page, err)
	}

	var out []EmbeddedImage
	for _, byObj := range extracted {
		for _, img := range byObj {
			data, err := io.ReadAll(img)
			if err != nil {
				return nil, fmt.Errorf("read image on page %d: %w", page, err)
			}
			ext := img.FileType
			if ext == "" {
				ext = "png"
			}
			out = append(out, EmbeddedImage{Data: data, Ext: ext})
		}
	}
	return out, nil
}

func (s *PDFSource) Close() error { return s.doc.Close() }
