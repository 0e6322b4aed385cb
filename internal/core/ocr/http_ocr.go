// Package ocr adapts an external OCR service (PaddleOCR-style HTTP
// endpoint) behind the core.OCRProvider capability interface.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
)

type HTTPClient struct {
	url    string
	engine string
	client *http.Client
}

var _ core.OCRProvider = (*HTTPClient)(nil)

func NewHTTPClient(url, engine string) *HTTPClient {
	return &HTTPClient{
		url:    url,
		engine: engine,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Engine() string { return c.engine }

// Recognize posts the image bytes and decodes
// {text, confidence, lines:[{text, confidence, bbox}]}.
func (c *HTTPClient) Recognize(ctx context.Context, imageData []byte) (*core.OCRResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, body)
	}

	var out core.OCRResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return &out, nil
}
