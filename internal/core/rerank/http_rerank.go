// Package rerank adapts an external reranking service (a TEI-style
// /rerank endpoint) behind the core.Reranker capability interface.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/agonx-ai/agonx-knowledge/internal/core"
	"github.com/agonx-ai/agonx-knowledge/internal/models"
)

type HTTPClient struct {
	url    string
	client *http.Client
}

var _ core.Reranker = (*HTTPClient)(nil)

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type rerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type rerankScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores every candidate against the query and returns the topN
// candidates ordered by the reranker's score.
func (c *HTTPClient) Rerank(ctx context.Context, query string, results []models.SearchResult, topN int) ([]models.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}

	texts := make([]string, len(results))
	for i := range results {
		texts[i] = results[i].Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank service returned %d: %s", resp.StatusCode, b)
	}

	var scores []rerankScore
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if topN > len(scores) {
		topN = len(scores)
	}

	out := make([]models.SearchResult, 0, topN)
	for _, s := range scores[:topN] {
		if s.Index < 0 || s.Index >= len(results) {
			continue
		}
		r := results[s.Index]
		r.Score = s.Score
		out = append(out, r)
	}
	return out, nil
}
