package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// QdrantAdapter implements VectorAdapter over the Qdrant REST API with
// cosine distance. Metadata filters are pushed down into the query.
type QdrantAdapter struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

// NewQdrantAdapter creates an adapter. Call EnsureCollection before use.
func NewQdrantAdapter(cfg QdrantConfig) (*QdrantAdapter, error) {
	if cfg.URL == "" || cfg.Collection == "" {
		return nil, domain.ConfigError("qdrant url and collection are required", nil)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &QdrantAdapter{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection when it does not exist.
func (a *QdrantAdapter) EnsureCollection(ctx context.Context) error {
	if a.dimension <= 0 {
		return domain.ConfigError("qdrant collection dimension must be positive", nil)
	}
	status, err := a.do(ctx, http.MethodGet, a.collectionPath(""), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	return a.createCollection(ctx)
}

func (a *QdrantAdapter) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     a.dimension,
			"distance": "Cosine",
		},
	}
	_, err := a.do(ctx, http.MethodPut, a.collectionPath(""), body, nil)
	return err
}

func (a *QdrantAdapter) Upsert(ctx context.Context, entries []VectorEntry) error {
	points := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		points = append(points, map[string]interface{}{
			"id":      e.ID,
			"vector":  e.Vector,
			"payload": chunkPayload(e.Chunk),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := a.do(ctx, http.MethodPut, a.collectionPath("/points?wait=true"), map[string]interface{}{"points": points}, nil)
	return err
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      interface{}    `json:"id"`
		Score   float64        `json:"score"`
		Payload qdrantPayload `json:"payload"`
	} `json:"result"`
}

func (a *QdrantAdapter) Search(ctx context.Context, query []float32, k int, filters VectorFilters) ([]VectorResult, error) {
	req := map[string]interface{}{
		"vector":       query,
		"limit":        k,
		"with_payload": true,
	}
	if f := qdrantFilter(filters); f != nil {
		req["filter"] = f
	}

	var resp qdrantSearchResponse
	if _, err := a.do(ctx, http.MethodPost, a.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		chunk := r.Payload.chunk()
		results = append(results, VectorResult{ID: chunk.ID, Score: r.Score, Chunk: chunk})
	}
	return results, nil
}

func (a *QdrantAdapter) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := a.do(ctx, http.MethodPost, a.collectionPath("/points/delete?wait=true"), map[string]interface{}{"points": ids}, nil)
	return err
}

func (a *QdrantAdapter) DeleteByProduct(ctx context.Context, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []interface{}{matchAny("product_id", productIDs)},
		},
	}
	_, err := a.do(ctx, http.MethodPost, a.collectionPath("/points/delete?wait=true"), body, nil)
	return err
}

// Reset drops and recreates the collection.
func (a *QdrantAdapter) Reset(ctx context.Context) error {
	status, err := a.do(ctx, http.MethodDelete, a.collectionPath(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return a.createCollection(ctx)
}

func (a *QdrantAdapter) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if _, err := a.do(ctx, http.MethodPost, a.collectionPath("/points/count"), map[string]interface{}{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (a *QdrantAdapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func (a *QdrantAdapter) collectionPath(suffix string) string {
	return a.baseURL + "/collections/" + url.PathEscape(a.collection) + suffix
}

// do sends a JSON request. Transport failures and 429/5xx responses are
// marked retryable.
func (a *QdrantAdapter) do(ctx context.Context, method, endpoint string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("api-key", a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, domain.Retryable(fmt.Errorf("qdrant %s: %w", method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, domain.ClassifyStatus(resp.StatusCode,
			fmt.Errorf("qdrant %s %s failed: %s: %s", method, endpoint, resp.Status, bytes.TrimSpace(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func matchAny(key string, values []string) map[string]interface{} {
	return map[string]interface{}{
		"key":   key,
		"match": map[string]interface{}{"any": values},
	}
}

func qdrantFilter(f VectorFilters) map[string]interface{} {
	var must []interface{}
	if len(f.Categories) > 0 {
		must = append(must, matchAny("category_key", foldKeys(f.Categories)))
	}
	if len(f.Brands) > 0 {
		must = append(must, matchAny("brand_key", foldKeys(f.Brands)))
	}
	if len(f.ChunkTypes) > 0 {
		types := make([]string, len(f.ChunkTypes))
		for i, t := range f.ChunkTypes {
			types[i] = string(t)
		}
		must = append(must, matchAny("chunk_type", types))
	}
	if f.MaxPrice != nil {
		must = append(must, map[string]interface{}{
			"key":   "price",
			"range": map[string]interface{}{"lte": *f.MaxPrice},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

// foldKey normalizes a brand or category for keyword matching. Qdrant
// keyword filters are exact, so points carry folded copies of both fields.
func foldKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

func foldKeys(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = foldKey(v)
	}
	return out
}

// qdrantPayload is the flattened scalar payload stored with each point.
type qdrantPayload struct {
	ChunkID     string   `json:"chunk_id"`
	ProductID   string   `json:"product_id"`
	ChunkType   string   `json:"chunk_type"`
	Seq         int      `json:"seq"`
	Text        string   `json:"text"`
	ProductName string   `json:"product_name"`
	Category    string   `json:"category"`
	Brand       string   `json:"brand"`
	CategoryKey string   `json:"category_key"`
	BrandKey    string   `json:"brand_key"`
	Price       float64  `json:"price"`
	Rating      float64  `json:"rating"`
	Sentiment   *float64 `json:"sentiment_score,omitempty"`
	Truncated   bool     `json:"truncated"`
}

func chunkPayload(c domain.Chunk) qdrantPayload {
	return qdrantPayload{
		ChunkID:     c.ID,
		ProductID:   c.ProductID,
		ChunkType:   string(c.Type),
		Seq:         c.Seq,
		Text:        c.Text,
		ProductName: c.Metadata.ProductName,
		Category:    c.Metadata.Category,
		Brand:       c.Metadata.Brand,
		CategoryKey: foldKey(c.Metadata.Category),
		BrandKey:    foldKey(c.Metadata.Brand),
		Price:       c.Metadata.Price,
		Rating:      c.Metadata.Rating,
		Sentiment:   c.Metadata.Sentiment,
		Truncated:   c.Metadata.Truncated,
	}
}

func (p qdrantPayload) chunk() domain.Chunk {
	return domain.Chunk{
		ID:        p.ChunkID,
		ProductID: p.ProductID,
		Type:      domain.ChunkType(p.ChunkType),
		Seq:       p.Seq,
		Text:      p.Text,
		Metadata: domain.ChunkMetadata{
			ProductName: p.ProductName,
			Category:    p.Category,
			Brand:       p.Brand,
			Price:       p.Price,
			Rating:      p.Rating,
			Sentiment:   p.Sentiment,
			Truncated:   p.Truncated,
		},
	}
}

var _ VectorAdapter = (*QdrantAdapter)(nil)
