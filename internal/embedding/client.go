// Package embedding provides embedding generation services.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// Embedder defines the interface for embedding generation. Index build and
// query time must use the same implementation and dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// Client generates embeddings through any OpenAI-compatible /embeddings API.
type Client struct {
	client    *openai.Client
	model     string
	dimension int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	Timeout   time.Duration
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, domain.ConfigError("embedding API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed generates embeddings for the given texts, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			continue
		}
		embeddings[d.Index] = normalize(d.Embedding)
	}
	for i, e := range embeddings {
		if len(e) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		if len(e) != c.dimension {
			return nil, fmt.Errorf("embedding dimension %d does not match configured %d", len(e), c.dimension)
		}
	}
	return embeddings, nil
}

// EmbedSingle generates an embedding for a single text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (c *Client) Model() string  { return c.model }
func (c *Client) Dimension() int { return c.dimension }

// classifyOpenAIError marks rate limits, 5xx and transport errors retryable.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.ClassifyStatus(apiErr.HTTPStatusCode, fmt.Errorf("embedding API error: %w", err))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.ClassifyStatus(reqErr.HTTPStatusCode, fmt.Errorf("embedding request error: %w", err))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Retryable(fmt.Errorf("embedding transport error: %w", err))
}

// EmbedBatch embeds texts in batches of batchSize, reporting progress after
// each batch.
func EmbedBatch(ctx context.Context, e Embedder, texts []string, batchSize int, progress func(done, total int)) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	return out, nil
}

var _ Embedder = (*Client)(nil)
