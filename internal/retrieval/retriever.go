package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/resilience"
)

// Config holds retriever settings.
type Config struct {
	TopK             int
	OversampleFactor int
	// Concurrent fans category queries out in parallel. Results are merged
	// in category order so output matches the sequential path.
	Concurrent bool
	Retry      resilience.RetryPolicy
}

// DefaultConfig returns default retriever settings.
func DefaultConfig() Config {
	return Config{
		TopK:             12,
		OversampleFactor: 3,
		Retry:            resilience.DefaultRetryPolicy(),
	}
}

// Filters are optional post-retrieval constraints.
type Filters struct {
	PriceCeiling *float64
	Brands       []string
}

// Retriever issues one similarity query per category and merges the hits.
type Retriever struct {
	adapter VectorAdapter
	cfg     Config
	logger  *observability.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(adapter VectorAdapter, cfg Config, logger *observability.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 12
	}
	if cfg.OversampleFactor <= 0 {
		cfg.OversampleFactor = 3
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Retriever{adapter: adapter, cfg: cfg, logger: logger}
}

// TopK returns the configured per-category result bound.
func (r *Retriever) TopK() int {
	return r.cfg.TopK
}

// Retrieve queries each category in order, each bounded by topK. It stops
// once the distinct product count reaches topK x oversample. An empty
// category list runs a single unfiltered query. Results are sorted by score
// descending with chunk id as tie-breaker. A category whose query still fails
// after retries fails the whole call with RetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query []float32, categories []string, topK int, filters Filters) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if len(categories) == 0 {
		categories = []string{""}
	}
	target := topK * r.cfg.OversampleFactor

	var perCategory [][]domain.ScoredChunk
	var err error
	if r.cfg.Concurrent && len(categories) > 1 {
		perCategory, err = r.searchConcurrent(ctx, query, categories, topK, filters)
	} else {
		perCategory, err = r.searchSequential(ctx, query, categories, topK, filters, target)
	}
	if err != nil {
		return nil, err
	}

	merged := mergeUntil(perCategory, target)
	sortScored(merged)

	r.logger.Debug().
		Strs("categories", categories).
		Int("chunks", len(merged)).
		Int("products", DistinctProducts(merged)).
		Msg("Retrieval complete")
	return merged, nil
}

func (r *Retriever) searchSequential(ctx context.Context, query []float32, categories []string, topK int, filters Filters, target int) ([][]domain.ScoredChunk, error) {
	out := make([][]domain.ScoredChunk, 0, len(categories))
	seen := map[string]bool{}
	for _, cat := range categories {
		hits, err := r.searchCategory(ctx, query, cat, topK, filters)
		if err != nil {
			return nil, err
		}
		out = append(out, hits)
		for _, h := range hits {
			seen[h.Chunk.ProductID] = true
		}
		if len(seen) >= target {
			break
		}
	}
	return out, nil
}

func (r *Retriever) searchConcurrent(ctx context.Context, query []float32, categories []string, topK int, filters Filters) ([][]domain.ScoredChunk, error) {
	out := make([][]domain.ScoredChunk, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range categories {
		i, cat := i, cat
		g.Go(func() error {
			hits, err := r.searchCategory(gctx, query, cat, topK, filters)
			if err != nil {
				return err
			}
			out[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Retriever) searchCategory(ctx context.Context, query []float32, category string, topK int, filters Filters) ([]domain.ScoredChunk, error) {
	vf := VectorFilters{Brands: filters.Brands, MaxPrice: filters.PriceCeiling}
	if category != "" {
		vf.Categories = []string{category}
	}

	var results []VectorResult
	err := resilience.Retry(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		results, err = r.adapter.Search(ctx, query, topK, vf)
		return err
	})
	if err != nil {
		r.logger.Error().Err(err).Str("category", category).Msg("Vector search failed")
		return nil, domain.RetrievalUnavailable(fmt.Sprintf("vector search failed for category %q", category), err)
	}

	hits := make([]domain.ScoredChunk, 0, len(results))
	for _, res := range results {
		// Indexes without filter support return unfiltered hits.
		if !vf.Matches(res.Chunk) {
			continue
		}
		if strings.TrimSpace(res.Chunk.Text) == "" {
			continue
		}
		hits = append(hits, domain.ScoredChunk{Chunk: res.Chunk, Score: res.Score})
	}

	r.logger.Debug().
		Str("category", category).
		Int("raw", len(results)).
		Int("kept", len(hits)).
		Msg("Category search")
	return hits, nil
}

// mergeUntil concatenates per-category hits in order, dropping duplicate
// chunks, and stops after the category at which the distinct product count
// reaches target.
func mergeUntil(perCategory [][]domain.ScoredChunk, target int) []domain.ScoredChunk {
	var merged []domain.ScoredChunk
	seenChunks := map[string]bool{}
	seenProducts := map[string]bool{}
	for _, hits := range perCategory {
		for _, h := range hits {
			if seenChunks[h.Chunk.ID] {
				continue
			}
			seenChunks[h.Chunk.ID] = true
			seenProducts[h.Chunk.ProductID] = true
			merged = append(merged, h)
		}
		if len(seenProducts) >= target {
			break
		}
	}
	return merged
}

func sortScored(chunks []domain.ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].Chunk.ID < chunks[j].Chunk.ID
	})
}

// DistinctProducts counts the distinct product ids in chunks.
func DistinctProducts(chunks []domain.ScoredChunk) int {
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		seen[c.Chunk.ProductID] = true
	}
	return len(seen)
}
