// Package retrieval runs vector similarity search over product chunks,
// category by category, with metadata filters.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

// VectorAdapter is the vector index collaborator.
type VectorAdapter interface {
	// Upsert inserts or replaces vectors by id.
	Upsert(ctx context.Context, entries []VectorEntry) error

	// Search returns up to k nearest neighbours matching filters, best first.
	Search(ctx context.Context, query []float32, k int, filters VectorFilters) ([]VectorResult, error)

	// Delete removes vectors by chunk id.
	Delete(ctx context.Context, ids []string) error

	// DeleteByProduct removes every vector of the given products.
	DeleteByProduct(ctx context.Context, productIDs []string) error

	// Reset drops all vectors. Used by full reindex.
	Reset(ctx context.Context) error

	// Count returns the number of vectors in the index.
	Count(ctx context.Context) (int64, error)

	// Close releases resources.
	Close() error
}

// VectorFilters are metadata filters applied at query time.
type VectorFilters struct {
	Categories []string
	Brands     []string
	MaxPrice   *float64
	ChunkTypes []domain.ChunkType
}

// Matches reports whether chunk metadata satisfies the filters.
// String comparisons are case-insensitive.
func (f VectorFilters) Matches(c domain.Chunk) bool {
	if len(f.Categories) > 0 && !containsFold(f.Categories, c.Metadata.Category) {
		return false
	}
	if len(f.Brands) > 0 && !containsFold(f.Brands, c.Metadata.Brand) {
		return false
	}
	if f.MaxPrice != nil && c.Metadata.Price > *f.MaxPrice {
		return false
	}
	if len(f.ChunkTypes) > 0 {
		found := false
		for _, t := range f.ChunkTypes {
			if c.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// VectorEntry is a chunk with its embedding.
type VectorEntry struct {
	ID     string
	Vector []float32
	Chunk  domain.Chunk
}

// VectorResult is a search hit. Score is the index's native similarity.
type VectorResult struct {
	ID    string
	Score float64
	Chunk domain.Chunk
}

// ErrVectorDimensionMismatch indicates a dimension mismatch.
var ErrVectorDimensionMismatch = errors.New("vector dimension mismatch")

// MemoryAdapter is an in-process cosine index for development and tests.
type MemoryAdapter struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string]indexedVector
}

type indexedVector struct {
	chunk  domain.Chunk
	vector []float32
}

// NewMemoryAdapter creates an empty index. A zero dimension is taken from
// the first upsert.
func NewMemoryAdapter(dimension int) *MemoryAdapter {
	return &MemoryAdapter{
		dimension: dimension,
		vectors:   make(map[string]indexedVector),
	}
}

func (a *MemoryAdapter) Upsert(ctx context.Context, entries []VectorEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if a.dimension == 0 {
			a.dimension = len(e.Vector)
		}
		if len(e.Vector) != a.dimension {
			return fmt.Errorf("%w: expected %d, got %d for id %s", ErrVectorDimensionMismatch, a.dimension, len(e.Vector), e.ID)
		}
		a.vectors[e.ID] = indexedVector{chunk: e.Chunk, vector: normalizeVector(e.Vector)}
	}
	return nil
}

// Search scores every matching vector by cosine similarity. Ties are broken
// by id so results are reproducible.
func (a *MemoryAdapter) Search(ctx context.Context, query []float32, k int, filters VectorFilters) ([]VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.dimension != 0 && len(query) != a.dimension {
		return nil, fmt.Errorf("%w: index has %d, query has %d", ErrVectorDimensionMismatch, a.dimension, len(query))
	}

	q := normalizeVector(query)
	results := make([]VectorResult, 0, len(a.vectors))
	for id, iv := range a.vectors {
		if !filters.Matches(iv.chunk) {
			continue
		}
		results = append(results, VectorResult{ID: id, Score: dot(q, iv.vector), Chunk: iv.chunk})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if k >= 0 && k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (a *MemoryAdapter) Delete(ctx context.Context, ids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		delete(a.vectors, id)
	}
	return nil
}

func (a *MemoryAdapter) DeleteByProduct(ctx context.Context, productIDs []string) error {
	drop := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		drop[id] = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for id, iv := range a.vectors {
		if drop[iv.chunk.ProductID] {
			delete(a.vectors, id)
		}
	}
	return nil
}

func (a *MemoryAdapter) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.vectors = make(map[string]indexedVector)
	return nil
}

func (a *MemoryAdapter) Count(ctx context.Context) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return int64(len(a.vectors)), nil
}

func (a *MemoryAdapter) Close() error {
	return nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	// Clamp floating point drift.
	return math.Max(-1, math.Min(1, s))
}

func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

var _ VectorAdapter = (*MemoryAdapter)(nil)
