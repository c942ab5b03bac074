package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/chunking"
	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/embedding"
	"github.com/spherical-ai/commerce-rag/internal/resilience"
	"github.com/spherical-ai/commerce-rag/internal/retrieval"
	"github.com/spherical-ai/commerce-rag/internal/sentiment"
)

func products() []domain.ProductRecord {
	return []domain.ProductRecord{
		{
			ID: "p1", Name: "Aero 14 Laptop", Brand: "Zenbyte", Category: "Laptops", Price: 899, Rating: 4.4,
			Description: "Ultralight aluminium chassis. Fourteen hour battery.",
			Specs:       domain.SpecList{{Key: "ram", Value: "16GB"}},
			Reviews:     []domain.Review{{Text: "Excellent battery life", Rating: 5}, {Text: " "}},
		},
		{
			ID: "p2", Name: "Pulse Buds", Brand: "Sonix", Category: "Headphones", Price: 79, Rating: 4.1,
			Description: "Wireless earbuds with noise cancelling.",
		},
	}
}

func fastPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxRetries: 1, InitialBackoff: time.Millisecond}
}

func newIndexer(e embedding.Embedder, idx retrieval.VectorAdapter, batch int) *Indexer {
	chunker := chunking.New(chunking.DefaultConfig(), sentiment.NewLexiconScorer(), nil)
	return NewIndexer(chunker, e, idx, Config{EmbedBatchSize: 3, UpsertBatchSize: batch, Retry: fastPolicy()}, nil)
}

func TestBuild_IndexesNonEmptyChunks(t *testing.T) {
	idx := retrieval.NewMemoryAdapter(0)
	ix := newIndexer(embedding.NewMockClient(64), idx, 2)

	var upserts []int
	stats, err := ix.Build(context.Background(), products(), Options{
		Full: true,
		Progress: func(stage string, done, total int) {
			if stage == StageUpsert {
				upserts = append(upserts, done)
			}
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Products)
	assert.Equal(t, 1, stats.EmptyChunks)
	assert.Equal(t, stats.Chunks-1, stats.Upserted)
	assert.Equal(t, int64(stats.Upserted), stats.IndexSize)
	assert.Equal(t, 64, stats.EmbeddingsDim)
	require.NotEmpty(t, upserts)
	assert.Equal(t, stats.Upserted, upserts[len(upserts)-1])
	assert.Equal(t, 2, upserts[0], "upserts are batched")
}

func TestBuild_SelfRetrieval(t *testing.T) {
	ctx := context.Background()
	idx := retrieval.NewMemoryAdapter(0)
	mock := embedding.NewMockClient(128)
	ix := newIndexer(mock, idx, 100)
	_, err := ix.Build(ctx, products(), Options{Full: true})
	require.NoError(t, err)

	chunks := chunking.New(chunking.DefaultConfig(), nil, nil).Chunk(ctx, products()[1])
	target := chunks[len(chunks)-1]

	q, err := mock.EmbedSingle(ctx, target.Text)
	require.NoError(t, err)
	results, err := idx.Search(ctx, q, 3, retrieval.VectorFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, target.ID, results[0].ID)
}

func TestBuild_IncrementalReplacesProductVectors(t *testing.T) {
	ctx := context.Background()
	idx := retrieval.NewMemoryAdapter(0)
	ix := newIndexer(embedding.NewMockClient(32), idx, 100)

	_, err := ix.Build(ctx, products(), Options{Full: true})
	require.NoError(t, err)
	before, _ := idx.Count(ctx)

	updated := products()[0]
	updated.Description = ""
	updated.Specs = nil
	updated.Reviews = nil
	_, err = ix.Build(ctx, []domain.ProductRecord{updated}, Options{})
	require.NoError(t, err)

	after, _ := idx.Count(ctx)
	assert.Less(t, after, before)

	results, err := idx.Search(ctx, make([]float32, 32), 100, retrieval.VectorFilters{})
	require.NoError(t, err)
	perProduct := map[string]int{}
	for _, r := range results {
		perProduct[r.Chunk.ProductID]++
	}
	assert.Equal(t, 1, perProduct["p1"], "only the core chunk remains")
	assert.Positive(t, perProduct["p2"], "other products untouched")
}

type failingEmbedder struct {
	*embedding.MockClient
}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("unauthorized")
}

func TestBuild_EmbeddingFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	idx := retrieval.NewMemoryAdapter(0)
	_, err := newIndexer(embedding.NewMockClient(16), idx, 100).Build(ctx, products(), Options{Full: true})
	require.NoError(t, err)
	before, _ := idx.Count(ctx)

	_, err = newIndexer(failingEmbedder{embedding.NewMockClient(16)}, idx, 100).Build(ctx, products(), Options{Full: true})
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeEmbeddingUnavailable))

	after, _ := idx.Count(ctx)
	assert.Equal(t, before, after)
}

func TestBuild_EmptyCatalog(t *testing.T) {
	idx := retrieval.NewMemoryAdapter(0)
	stats, err := newIndexer(embedding.NewMockClient(16), idx, 100).Build(context.Background(), nil, Options{Full: true})
	require.NoError(t, err)
	assert.Zero(t, stats.Upserted)
	assert.Zero(t, stats.IndexSize)
}
