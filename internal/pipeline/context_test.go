package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

func candidate(id string, texts ...string) domain.RankedCandidate {
	c := domain.RankedCandidate{
		ProductID: id, ProductName: "Product " + id, Brand: "Acme", Category: "Laptops", Price: 499.5, Rating: 4.3,
	}
	c.SourceChunks = append(c.SourceChunks, domain.ScoredChunk{
		Chunk: domain.Chunk{ID: id + "-core", ProductID: id, Type: domain.ChunkTypeCoreInfo, Text: "Product: Product " + id},
	})
	for i, text := range texts {
		c.SourceChunks = append(c.SourceChunks, domain.ScoredChunk{
			Chunk: domain.Chunk{ID: fmt.Sprintf("%s-%d", id, i), ProductID: id, Type: domain.ChunkTypeDescription, Text: text},
		})
	}
	return c
}

func TestAssembleContext_Format(t *testing.T) {
	out := AssembleContext([]domain.RankedCandidate{
		candidate("p1", "Light and\nfast.", "  ", "Long battery."),
	}, DefaultContextConfig())

	assert.Equal(t,
		"1. Product p1 (Acme, Laptops) | $499.50 | rating 4.3/5 | id p1\n"+
			"   - Light and fast.\n"+
			"   - Long battery.",
		out.Text)
	assert.Equal(t, 1, out.Products)
	assert.Equal(t, 2, out.Chunks)
	assert.False(t, out.Truncated)
}

func TestAssembleContext_ChunksPerProduct(t *testing.T) {
	out := AssembleContext([]domain.RankedCandidate{
		candidate("p1", "a.", "b.", "c.", "d."),
		candidate("p2", "e."),
	}, ContextConfig{MaxChunksPerProduct: 2, MaxTotalChars: 4000})

	assert.Equal(t, 2, out.Products)
	assert.Equal(t, 3, out.Chunks)
	assert.Contains(t, out.Text, "- b.")
	assert.NotContains(t, out.Text, "- c.")
}

func TestAssembleContext_TotalCharBound(t *testing.T) {
	long := strings.Repeat("x", 150)
	var cands []domain.RankedCandidate
	for i := 0; i < 10; i++ {
		cands = append(cands, candidate(fmt.Sprintf("p%d", i), long, long))
	}

	cfg := ContextConfig{MaxChunksPerProduct: 3, MaxTotalChars: 700}
	out := AssembleContext(cands, cfg)
	assert.LessOrEqual(t, len(out.Text), cfg.MaxTotalChars)
	assert.True(t, out.Truncated)
	assert.Less(t, out.Products, 10)

	again := AssembleContext(cands, cfg)
	assert.Equal(t, out, again)
}

func TestAssembleContext_Empty(t *testing.T) {
	out := AssembleContext(nil, DefaultContextConfig())
	assert.Empty(t, out.Text)
	assert.Zero(t, out.Products)
}

func TestSummarize(t *testing.T) {
	pos, neg := 0.8, -0.2
	c := candidate("p1")
	c.Aggregate = 1.3
	c.SourceChunks = append(c.SourceChunks,
		domain.ScoredChunk{Chunk: domain.Chunk{Type: domain.ChunkTypeReview, Metadata: domain.ChunkMetadata{Sentiment: &pos}}},
		domain.ScoredChunk{Chunk: domain.Chunk{Type: domain.ChunkTypeReview, Metadata: domain.ChunkMetadata{Sentiment: &neg}}},
	)

	out := summarize([]domain.RankedCandidate{c, candidate("p2")}, 5)
	require.Len(t, out, 2)
	assert.Equal(t, 1.3, out[0].Relevance)
	require.NotNil(t, out[0].Sentiment)
	assert.InDelta(t, 0.3, *out[0].Sentiment, 1e-9)
	assert.Nil(t, out[1].Sentiment)

	assert.Len(t, summarize([]domain.RankedCandidate{c, c, c}, 2), 2)
}
