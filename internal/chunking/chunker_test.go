package chunking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/sentiment"
)

type failingScorer struct{}

func (failingScorer) Score(context.Context, string) (float64, error) {
	return 0, errors.New("model offline")
}

func sampleProduct() domain.ProductRecord {
	return domain.ProductRecord{
		ID:          "p-100",
		Name:        "Aero 14 Laptop",
		Brand:       "Zenbyte",
		Category:    "Laptops",
		Price:       899.99,
		Rating:      4.4,
		Description: "A light laptop for students. It weighs 1.2 kg! Battery lasts all day? Yes, up to 14 hours.",
		Specs: domain.SpecList{
			{Key: "cpu", Value: "8-core"},
			{Key: "ram", Value: "16GB"},
		},
		Reviews: []domain.Review{
			{Text: "Excellent keyboard and great battery", Rating: 5},
			{Text: "Terrible speakers", Rating: 2},
		},
	}
}

func countByType(chunks []domain.Chunk) map[domain.ChunkType]int {
	out := map[domain.ChunkType]int{}
	for _, c := range chunks {
		out[c.Type]++
	}
	return out
}

func TestChunker_ProducesTypedChunks(t *testing.T) {
	c := New(DefaultConfig(), sentiment.NewLexiconScorer(), nil)
	chunks := c.Chunk(context.Background(), sampleProduct())

	counts := countByType(chunks)
	assert.Equal(t, 1, counts[domain.ChunkTypeCoreInfo])
	assert.Equal(t, 1, counts[domain.ChunkTypeDescription])
	assert.Equal(t, 2, counts[domain.ChunkTypeSpec])
	assert.Equal(t, 2, counts[domain.ChunkTypeReview])

	core := chunks[0]
	assert.Equal(t, domain.ChunkTypeCoreInfo, core.Type)
	assert.Contains(t, core.Text, "Product: Aero 14 Laptop")
	assert.Contains(t, core.Text, "Price: $899.99")
	assert.Equal(t, "Laptops", core.Metadata.Category)
	assert.Equal(t, "Zenbyte", core.Metadata.Brand)
	assert.Nil(t, core.Metadata.Sentiment)

	for _, ch := range chunks {
		assert.Equal(t, "p-100", ch.ProductID)
		if ch.Type == domain.ChunkTypeReview {
			require.NotNil(t, ch.Metadata.Sentiment)
		}
	}

	reviews := filterType(chunks, domain.ChunkTypeReview)
	assert.Greater(t, *reviews[0].Metadata.Sentiment, 0.0)
	assert.Less(t, *reviews[1].Metadata.Sentiment, 0.0)
	assert.True(t, strings.HasPrefix(reviews[0].Text, "Review (5/5): "))
}

func filterType(chunks []domain.Chunk, t domain.ChunkType) []domain.Chunk {
	var out []domain.Chunk
	for _, c := range chunks {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func TestChunker_StableIDs(t *testing.T) {
	c := New(DefaultConfig(), nil, nil)
	first := c.Chunk(context.Background(), sampleProduct())
	second := c.Chunk(context.Background(), sampleProduct())

	require.Equal(t, len(first), len(second))
	seen := map[string]bool{}
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.False(t, seen[first[i].ID], "duplicate chunk id %s", first[i].ID)
		seen[first[i].ID] = true
	}
	assert.Equal(t, ChunkID("p-100", domain.ChunkTypeCoreInfo, 0), first[0].ID)
	assert.NotEqual(t, ChunkID("p-100", domain.ChunkTypeSpec, 0), ChunkID("p-101", domain.ChunkTypeSpec, 0))
}

func TestChunker_RespectsBounds(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg, nil, nil)

	p := sampleProduct()
	p.Name = strings.Repeat("Very Long Product Name ", 30)
	p.Description = strings.Repeat("This sentence is moderately long and keeps going. ", 20) +
		strings.Repeat("unbroken ", 60) + "end."
	p.Reviews = []domain.Review{{Text: strings.Repeat("wordy ", 200), Rating: 4}}
	for i := 0; i < 30; i++ {
		p.Specs = append(p.Specs, domain.SpecPair{Key: fmt.Sprintf("k%d", i), Value: strings.Repeat("v", 120)})
	}

	truncatedDescriptions := 0
	for _, ch := range c.Chunk(context.Background(), p) {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), cfg.Bound(ch.Type), "chunk %s/%d", ch.Type, ch.Seq)
		if ch.Type == domain.ChunkTypeDescription && ch.Metadata.Truncated {
			truncatedDescriptions++
			assert.True(t, strings.HasPrefix(ch.Text, "unbroken unbroken"))
		}
	}
	assert.Equal(t, 1, truncatedDescriptions, "the oversized sentence yields one flagged chunk")
}

func TestChunker_SpecBatching(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SpecBatchThreshold = 4
	cfg.SpecBatchSize = 5
	c := New(cfg, nil, nil)

	p := sampleProduct()
	p.Specs = nil
	for i := 0; i < 12; i++ {
		p.Specs = append(p.Specs, domain.SpecPair{Key: fmt.Sprintf("s%02d", i), Value: "x"})
	}

	specs := filterType(c.Chunk(context.Background(), p), domain.ChunkTypeSpec)
	require.Len(t, specs, 3)
	assert.Contains(t, specs[0].Text, "- s00: x")
	assert.Contains(t, specs[0].Text, "- s04: x")
	assert.NotContains(t, specs[0].Text, "s05")
	assert.Contains(t, specs[2].Text, "- s10: x")
	assert.Contains(t, specs[2].Text, "- s11: x")

	p.Specs = p.Specs[:4]
	specs = filterType(c.Chunk(context.Background(), p), domain.ChunkTypeSpec)
	assert.Len(t, specs, 4)
}

func TestChunker_DegradesOnMissingFields(t *testing.T) {
	c := New(DefaultConfig(), failingScorer{}, nil)

	p := domain.ProductRecord{
		ID:      "p-bad",
		Price:   -5,
		Rating:  9,
		Specs:   domain.SpecList{{Key: "", Value: ""}},
		Reviews: []domain.Review{{Text: "   "}, {Text: "fine product"}},
	}

	chunks := c.Chunk(context.Background(), p)
	counts := countByType(chunks)
	assert.Equal(t, 1, counts[domain.ChunkTypeCoreInfo])
	assert.Equal(t, 0, counts[domain.ChunkTypeDescription])

	assert.Empty(t, chunks[0].Text)
	assert.Equal(t, 0.0, chunks[0].Metadata.Price)
	assert.Equal(t, 5.0, chunks[0].Metadata.Rating)

	specs := filterType(chunks, domain.ChunkTypeSpec)
	require.Len(t, specs, 1)
	assert.Empty(t, specs[0].Text)

	reviews := filterType(chunks, domain.ChunkTypeReview)
	require.Len(t, reviews, 2)
	assert.Empty(t, reviews[0].Text)
	assert.Equal(t, "fine product", reviews[1].Text)
	assert.Nil(t, reviews[1].Metadata.Sentiment, "scorer failure leaves sentiment absent")
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Screen is 6.1 inches.  Fast!!  Is it good?   Yes")
	assert.Equal(t, []string{"Screen is 6.1 inches.", "Fast!!", "Is it good?", "Yes"}, got)
	assert.Empty(t, SplitSentences("   "))
}

func TestPackSentences(t *testing.T) {
	t.Run("greedy packing never crosses bound", func(t *testing.T) {
		segs := PackSentences("Aaaa aaaa. Bbbb bbbb. Cccc cccc.", 22)
		require.Len(t, segs, 2)
		assert.Equal(t, "Aaaa aaaa. Bbbb bbbb.", segs[0].Text)
		assert.Equal(t, "Cccc cccc.", segs[1].Text)
		assert.False(t, segs[0].Truncated)
	})

	t.Run("oversized sentence is truncated and flagged", func(t *testing.T) {
		segs := PackSentences("Short one. "+strings.Repeat("long ", 10)+"end. Tail here.", 20)
		require.Len(t, segs, 3)
		assert.Equal(t, "Short one.", segs[0].Text)
		assert.False(t, segs[0].Truncated)
		assert.Equal(t, "long long long long", segs[1].Text)
		assert.True(t, segs[1].Truncated)
		assert.Equal(t, "Tail here.", segs[2].Text)
		assert.False(t, segs[2].Truncated)
	})

	t.Run("single huge word", func(t *testing.T) {
		segs := PackSentences(strings.Repeat("x", 45), 20)
		require.Len(t, segs, 1)
		assert.Equal(t, strings.Repeat("x", 20), segs[0].Text)
		assert.True(t, segs[0].Truncated)
	})
}
