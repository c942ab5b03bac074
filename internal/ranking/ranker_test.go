package ranking

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
)

func candidate(productID, brand, category string, price, rating, score float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:        productID + "-core",
			ProductID: productID,
			Type:      domain.ChunkTypeCoreInfo,
			Text:      fmt.Sprintf("Product %s by %s", productID, brand),
			Metadata: domain.ChunkMetadata{
				ProductName: "Product " + productID,
				Brand:       brand,
				Category:    category,
				Price:       price,
				Rating:      rating,
			},
		},
		Score: score,
	}
}

func ptr(v float64) *float64 { return &v }

func ids(c []domain.RankedCandidate) []string {
	out := make([]string, len(c))
	for i, x := range c {
		out[i] = x.ProductID
	}
	return out
}

func TestRanker_GroupsByProductUsingBestChunk(t *testing.T) {
	r := NewRanker(DefaultConfig(), nil)

	review := candidate("p1", "Zen", "Laptops", 900, 4.5, 0.70)
	review.Chunk.ID = "p1-review"
	review.Chunk.Type = domain.ChunkTypeReview
	review.Chunk.Metadata.Sentiment = ptr(0.9)

	cands := []domain.ScoredChunk{
		candidate("p1", "Zen", "Laptops", 900, 4.5, 0.80),
		review,
		candidate("p2", "Orbit", "Laptops", 1200, 4.0, 0.75),
	}

	out := r.Rank(cands, domain.QueryIntent{}, nil, 5)
	require.Len(t, out, 2)
	assert.Equal(t, "p1", out[0].ProductID)
	assert.Len(t, out[0].SourceChunks, 2)
	assert.Equal(t, "p1-core", out[0].SourceChunks[0].Chunk.ID)
	assert.InDelta(t, 1.0, out[0].Scores.Similarity, 1e-9)
	assert.Zero(t, out[0].Scores.Preference)
	assert.InDelta(t, out[0].Aggregate, out[0].Scores.Similarity, 1e-9)
}

func TestRanker_FusionFormula(t *testing.T) {
	r := NewRanker(DefaultConfig(), nil)

	a := candidate("a", "Zen", "Laptops", 700, 4, 0.9)
	a.Chunk.Metadata.Sentiment = ptr(0.5)
	b := candidate("b", "Orbit", "Tablets", 1500, 4, 0.5)

	profile := &domain.UserProfile{PreferredCategories: []string{"laptops"}, PreferredBrands: []string{"ZEN"}}
	intent := domain.QueryIntent{PriceCeiling: ptr(800)}

	out := r.Rank([]domain.ScoredChunk{a, b}, intent, profile, 5)
	require.Len(t, out, 2)

	top := out[0]
	assert.Equal(t, "a", top.ProductID)
	assert.InDelta(t, 1.0, top.Scores.Similarity, 1e-9)
	assert.InDelta(t, 0.5, top.Scores.Sentiment, 1e-9)
	assert.InDelta(t, 1.0, top.Scores.Preference, 1e-9)
	assert.InDelta(t, 1.0, top.Scores.IntentBonus, 1e-9)
	assert.InDelta(t, 1.0+0.5*0.15+0.25+0.1, top.Aggregate, 1e-9)

	assert.Zero(t, out[1].Scores.Similarity)
	assert.Zero(t, out[1].Scores.IntentBonus)
}

func TestRanker_DeterministicOutput(t *testing.T) {
	r := NewRanker(DefaultConfig(), nil)
	var cands []domain.ScoredChunk
	for i := 0; i < 20; i++ {
		cands = append(cands, candidate(fmt.Sprintf("p%02d", i), fmt.Sprintf("b%d", i%4), "Laptops", 500, float64(i%3), 0.5))
	}
	intent := domain.QueryIntent{FeatureKeywords: []string{"product"}}

	first, err := json.Marshal(r.Rank(cands, intent, nil, 9))
	require.NoError(t, err)
	second, err := json.Marshal(r.Rank(cands, intent, nil, 9))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRanker_TieBreaks(t *testing.T) {
	r := NewRanker(Config{TopK: 5, Weights: DefaultWeights(), BrandCapFraction: 1, CategoryCapFraction: 1}, nil)
	cands := []domain.ScoredChunk{
		candidate("c", "X", "Laptops", 100, 4.0, 0.5),
		candidate("a", "X", "Laptops", 100, 4.0, 0.5),
		candidate("b", "X", "Laptops", 100, 4.8, 0.5),
	}
	out := r.Rank(cands, domain.QueryIntent{}, nil, 5)
	assert.Equal(t, []string{"b", "a", "c"}, ids(out))
}

func TestRanker_BrandCap(t *testing.T) {
	r := NewRanker(DefaultConfig(), nil)

	var cands []domain.ScoredChunk
	brands := []string{"Alpha", "Beta", "Gamma", "Delta"}
	n := 0
	for _, b := range brands {
		for i := 0; i < 5; i++ {
			// Alpha dominates the score order.
			score := 0.5 - float64(n)*0.01
			cands = append(cands, candidate(fmt.Sprintf("%s-%d", b, i), b, "Laptops", 100, 4, score))
			n++
		}
	}

	out := r.Rank(cands, domain.QueryIntent{}, nil, 9)
	require.Len(t, out, 9)
	counts := map[string]int{}
	for _, c := range out {
		counts[c.Brand]++
	}
	for b, c := range counts {
		assert.LessOrEqual(t, c, 3, "brand %s", b)
	}
	assert.Equal(t, "Alpha-0", out[0].ProductID)
}

func TestRanker_BackfillWhenCapsStarveTopK(t *testing.T) {
	r := NewRanker(DefaultConfig(), nil)
	var cands []domain.ScoredChunk
	for i := 0; i < 6; i++ {
		cands = append(cands, candidate(fmt.Sprintf("a%d", i), "Alpha", "Laptops", 100, 4, 0.9-float64(i)*0.01))
	}
	cands = append(cands, candidate("b0", "Beta", "Laptops", 100, 4, 0.1))

	out := r.Rank(cands, domain.QueryIntent{}, nil, 6)
	require.Len(t, out, 6)
	assert.Equal(t, []string{"a0", "a1", "b0", "a2", "a3", "a4"}, ids(out))
}

func TestRanker_BudgetSoftAndStrict(t *testing.T) {
	cands := []domain.ScoredChunk{
		candidate("pricey", "Zen", "Laptops", 1500, 4.9, 0.95),
		candidate("cheap", "Orbit", "Laptops", 700, 4.0, 0.60),
	}
	intent := domain.QueryIntent{PriceCeiling: ptr(800), IsBudgetQuery: true}

	soft := NewRanker(DefaultConfig(), nil).Rank(cands, intent, nil, 5)
	require.Len(t, soft, 2)
	assert.Equal(t, "pricey", soft[0].ProductID, "competitive over-budget product is not excluded")
	assert.Zero(t, soft[0].Scores.IntentBonus)
	assert.InDelta(t, 1.0, soft[1].Scores.IntentBonus, 1e-9)

	cfg := DefaultConfig()
	cfg.StrictBudget = true
	strict := NewRanker(cfg, nil).Rank(cands, intent, nil, 5)
	assert.Equal(t, []string{"cheap"}, ids(strict))
}

func TestRanker_EmptyInput(t *testing.T) {
	out := NewRanker(DefaultConfig(), nil).Rank(nil, domain.QueryIntent{}, nil, 9)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestIntentBonus_KeywordCoverage(t *testing.T) {
	c := candidate("p", "Zen", "Headphones", 100, 4, 0.5).Chunk
	c.Text = "Wireless noise cancelling headphones"

	assert.InDelta(t, 0.5, intentBonus(c, nil, []string{"wireless", "waterproof"}), 1e-9)
	assert.InDelta(t, 0.75, intentBonus(c, ptr(200), []string{"wireless", "waterproof"}), 1e-9)
	assert.Zero(t, intentBonus(c, nil, nil))
}

func TestCapFor(t *testing.T) {
	assert.Equal(t, 3, capFor(9, 1.0/3.0))
	assert.Equal(t, 4, capFor(10, 1.0/3.0))
	assert.Equal(t, 9, capFor(9, 1))
	assert.Equal(t, 1, capFor(1, 0.1))
}
