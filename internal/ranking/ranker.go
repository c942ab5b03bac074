// Package ranking fuses similarity, sentiment, preference and intent
// signals into an ordered, diversified product list.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// Weights are the fixed fusion weights.
type Weights struct {
	Similarity  float64
	Sentiment   float64
	Preference  float64
	IntentBonus float64
}

// DefaultWeights returns the documented default weights.
func DefaultWeights() Weights {
	return Weights{Similarity: 1.0, Sentiment: 0.15, Preference: 0.25, IntentBonus: 0.1}
}

// Config holds ranker settings. It is immutable once passed to NewRanker.
type Config struct {
	TopK    int
	Weights Weights
	// StrictBudget hard-excludes products priced above the query ceiling.
	// Otherwise they only lose the intent bonus.
	StrictBudget bool
	// Caps are fractions of top_k, rounded up. 1.0 disables a cap.
	BrandCapFraction    float64
	CategoryCapFraction float64
}

// DefaultConfig returns default ranker settings.
func DefaultConfig() Config {
	return Config{
		TopK:                9,
		Weights:             DefaultWeights(),
		BrandCapFraction:    1.0 / 3.0,
		CategoryCapFraction: 1.0,
	}
}

// Ranker scores and orders candidates. It keeps no per-query state and is
// safe for concurrent use.
type Ranker struct {
	cfg    Config
	logger *observability.Logger
}

// NewRanker creates a ranker.
func NewRanker(cfg Config, logger *observability.Logger) *Ranker {
	if cfg.TopK <= 0 {
		cfg.TopK = 9
	}
	if cfg.BrandCapFraction <= 0 {
		cfg.BrandCapFraction = 1
	}
	if cfg.CategoryCapFraction <= 0 {
		cfg.CategoryCapFraction = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Ranker{cfg: cfg, logger: logger}
}

// Config returns the ranker configuration.
func (r *Ranker) Config() Config {
	return r.cfg
}

type scoredChunk struct {
	domain.ScoredChunk
	scores    domain.ComponentScores
	aggregate float64
}

// Rank fuses signals per chunk, collapses chunks to their product's best
// chunk, sorts, then applies the diversity pass. A nil profile contributes
// zero preference. topK <= 0 uses the configured value.
func (r *Ranker) Rank(candidates []domain.ScoredChunk, intent domain.QueryIntent, profile *domain.UserProfile, topK int) []domain.RankedCandidate {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	if len(candidates) == 0 {
		return []domain.RankedCandidate{}
	}

	pool := candidates
	if r.cfg.StrictBudget && intent.PriceCeiling != nil {
		pool = make([]domain.ScoredChunk, 0, len(candidates))
		for _, c := range candidates {
			if c.Chunk.Metadata.Price <= *intent.PriceCeiling {
				pool = append(pool, c)
			}
		}
	}

	lo, hi := scoreRange(pool)
	keywords := intent.FeatureKeywords

	byProduct := map[string][]scoredChunk{}
	for _, c := range pool {
		sc := scoredChunk{ScoredChunk: c}
		sc.scores = domain.ComponentScores{
			Similarity:  normalize(c.Score, lo, hi),
			Sentiment:   sentimentOf(c.Chunk),
			Preference:  preferenceScore(c.Chunk, profile),
			IntentBonus: intentBonus(c.Chunk, intent.PriceCeiling, keywords),
		}
		sc.aggregate = r.fuse(sc.scores)
		byProduct[c.Chunk.ProductID] = append(byProduct[c.Chunk.ProductID], sc)
	}

	ranked := make([]domain.RankedCandidate, 0, len(byProduct))
	for productID, chunks := range byProduct {
		sort.SliceStable(chunks, func(i, j int) bool {
			if chunks[i].aggregate != chunks[j].aggregate {
				return chunks[i].aggregate > chunks[j].aggregate
			}
			if chunks[i].Score != chunks[j].Score {
				return chunks[i].Score > chunks[j].Score
			}
			return chunks[i].Chunk.ID < chunks[j].Chunk.ID
		})
		best := chunks[0]
		meta := best.Chunk.Metadata

		sources := make([]domain.ScoredChunk, len(chunks))
		for i, c := range chunks {
			sources[i] = c.ScoredChunk
		}

		ranked = append(ranked, domain.RankedCandidate{
			ProductID:    productID,
			ProductName:  meta.ProductName,
			Brand:        meta.Brand,
			Category:     meta.Category,
			Price:        meta.Price,
			Rating:       meta.Rating,
			Aggregate:    best.aggregate,
			Scores:       best.scores,
			SourceChunks: sources,
		})
	}

	SortCandidates(ranked)
	out := r.diversify(ranked, topK)

	r.logger.Debug().
		Int("candidates", len(candidates)).
		Int("products", len(ranked)).
		Int("selected", len(out)).
		Msg("Ranked candidates")
	return out
}

func (r *Ranker) fuse(s domain.ComponentScores) float64 {
	w := r.cfg.Weights
	return s.Similarity*w.Similarity +
		s.Sentiment*w.Sentiment +
		s.Preference*w.Preference +
		s.IntentBonus*w.IntentBonus
}

// SortCandidates orders by aggregate desc, rating desc, product id asc.
func SortCandidates(c []domain.RankedCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Aggregate != c[j].Aggregate {
			return c[i].Aggregate > c[j].Aggregate
		}
		if c[i].Rating != c[j].Rating {
			return c[i].Rating > c[j].Rating
		}
		return c[i].ProductID < c[j].ProductID
	})
}

// diversify walks the sorted list once, skipping candidates that would
// exceed the brand or category cap, then backfills from the skipped ones in
// order if top_k is still unfilled.
func (r *Ranker) diversify(sorted []domain.RankedCandidate, topK int) []domain.RankedCandidate {
	brandCap := capFor(topK, r.cfg.BrandCapFraction)
	categoryCap := capFor(topK, r.cfg.CategoryCapFraction)

	out := make([]domain.RankedCandidate, 0, minInt(topK, len(sorted)))
	var skipped []domain.RankedCandidate
	brands := map[string]int{}
	categories := map[string]int{}

	for _, c := range sorted {
		if len(out) == topK {
			break
		}
		b := strings.ToLower(c.Brand)
		cat := strings.ToLower(c.Category)
		if (b != "" && brands[b] >= brandCap) || (cat != "" && categories[cat] >= categoryCap) {
			skipped = append(skipped, c)
			continue
		}
		brands[b]++
		categories[cat]++
		out = append(out, c)
	}

	for _, c := range skipped {
		if len(out) == topK {
			break
		}
		out = append(out, c)
	}
	return out
}

func capFor(topK int, fraction float64) int {
	if fraction >= 1 {
		return topK
	}
	n := int(math.Ceil(float64(topK) * fraction))
	if n < 1 {
		n = 1
	}
	return n
}

// scoreRange returns the min and max native similarity.
func scoreRange(c []domain.ScoredChunk) (float64, float64) {
	if len(c) == 0 {
		return 0, 0
	}
	lo, hi := c[0].Score, c[0].Score
	for _, s := range c[1:] {
		lo = math.Min(lo, s.Score)
		hi = math.Max(hi, s.Score)
	}
	return lo, hi
}

// normalize min-max scales a native score into [0,1]. A degenerate range
// maps everything to 1.
func normalize(v, lo, hi float64) float64 {
	if hi-lo < 1e-12 {
		return 1
	}
	return (v - lo) / (hi - lo)
}

func sentimentOf(c domain.Chunk) float64 {
	if c.Metadata.Sentiment == nil {
		return 0
	}
	return math.Max(-1, math.Min(1, *c.Metadata.Sentiment))
}

func preferenceScore(c domain.Chunk, profile *domain.UserProfile) float64 {
	if profile == nil {
		return 0
	}
	var s float64
	if profile.PrefersCategory(c.Metadata.Category) {
		s++
	}
	if profile.PrefersBrand(c.Metadata.Brand) {
		s++
	}
	return s / 2
}

// intentBonus averages price fit and feature keyword coverage over the
// signals the query actually carries.
func intentBonus(c domain.Chunk, ceiling *float64, keywords []string) float64 {
	var sum float64
	var parts int
	if ceiling != nil {
		parts++
		if c.Metadata.Price <= *ceiling {
			sum++
		}
	}
	if len(keywords) > 0 {
		parts++
		haystack := strings.ToLower(c.Text + " " + c.Metadata.ProductName)
		hit := 0
		for _, k := range keywords {
			if strings.Contains(haystack, k) {
				hit++
			}
		}
		sum += float64(hit) / float64(len(keywords))
	}
	if parts == 0 {
		return 0
	}
	return sum / float64(parts)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
