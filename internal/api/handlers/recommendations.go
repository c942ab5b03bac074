package handlers

import (
	"net/http"

	"github.com/spherical-ai/commerce-rag/internal/generation"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/pipeline"
)

// RecommendationHandler serves recommendation queries.
type RecommendationHandler struct {
	logger      *observability.Logger
	recommender Recommender
}

// NewRecommendationHandler creates a recommendation handler.
func NewRecommendationHandler(logger *observability.Logger, recommender Recommender) *RecommendationHandler {
	return &RecommendationHandler{logger: logger, recommender: recommender}
}

// RecommendationRequestDTO is the request body. A zero topK uses the
// configured default.
type RecommendationRequestDTO struct {
	Query  string   `json:"query" validate:"notblank,max=2000"`
	UserID string   `json:"userId,omitempty" validate:"max=128"`
	TopK   int      `json:"topK,omitempty" validate:"min=0,max=50"`
	Brands []string `json:"brands,omitempty" validate:"omitempty,max=20,dive,required"`
}

// CandidateDTO is one ranked product with its score breakdown.
type CandidateDTO struct {
	ProductID   string             `json:"productId"`
	Name        string             `json:"name"`
	Brand       string             `json:"brand"`
	Category    string             `json:"category"`
	Price       float64            `json:"price"`
	Rating      float64            `json:"rating"`
	Score       float64            `json:"score"`
	Components  ComponentScoresDTO `json:"components"`
	MatchedText []string           `json:"matchedText"`
}

// ComponentScoresDTO keeps each fused signal.
type ComponentScoresDTO struct {
	Similarity  float64 `json:"similarity"`
	Sentiment   float64 `json:"sentiment"`
	Preference  float64 `json:"preference"`
	IntentBonus float64 `json:"intentBonus"`
}

// IntentDTO is the detected query intent.
type IntentDTO struct {
	PriceCeiling    *float64 `json:"priceCeiling,omitempty"`
	IsComparison    bool     `json:"isComparison"`
	IsBudgetQuery   bool     `json:"isBudgetQuery"`
	FeatureKeywords []string `json:"featureKeywords"`
}

// RecommendationResponseDTO is the response body.
type RecommendationResponseDTO struct {
	Outcome    string                    `json:"outcome"`
	Query      string                    `json:"query"`
	Intent     IntentDTO                 `json:"intent"`
	Categories []string                  `json:"categories"`
	Summary    string                    `json:"summary,omitempty"`
	Comparison []generation.Comparison   `json:"comparison,omitempty"`
	Products   []pipeline.ProductSummary `json:"products"`
	Candidates []CandidateDTO            `json:"candidates"`
	Warnings   []string                  `json:"warnings,omitempty"`
	LatencyMs  int64                     `json:"latencyMs"`
}

// Recommend handles POST /recommendations.
func (h *RecommendationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequestDTO
	if !decodeRequest(w, r, &req) {
		return
	}

	res, err := h.recommender.Query(r.Context(), pipeline.Request{
		Query:  req.Query,
		UserID: req.UserID,
		TopK:   req.TopK,
		Brands: req.Brands,
	})
	if err != nil {
		writeDomainError(w, h.logger, "recommendation failed", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toResponseDTO(res))
}

func toResponseDTO(res *pipeline.Result) RecommendationResponseDTO {
	dto := RecommendationResponseDTO{
		Outcome: string(res.Outcome),
		Query:   res.Query,
		Intent: IntentDTO{
			PriceCeiling:    res.Intent.PriceCeiling,
			IsComparison:    res.Intent.IsComparison,
			IsBudgetQuery:   res.Intent.IsBudgetQuery,
			FeatureKeywords: res.Intent.FeatureKeywords,
		},
		Categories: res.Categories,
		Products:   res.Products,
		Candidates: make([]CandidateDTO, 0, len(res.Candidates)),
		Warnings:   res.Warnings,
		LatencyMs:  res.Latency.Milliseconds(),
	}
	if dto.Intent.FeatureKeywords == nil {
		dto.Intent.FeatureKeywords = []string{}
	}
	if res.Generated != nil {
		dto.Summary = res.Generated.Summary
		dto.Comparison = res.Generated.Comparisons
	}

	for _, c := range res.Candidates {
		matched := make([]string, 0, len(c.SourceChunks))
		for _, sc := range c.SourceChunks {
			matched = append(matched, sc.Chunk.Text)
		}
		dto.Candidates = append(dto.Candidates, CandidateDTO{
			ProductID: c.ProductID,
			Name:      c.ProductName,
			Brand:     c.Brand,
			Category:  c.Category,
			Price:     c.Price,
			Rating:    c.Rating,
			Score:     c.Aggregate,
			Components: ComponentScoresDTO{
				Similarity:  c.Scores.Similarity,
				Sentiment:   c.Scores.Sentiment,
				Preference:  c.Scores.Preference,
				IntentBonus: c.Scores.IntentBonus,
			},
			MatchedText: matched,
		})
	}
	return dto
}
