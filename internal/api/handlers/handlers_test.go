package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/generation"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/pipeline"
	"github.com/spherical-ai/commerce-rag/internal/profile"
)

type stubRecommender struct {
	res  *pipeline.Result
	err  error
	last pipeline.Request
}

func (s *stubRecommender) Query(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	s.last = req
	return s.res, s.err
}

type stubProfiles struct {
	profiles map[string]*domain.UserProfile
	err      error
}

func (s *stubProfiles) RecordFeedback(_ context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !in.Action.Valid() {
		return nil, domain.ValidationError("unknown action", nil)
	}
	p, ok := s.profiles[userID]
	if !ok {
		p = &domain.UserProfile{UserID: userID}
		s.profiles[userID] = p
	}
	p.ApplyInteraction(in)
	return p, nil
}

func (s *stubProfiles) Profile(_ context.Context, userID string) (*domain.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return p, nil
}

func newMux(rec Recommender, prof ProfileService) http.Handler {
	logger := observability.NopLogger()
	r := chi.NewRouter()
	r.Post("/recommendations", NewRecommendationHandler(logger, rec).Recommend)
	r.Post("/users/{userId}/interactions", NewProfileHandler(logger, prof).RecordInteraction)
	r.Get("/users/{userId}/profile", NewProfileHandler(logger, prof).GetProfile)
	return r
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func floatPtr(v float64) *float64 { return &v }

func sampleResult() *pipeline.Result {
	ceiling := 700.0
	return &pipeline.Result{
		Outcome:    pipeline.OutcomeOK,
		Query:      "laptop under $700",
		Intent:     domain.QueryIntent{PriceCeiling: &ceiling, IsBudgetQuery: true},
		Categories: []string{"Laptops"},
		Candidates: []domain.RankedCandidate{{
			ProductID:   "l2",
			ProductName: "Nova Book",
			Brand:       "Nova",
			Category:    "Laptops",
			Price:       650,
			Rating:      4,
			Aggregate:   0.81,
			Scores:      domain.ComponentScores{Similarity: 1, Sentiment: 0.5, IntentBonus: 1},
			SourceChunks: []domain.ScoredChunk{
				{Chunk: domain.Chunk{ID: "l2-description-0", Text: "Affordable laptop."}, Score: 0.9},
			},
		}},
		Products: []pipeline.ProductSummary{{ID: "l2", Name: "Nova Book", Price: 650}},
		Generated: &generation.Response{
			Summary:     "The Nova Book fits the budget.",
			Comparisons: []generation.Comparison{{Name: "Nova Book", Price: floatPtr(650), Rating: floatPtr(4), KeyFeatures: []string{"light"}}},
		},
		Latency: 12 * time.Millisecond,
	}
}

func TestRecommend_Success(t *testing.T) {
	stub := &stubRecommender{res: sampleResult()}
	rec := do(t, newMux(stub, nil), http.MethodPost, "/recommendations",
		map[string]interface{}{"query": "laptop under $700", "userId": "u1", "topK": 5, "brands": []string{"Nova"}})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, pipeline.Request{Query: "laptop under $700", UserID: "u1", TopK: 5, Brands: []string{"Nova"}}, stub.last)

	var resp RecommendationResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Outcome)
	assert.Equal(t, []string{"Laptops"}, resp.Categories)
	require.NotNil(t, resp.Intent.PriceCeiling)
	assert.Equal(t, 700.0, *resp.Intent.PriceCeiling)
	assert.Equal(t, []string{}, resp.Intent.FeatureKeywords)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "l2", resp.Candidates[0].ProductID)
	assert.Equal(t, 0.81, resp.Candidates[0].Score)
	assert.Equal(t, 1.0, resp.Candidates[0].Components.IntentBonus)
	assert.Equal(t, []string{"Affordable laptop."}, resp.Candidates[0].MatchedText)
	assert.Equal(t, "The Nova Book fits the budget.", resp.Summary)
	assert.Len(t, resp.Comparison, 1)
	assert.Equal(t, int64(12), resp.LatencyMs)
}

func TestRecommend_RejectsBadInput(t *testing.T) {
	stub := &stubRecommender{res: sampleResult()}
	h := newMux(stub, nil)

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{"missing query", map[string]interface{}{"topK": 3}, "query is required"},
		{"blank query", map[string]interface{}{"query": "   "}, "query is required"},
		{"negative topK", map[string]interface{}{"query": "phones", "topK": -1}, "topK must satisfy min=0"},
		{"huge topK", map[string]interface{}{"query": "phones", "topK": 500}, "topK must satisfy max=50"},
		{"blank brand", map[string]interface{}{"query": "phones", "brands": []string{"Apple", ""}}, "brands[1] is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/recommendations", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "validation", body["error"])
			assert.Equal(t, tt.message, body["message"])
		})
	}
	assert.Empty(t, stub.last.Query, "rejected requests never reach the recommender")

	req := httptest.NewRequest(http.MethodPost, "/recommendations", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecommend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"retrieval", domain.RetrievalUnavailable("index down", nil), http.StatusServiceUnavailable, "retrieval_unavailable"},
		{"embedding", domain.EmbeddingUnavailable("embedder down", nil), http.StatusServiceUnavailable, "embedding_unavailable"},
		{"generation", domain.GenerationUnavailable("llm down", nil), http.StatusServiceUnavailable, "generation_unavailable"},
		{"validation", domain.ValidationError("bad", nil), http.StatusBadRequest, "validation"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "internal"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newMux(&stubRecommender{err: tt.err}, nil), http.MethodPost, "/recommendations",
				map[string]string{"query": "phones"})
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error"])
			assert.Contains(t, body["detail"], tt.err.Error())
		})
	}
}

func TestProfiles_RecordAndGet(t *testing.T) {
	store := &stubProfiles{profiles: map[string]*domain.UserProfile{}}
	h := newMux(nil, store)

	rec := do(t, h, http.MethodGet, "/users/u1/profile", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/users/u1/interactions", map[string]interface{}{
		"productId": "l2", "action": "like", "category": "Laptops", "brand": "Nova", "price": 650,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodGet, "/users/u1/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto ProfileDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "u1", dto.UserID)
	assert.Equal(t, []string{"Laptops"}, dto.PreferredCategories)
	assert.Equal(t, []string{"Nova"}, dto.PreferredBrands)
	require.Len(t, dto.History, 1)
	assert.Equal(t, "like", dto.History[0].Action)
}

func TestProfiles_InvalidAction(t *testing.T) {
	h := newMux(nil, &stubProfiles{profiles: map[string]*domain.UserProfile{}})

	rec := do(t, h, http.MethodPost, "/users/u1/interactions", map[string]string{"productId": "l2", "action": "purchase"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "action must be one of: view like dislike", body["message"])

	rec = do(t, h, http.MethodPost, "/users/u1/interactions", map[string]string{"productId": " ", "action": "like"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfiles_StoreUnconfigured(t *testing.T) {
	h := newMux(nil, &stubProfiles{err: domain.ConfigError("no profile store configured", nil)})

	rec := do(t, h, http.MethodGet, "/users/u1/profile", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
