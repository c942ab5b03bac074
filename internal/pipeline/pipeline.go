// Package pipeline runs one recommendation query end to end: intent
// detection, query embedding, category-aware retrieval, ranking, context
// assembly and optional generation.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spherical-ai/commerce-rag/internal/category"
	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/embedding"
	"github.com/spherical-ai/commerce-rag/internal/generation"
	"github.com/spherical-ai/commerce-rag/internal/intent"
	"github.com/spherical-ai/commerce-rag/internal/monitoring"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/profile"
	"github.com/spherical-ai/commerce-rag/internal/ranking"
	"github.com/spherical-ai/commerce-rag/internal/retrieval"
)

// Outcome classifies a completed query.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeEmpty    Outcome = "empty"
	OutcomeDegraded Outcome = "degraded"
)

// Stage names, also used as span names under "pipeline.".
const (
	StageDetectIntent    = "detect_intent"
	StageEmbedQuery      = "embed_query"
	StageRetrieve        = "retrieve"
	StageRank            = "rank"
	StageAssembleContext = "assemble_context"
	StageGenerate        = "generate"
)

// Config holds pipeline settings.
type Config struct {
	// RetrievalTopK bounds each per-category vector query.
	RetrievalTopK int
	// RankTopK is the default number of ranked candidates returned.
	RankTopK int
	// MinDesired is the distinct-product count below which categories expand.
	MinDesired   int
	StrictBudget bool
	Context      ContextConfig
}

// DefaultConfig returns default pipeline settings.
func DefaultConfig() Config {
	return Config{
		RetrievalTopK: 12,
		RankTopK:      9,
		MinDesired:    5,
		Context:       DefaultContextConfig(),
	}
}

// Deps are the pipeline collaborators. Generator, Profiles and Audit are
// optional.
type Deps struct {
	Detector  *intent.Detector
	Expander  *category.Expander
	Embedder  embedding.Embedder
	Retriever *retrieval.Retriever
	Ranker    *ranking.Ranker
	Generator generation.Generator
	Profiles  profile.Store
	Audit     *monitoring.AuditLogger
}

// Request is one recommendation query.
type Request struct {
	Query  string   `json:"query"`
	UserID string   `json:"user_id,omitempty"`
	TopK   int      `json:"top_k,omitempty"`
	Brands []string `json:"brands,omitempty"`
}

// ProductSummary is a compact view of one recommended product.
type ProductSummary struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Brand     string   `json:"brand"`
	Category  string   `json:"category"`
	Price     float64  `json:"price"`
	Rating    float64  `json:"rating"`
	Relevance float64  `json:"relevance"`
	Sentiment *float64 `json:"sentiment,omitempty"`
}

// Result is the outcome of a query. Generated is nil when generation is
// disabled or its output failed validation.
type Result struct {
	Outcome    Outcome                  `json:"outcome"`
	Query      string                   `json:"query"`
	Intent     domain.QueryIntent       `json:"intent"`
	Categories []string                 `json:"categories"`
	Candidates []domain.RankedCandidate `json:"candidates"`
	Context    AssembledContext         `json:"context"`
	Generated  *generation.Response     `json:"generated,omitempty"`
	Products   []ProductSummary         `json:"products"`
	Warnings   []string                 `json:"warnings,omitempty"`
	Latency    time.Duration            `json:"latency"`
}

// Pipeline sequences the query stages. It keeps no state between queries.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *observability.Logger
	tracer trace.Tracer
}

// New creates a pipeline. Missing required collaborators are a ConfigError.
func New(deps Deps, cfg Config, logger *observability.Logger) (*Pipeline, error) {
	switch {
	case deps.Embedder == nil:
		return nil, domain.ConfigError("pipeline requires an embedder", nil)
	case deps.Retriever == nil:
		return nil, domain.ConfigError("pipeline requires a retriever", nil)
	case deps.Ranker == nil:
		return nil, domain.ConfigError("pipeline requires a ranker", nil)
	}
	if deps.Detector == nil {
		deps.Detector = intent.NewDetector()
	}
	if deps.Expander == nil {
		deps.Expander = category.NewExpander(category.Config{})
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = deps.Retriever.TopK()
	}
	if cfg.RankTopK <= 0 {
		cfg.RankTopK = deps.Ranker.Config().TopK
	}
	if cfg.MinDesired <= 0 {
		cfg.MinDesired = 5
	}
	if cfg.Context.MaxProducts <= 0 {
		cfg.Context.MaxProducts = 5
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: logger.WithOperation("query_pipeline"),
		tracer: observability.Tracer(),
	}, nil
}

// Query runs one recommendation query. Embedding, retrieval and generation
// outages abort with a typed error. Zero candidates is OutcomeEmpty, not an
// error. Generated output that fails validation yields OutcomeDegraded with
// the ranked candidates intact.
func (p *Pipeline) Query(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, domain.ValidationError("query is required", nil)
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.query", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
	))
	defer span.End()

	res, err := p.run(ctx, req)
	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.audit(ctx, req, nil, latency, err)
		return nil, err
	}
	res.Latency = latency
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	p.audit(ctx, req, res, latency, nil)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	logger := p.logger.WithContext(ctx)
	res := &Result{Query: req.Query, Categories: []string{}, Candidates: []domain.RankedCandidate{}, Products: []ProductSummary{}}

	// DETECT_INTENT
	_, span := p.tracer.Start(ctx, "pipeline."+StageDetectIntent)
	res.Intent = p.deps.Detector.Detect(req.Query)
	span.SetAttributes(
		attribute.Bool("is_comparison", res.Intent.IsComparison),
		attribute.Bool("is_budget_query", res.Intent.IsBudgetQuery),
	)
	span.End()

	userProfile := p.loadProfile(ctx, req.UserID, res)

	// EMBED_QUERY
	vector, err := p.embedQuery(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	// RETRIEVE
	hits, categories, err := p.retrieve(ctx, req, res.Intent, vector)
	if err != nil {
		return nil, err
	}
	res.Categories = categories

	// RANK
	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.RankTopK
	}
	_, span = p.tracer.Start(ctx, "pipeline."+StageRank)
	res.Candidates = p.deps.Ranker.Rank(hits, res.Intent, userProfile, topK)
	span.SetAttributes(attribute.Int("candidates", len(res.Candidates)))
	span.End()

	if len(res.Candidates) == 0 {
		res.Outcome = OutcomeEmpty
		logger.Info().Str("query", req.Query).Strs("categories", categories).Msg("No candidates for query")
		return res, nil
	}
	res.Products = summarize(res.Candidates, p.cfg.Context.MaxProducts)

	// ASSEMBLE_CONTEXT
	_, span = p.tracer.Start(ctx, "pipeline."+StageAssembleContext)
	res.Context = AssembleContext(res.Candidates, p.cfg.Context)
	span.SetAttributes(
		attribute.Int("chars", len(res.Context.Text)),
		attribute.Bool("truncated", res.Context.Truncated),
	)
	span.End()

	res.Outcome = OutcomeOK
	if p.deps.Generator == nil {
		return res, nil
	}

	// GENERATE
	gctx, span := p.tracer.Start(ctx, "pipeline."+StageGenerate)
	defer span.End()
	generated, err := p.deps.Generator.Generate(gctx, generation.Request{Query: req.Query, Context: res.Context.Text})
	switch {
	case err == nil:
		res.Generated = generated
	case domain.IsType(err, domain.ErrorTypeGenerationSchema):
		span.RecordError(err)
		logger.Warn().Err(err).Msg("Returning ranked candidates without generated text")
		res.Outcome = OutcomeDegraded
		res.Warnings = append(res.Warnings, "generated response failed validation")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !domain.IsType(err, domain.ErrorTypeGenerationUnavailable) {
			err = domain.GenerationUnavailable("generate response", err)
		}
		return nil, err
	}
	return res, nil
}

// loadProfile reads the user's preference snapshot. The profile only
// adjusts scores, so a store failure is logged and the query continues.
func (p *Pipeline) loadProfile(ctx context.Context, userID string, res *Result) *domain.UserProfile {
	if userID == "" || p.deps.Profiles == nil {
		return nil
	}
	prof, err := p.deps.Profiles.Get(ctx, userID)
	switch {
	case err == nil:
		return prof
	case errors.Is(err, profile.ErrNotFound):
		return nil
	default:
		p.logger.Warn().Err(err).Str("user_id", userID).Msg("Profile unavailable, ranking without preferences")
		res.Warnings = append(res.Warnings, "user profile unavailable")
		return nil
	}
}

func (p *Pipeline) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+StageEmbedQuery)
	defer span.End()

	vector, err := p.deps.Embedder.EmbedSingle(ctx, query)
	if err == nil && len(vector) == 0 {
		err = errors.New("empty query embedding")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !domain.IsType(err, domain.ErrorTypeEmbeddingUnavailable) {
			err = domain.EmbeddingUnavailable("embed query", err)
		}
		return nil, err
	}
	return vector, nil
}

// retrieve searches the primary category first and expands to related
// categories only when the primary result is sparse. Without a category in
// the query, the category of the best unfiltered hit becomes the primary.
func (p *Pipeline) retrieve(ctx context.Context, req Request, qi domain.QueryIntent, vector []float32) ([]domain.ScoredChunk, []string, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline."+StageRetrieve)
	defer span.End()

	fail := func(err error) ([]domain.ScoredChunk, []string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}

	filters := retrieval.Filters{Brands: req.Brands}
	if p.cfg.StrictBudget {
		filters.PriceCeiling = qi.PriceCeiling
	}
	topK := p.cfg.RetrievalTopK

	primary, inferred := p.deps.Expander.Infer(req.Query)
	if !inferred {
		hits, err := p.deps.Retriever.Retrieve(ctx, vector, nil, topK, filters)
		if err != nil {
			return fail(err)
		}
		if len(hits) == 0 {
			return hits, []string{}, nil
		}
		primary = hits[0].Chunk.Metadata.Category
		if strings.TrimSpace(primary) == "" {
			return hits, []string{}, nil
		}
	}

	categories := []string{p.deps.Expander.Canonical(primary)}
	hits, err := p.deps.Retriever.Retrieve(ctx, vector, categories, topK, filters)
	if err != nil {
		return fail(err)
	}

	found := retrieval.DistinctProducts(hits)
	expanded := p.deps.Expander.Expand(primary, found, p.cfg.MinDesired)
	if len(expanded) > 1 {
		categories = expanded
		hits, err = p.deps.Retriever.Retrieve(ctx, vector, categories, topK, filters)
		if err != nil {
			return fail(err)
		}
		p.logger.Debug().
			Str("primary", primary).
			Int("primary_products", found).
			Strs("categories", categories).
			Msg("Expanded search to related categories")
	}

	span.SetAttributes(
		attribute.StringSlice("categories", categories),
		attribute.Int("chunks", len(hits)),
	)
	return hits, categories, nil
}

func summarize(candidates []domain.RankedCandidate, limit int) []ProductSummary {
	if limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]ProductSummary, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, ProductSummary{
			ID:        c.ProductID,
			Name:      c.ProductName,
			Brand:     c.Brand,
			Category:  c.Category,
			Price:     c.Price,
			Rating:    c.Rating,
			Relevance: c.Aggregate,
			Sentiment: meanSentiment(c.SourceChunks),
		})
	}
	return out
}

func meanSentiment(chunks []domain.ScoredChunk) *float64 {
	var sum float64
	var n int
	for _, c := range chunks {
		if s := c.Chunk.Metadata.Sentiment; s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}

func (p *Pipeline) audit(ctx context.Context, req Request, res *Result, latency time.Duration, queryErr error) {
	if p.deps.Audit == nil {
		return
	}
	event := monitoring.QueryEvent{
		Query:     req.Query,
		UserID:    req.UserID,
		LatencyMs: latency.Milliseconds(),
	}
	if queryErr != nil {
		event.Outcome = "error"
		event.Error = queryErr.Error()
	} else {
		event.Outcome = string(res.Outcome)
		event.Intent = intentLabel(res.Intent)
		event.Categories = res.Categories
		event.ResultCount = len(res.Candidates)
		for _, c := range res.Candidates {
			event.TopProductIDs = append(event.TopProductIDs, c.ProductID)
		}
	}
	// Audit delivery never changes the query result.
	_ = p.deps.Audit.LogQuery(ctx, event)
}

func intentLabel(qi domain.QueryIntent) string {
	switch {
	case qi.IsComparison:
		return "comparison"
	case qi.IsBudgetQuery:
		return "budget"
	default:
		return "general"
	}
}

// RecordFeedback appends a user interaction to the profile store and
// returns the updated snapshot.
func (p *Pipeline) RecordFeedback(ctx context.Context, userID string, in domain.Interaction) (*domain.UserProfile, error) {
	if p.deps.Profiles == nil {
		return nil, domain.ConfigError("profile store is not configured", nil)
	}
	prof, err := p.deps.Profiles.AppendInteraction(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("user_id", userID).
		Str("product_id", in.ProductID).
		Str("action", string(in.Action)).
		Msg("Recorded interaction")
	return prof, nil
}

// Profile returns the user's profile snapshot.
func (p *Pipeline) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	if p.deps.Profiles == nil {
		return nil, domain.ConfigError("profile store is not configured", nil)
	}
	return p.deps.Profiles.Get(ctx, userID)
}
