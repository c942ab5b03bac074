// Package app wires configuration into the collaborators shared by the API
// server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spherical-ai/commerce-rag/internal/cache"
	"github.com/spherical-ai/commerce-rag/internal/catalog"
	"github.com/spherical-ai/commerce-rag/internal/category"
	"github.com/spherical-ai/commerce-rag/internal/chunking"
	"github.com/spherical-ai/commerce-rag/internal/config"
	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/embedding"
	"github.com/spherical-ai/commerce-rag/internal/generation"
	"github.com/spherical-ai/commerce-rag/internal/indexing"
	"github.com/spherical-ai/commerce-rag/internal/intent"
	"github.com/spherical-ai/commerce-rag/internal/monitoring"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/pipeline"
	"github.com/spherical-ai/commerce-rag/internal/profile"
	"github.com/spherical-ai/commerce-rag/internal/ranking"
	"github.com/spherical-ai/commerce-rag/internal/resilience"
	"github.com/spherical-ai/commerce-rag/internal/retrieval"
	"github.com/spherical-ai/commerce-rag/internal/sentiment"
)

// App holds the wired collaborators.
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Index    retrieval.VectorAdapter
	Cache    cache.Client
	Profiles profile.Store
	Indexer  *indexing.Indexer
	Pipeline *pipeline.Pipeline

	closers []func() error
}

// New builds every collaborator from cfg. Anything opened before a failure
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (a *App, err error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	publisher, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	if a.Index, err = a.openIndex(ctx); err != nil {
		return nil, err
	}
	if a.Profiles, err = a.openProfiles(ctx); err != nil {
		return nil, err
	}

	baseEmbedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	retry := retryPolicy(cfg.Retrieval)

	scorer, err := newScorer(cfg.Sentiment)
	if err != nil {
		return nil, err
	}
	chunker := chunking.New(chunking.Config{
		CoreInfoMaxChars:    cfg.Chunking.CoreInfoMaxChars,
		DescriptionMaxChars: cfg.Chunking.DescriptionMaxChars,
		SpecMaxChars:        cfg.Chunking.SpecMaxChars,
		ReviewMaxChars:      cfg.Chunking.ReviewMaxChars,
		SpecBatchThreshold:  cfg.Chunking.SpecBatchThreshold,
		SpecBatchSize:       cfg.Chunking.SpecBatchSize,
	}, scorer, logger)

	a.Indexer = indexing.NewIndexer(chunker, baseEmbedder, a.Index, indexing.Config{
		EmbedBatchSize:  cfg.Embedding.BatchSize,
		UpsertBatchSize: cfg.Vector.UpsertBatchSize,
		Retry:           retry,
	}, logger)

	queryEmbedder := embedding.NewRetryingEmbedder(
		embedding.NewCachedEmbedder(baseEmbedder, a.Cache, cfg.Embedding.CacheTTL, logger),
		retry,
	)

	deps := pipeline.Deps{
		Detector: intent.NewDetector(),
		Expander: category.NewExpander(category.Config{
			Related:      cfg.Categories.Related,
			Aliases:      cfg.Categories.Aliases,
			MaxExpansion: cfg.Categories.MaxExpansion,
		}),
		Embedder: queryEmbedder,
		Retriever: retrieval.NewRetriever(a.Index, retrieval.Config{
			TopK:             cfg.Retrieval.TopK,
			OversampleFactor: cfg.Retrieval.OversampleFactor,
			Concurrent:       cfg.Retrieval.Concurrent,
			Retry:            retry,
		}, logger),
		Ranker: ranking.NewRanker(ranking.Config{
			TopK: cfg.Ranking.TopK,
			Weights: ranking.Weights{
				Similarity:  cfg.Ranking.Weights.Similarity,
				Sentiment:   cfg.Ranking.Weights.Sentiment,
				Preference:  cfg.Ranking.Weights.Preference,
				IntentBonus: cfg.Ranking.Weights.IntentBonus,
			},
			StrictBudget:        cfg.Ranking.StrictBudget,
			BrandCapFraction:    cfg.Ranking.BrandCapFraction,
			CategoryCapFraction: cfg.Ranking.CategoryCapFraction,
		}, logger),
		Profiles: a.Profiles,
		Audit:    monitoring.NewAuditLogger(logger, publisher, cfg.Cache.AuditChannel),
	}

	if cfg.Generation.Enabled {
		guard := resilience.NewGuard(resilience.GuardConfig{
			Name:              "generation",
			RequestsPerMinute: cfg.Generation.RequestsPerMinute,
			OpenTimeout:       30 * time.Second,
		}, logger)
		gen, err := generation.NewClient(generation.Config{
			APIKey:      cfg.Generation.APIKey,
			BaseURL:     cfg.Generation.BaseURL,
			Model:       cfg.Generation.Model,
			MaxTokens:   cfg.Generation.MaxTokens,
			Temperature: cfg.Generation.Temperature,
			Timeout:     cfg.Generation.Timeout,
			Retry:       resilience.DefaultRetryPolicy(),
		}, guard, logger)
		if err != nil {
			return nil, err
		}
		deps.Generator = gen
	}

	a.Pipeline, err = pipeline.New(deps, pipeline.Config{
		RetrievalTopK: cfg.Retrieval.TopK,
		RankTopK:      cfg.Ranking.TopK,
		MinDesired:    cfg.Retrieval.MinDesired,
		StrictBudget:  cfg.Ranking.StrictBudget,
		Context: pipeline.ContextConfig{
			MaxChunksPerProduct: cfg.Context.MaxChunksPerProduct,
			MaxTotalChars:       cfg.Context.MaxTotalChars,
			MaxProducts:         cfg.Context.MaxProducts,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("vector", cfg.Vector.Adapter).
		Str("cache", cfg.Cache.Driver).
		Str("profiles", cfg.Database.Driver).
		Str("embedding", cfg.Embedding.Provider).
		Bool("generation", cfg.Generation.Enabled).
		Msg("Application wired")
	return a, nil
}

func (a *App) openCache(ctx context.Context) (cache.Publisher, error) {
	cfg := a.Config.Cache
	switch cfg.Driver {
	case "redis":
		rc, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Cache = rc
		a.closers = append(a.closers, rc.Close)
		return rc, nil
	default:
		mc := cache.NewMemoryClient(cfg.MaxEntries)
		a.Cache = mc
		a.closers = append(a.closers, mc.Close)
		return mc, nil
	}
}

func (a *App) openIndex(ctx context.Context) (retrieval.VectorAdapter, error) {
	cfg := a.Config
	switch cfg.Vector.Adapter {
	case "qdrant":
		qa, err := retrieval.NewQdrantAdapter(retrieval.QdrantConfig{
			URL:        cfg.Vector.Qdrant.URL,
			APIKey:     cfg.Vector.Qdrant.APIKey,
			Collection: cfg.Vector.IndexName,
			Dimension:  cfg.Embedding.Dimension,
			Timeout:    cfg.Vector.Qdrant.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if err := qa.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		a.closers = append(a.closers, qa.Close)
		return qa, nil
	default:
		ma := retrieval.NewMemoryAdapter(cfg.Embedding.Dimension)
		a.closers = append(a.closers, ma.Close)
		return ma, nil
	}
}

func (a *App) openProfiles(ctx context.Context) (profile.Store, error) {
	db := a.Config.Database
	var (
		store profile.Store
		err   error
	)
	switch db.Driver {
	case "sqlite":
		store, err = profile.OpenSQL(ctx, profile.SQLOptions{
			Dialect:      profile.DialectSQLite,
			DSN:          db.SQLite.Path,
			MaxOpenConns: db.SQLite.MaxOpenConns,
			JournalMode:  db.SQLite.JournalMode,
		})
	case "postgres":
		store, err = profile.OpenSQL(ctx, profile.SQLOptions{
			Dialect:         profile.DialectPostgres,
			DSN:             db.Postgres.DSN,
			MaxOpenConns:    db.Postgres.MaxOpenConns,
			MaxIdleConns:    db.Postgres.MaxIdleConns,
			ConnMaxLifetime: db.Postgres.ConnMaxLifetime,
		})
	default:
		store = profile.NewMemoryStore()
	}
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return embedding.NewClient(embedding.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		})
	case "mock", "":
		return embedding.NewMockClient(cfg.Dimension), nil
	default:
		return nil, domain.ConfigError("unknown embedding provider "+cfg.Provider, nil)
	}
}

func newScorer(cfg config.SentimentConfig) (sentiment.Scorer, error) {
	switch cfg.Provider {
	case "http":
		if cfg.Endpoint == "" {
			return nil, domain.ConfigError("sentiment endpoint is required", nil)
		}
		return sentiment.NewHTTPScorer(cfg.Endpoint, cfg.Timeout), nil
	default:
		return sentiment.NewLexiconScorer(), nil
	}
}

func retryPolicy(cfg config.RetrievalConfig) resilience.RetryPolicy {
	p := resilience.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.InitialBackoff > 0 {
		p.InitialBackoff = cfg.InitialBackoff
	}
	p.Timeout = cfg.Timeout
	return p
}

// IndexCatalog loads a catalog file and indexes it.
func (a *App) IndexCatalog(ctx context.Context, path string, opts indexing.Options) (*indexing.Stats, error) {
	snap, err := catalog.LoadFile(path, a.Logger)
	if err != nil {
		return nil, err
	}
	return a.Indexer.Build(ctx, snap.Products, opts)
}

// Ready reports whether the vector index answers.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.Index.Count(ctx); err != nil {
		return domain.RetrievalUnavailable("vector index not reachable", err)
	}
	return nil
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
