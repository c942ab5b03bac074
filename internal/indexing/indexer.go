// Package indexing builds the vector index from a catalog snapshot.
package indexing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spherical-ai/commerce-rag/internal/chunking"
	"github.com/spherical-ai/commerce-rag/internal/domain"
	"github.com/spherical-ai/commerce-rag/internal/embedding"
	"github.com/spherical-ai/commerce-rag/internal/observability"
	"github.com/spherical-ai/commerce-rag/internal/resilience"
	"github.com/spherical-ai/commerce-rag/internal/retrieval"
)

// Stage names reported to progress callbacks.
const (
	StageChunk  = "chunk"
	StageEmbed  = "embed"
	StageUpsert = "upsert"
)

// Config holds indexer settings.
type Config struct {
	EmbedBatchSize  int
	UpsertBatchSize int
	Retry           resilience.RetryPolicy
}

// Options control one build.
type Options struct {
	// Full drops the whole index first. Otherwise only the vectors of the
	// products being indexed are replaced.
	Full     bool
	Progress func(stage string, done, total int)
}

// Stats summarises a build.
type Stats struct {
	Products      int           `json:"products"`
	Chunks        int           `json:"chunks"`
	EmptyChunks   int           `json:"empty_chunks"`
	Upserted      int           `json:"upserted"`
	IndexSize     int64         `json:"index_size"`
	Duration      time.Duration `json:"duration"`
	EmbeddingsDim int           `json:"embedding_dimension"`
}

// Indexer chunks, embeds and upserts products.
type Indexer struct {
	chunker  *chunking.Chunker
	embedder embedding.Embedder
	index    retrieval.VectorAdapter
	cfg      Config
	logger   *observability.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(chunker *chunking.Chunker, embedder embedding.Embedder, index retrieval.VectorAdapter, cfg Config, logger *observability.Logger) *Indexer {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 64
	}
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 100
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Indexer{
		chunker:  chunker,
		embedder: embedding.NewRetryingEmbedder(embedder, cfg.Retry),
		index:    index,
		cfg:      cfg,
		logger:   logger.WithOperation("index_build"),
	}
}

// Build indexes products. Chunks with empty text are kept out of the index.
func (ix *Indexer) Build(ctx context.Context, products []domain.ProductRecord, opts Options) (*Stats, error) {
	start := time.Now()
	progress := opts.Progress
	if progress == nil {
		progress = func(string, int, int) {}
	}

	stats := &Stats{Products: len(products), EmbeddingsDim: ix.embedder.Dimension()}

	var chunks []domain.Chunk
	productIDs := make([]string, 0, len(products))
	for i, p := range products {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		productIDs = append(productIDs, p.ID)
		for _, c := range ix.chunker.Chunk(ctx, p) {
			stats.Chunks++
			if strings.TrimSpace(c.Text) == "" {
				stats.EmptyChunks++
				continue
			}
			chunks = append(chunks, c)
		}
		progress(StageChunk, i+1, len(products))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embedding.EmbedBatch(ctx, ix.embedder, texts, ix.cfg.EmbedBatchSize, func(done, total int) {
		progress(StageEmbed, done, total)
	})
	if err != nil {
		return nil, domain.EmbeddingUnavailable("embed chunks", err)
	}

	// Existing vectors are dropped only after embedding succeeds.
	if err := ix.clear(ctx, opts.Full, productIDs); err != nil {
		return nil, err
	}

	for startIdx := 0; startIdx < len(chunks); startIdx += ix.cfg.UpsertBatchSize {
		end := startIdx + ix.cfg.UpsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := make([]retrieval.VectorEntry, 0, end-startIdx)
		for i := startIdx; i < end; i++ {
			batch = append(batch, retrieval.VectorEntry{ID: chunks[i].ID, Vector: vectors[i], Chunk: chunks[i]})
		}

		err := resilience.Retry(ctx, ix.cfg.Retry, func(ctx context.Context) error {
			return ix.index.Upsert(ctx, batch)
		})
		if err != nil {
			return nil, domain.RetrievalUnavailable(fmt.Sprintf("upsert batch %d-%d", startIdx, end), err)
		}
		stats.Upserted += len(batch)
		progress(StageUpsert, end, len(chunks))
	}

	if n, err := ix.index.Count(ctx); err == nil {
		stats.IndexSize = n
	} else {
		ix.logger.Warn().Err(err).Msg("Could not count index vectors")
	}
	stats.Duration = time.Since(start)

	ix.logger.Info().
		Int("products", stats.Products).
		Int("chunks", stats.Chunks).
		Int("empty_chunks", stats.EmptyChunks).
		Int("upserted", stats.Upserted).
		Int64("index_size", stats.IndexSize).
		Dur("duration", stats.Duration).
		Msg("Index build complete")
	return stats, nil
}

func (ix *Indexer) clear(ctx context.Context, full bool, productIDs []string) error {
	op := func(ctx context.Context) error {
		if full {
			return ix.index.Reset(ctx)
		}
		return ix.index.DeleteByProduct(ctx, productIDs)
	}
	if err := resilience.Retry(ctx, ix.cfg.Retry, op); err != nil {
		return domain.RetrievalUnavailable("clear index", err)
	}
	return nil
}
