package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/spherical-ai/commerce-rag/internal/cache"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// CachedEmbedder memoizes embeddings in a cache.Client keyed by model and
// text hash. Cache failures are logged and fall through to the inner
// embedder.
type CachedEmbedder struct {
	inner  Embedder
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachedEmbedder wraps inner with c.
func NewCachedEmbedder(inner Embedder, c cache.Client, ttl time.Duration, logger *observability.Logger) *CachedEmbedder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachedEmbedder{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (e *CachedEmbedder) key(text string) string {
	sum := sha1.Sum([]byte(text))
	return cache.Key("emb", e.inner.Model(), hex.EncodeToString(sum[:]))
}

// Embed serves hits from cache and embeds the misses in one inner call.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		data, err := e.cache.Get(ctx, e.key(t))
		if err == nil {
			if v, ok := decodeVector(data); ok {
				out[i] = v
				continue
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn().Err(err).Msg("Embedding cache read failed")
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := e.cache.Set(ctx, e.key(missTexts[j]), encodeVector(vecs[j]), e.ttl); err != nil {
			e.logger.Warn().Err(err).Msg("Embedding cache write failed")
		}
	}
	return out, nil
}

func (e *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *CachedEmbedder) Model() string  { return e.inner.Model() }
func (e *CachedEmbedder) Dimension() int { return e.inner.Dimension() }

// Purge drops every cached embedding of the current model.
func (e *CachedEmbedder) Purge(ctx context.Context) error {
	return e.cache.DeleteByPrefix(ctx, cache.Key("emb", e.inner.Model()))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, bool) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v, true
}

var _ Embedder = (*CachedEmbedder)(nil)
