package embedding

import (
	"context"

	"github.com/spherical-ai/commerce-rag/internal/resilience"
)

// RetryingEmbedder retries transient embedding failures with backoff.
type RetryingEmbedder struct {
	inner  Embedder
	policy resilience.RetryPolicy
}

// NewRetryingEmbedder wraps inner.
func NewRetryingEmbedder(inner Embedder, policy resilience.RetryPolicy) *RetryingEmbedder {
	return &RetryingEmbedder{inner: inner, policy: policy}
}

func (e *RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := resilience.Retry(ctx, e.policy, func(ctx context.Context) error {
		var err error
		out, err = e.inner.Embed(ctx, texts)
		return err
	})
	return out, err
}

func (e *RetryingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *RetryingEmbedder) Model() string  { return e.inner.Model() }
func (e *RetryingEmbedder) Dimension() int { return e.inner.Dimension() }

var _ Embedder = (*RetryingEmbedder)(nil)
