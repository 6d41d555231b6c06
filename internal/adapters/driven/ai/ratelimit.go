package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/keep/internal/core/ports/driven"
)

// Ensure RateLimited implements the interface.
var _ driven.EmbeddingProvider = (*RateLimited)(nil)

// RateLimited caps the number of texts an embedding provider is asked to
// embed per second. Bulk work (reindex, reconciliation) goes through it.
type RateLimited struct {
	driven.EmbeddingProvider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that at most perSecond texts are embedded per
// second. A non-positive rate returns p unchanged.
func WithRateLimit(p driven.EmbeddingProvider, perSecond float64) driven.EmbeddingProvider {
	if p == nil || perSecond <= 0 {
		return p
	}
	burst := max(1, int(perSecond))
	return &RateLimited{
		EmbeddingProvider: p,
		limiter:           rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Embed waits for one token.
func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit: %w", err)
	}
	return r.EmbeddingProvider.Embed(ctx, text)
}

// EmbedBatch waits for one token per text, in chunks no larger than the burst.
func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	burst := r.limiter.Burst()
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += burst {
		end := min(start+burst, len(texts))
		if err := r.limiter.WaitN(ctx, end-start); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
		vecs, err := r.EmbeddingProvider.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
