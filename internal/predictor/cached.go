package predictor

import (
	"context"
	"time"

	"github.com/YheChen/MLInference/internal/queue"
)

// ScoreCache is the narrow interface CachingPredictor needs; satisfied by
// internal/cache.ScoreCache.
type ScoreCache interface {
	Get(ctx context.Context, features queue.FeatureVector) (float64, bool)
	Set(ctx context.Context, features queue.FeatureVector, score float64)
}

// CachingPredictor wraps another predictor with a memoization layer,
// checked per item before the batch is sent downstream. Only the items
// that miss the cache pay for a model call; hits are spliced back into
// the result in their original position so batch-level ordering is
// unaffected.
type CachingPredictor struct {
	inner interface {
		Predict(batch []queue.FeatureVector) ([]float64, error)
	}
	cache   ScoreCache
	timeout time.Duration
}

// NewCachingPredictor wraps inner with cache lookups. A short timeout
// bounds the lookups for a batch, and a second one the write-backs after
// the model call, so cache round-trips can delay a batch by at most twice
// that timeout; the cache is an optimization, never a dependency the
// pipeline can stall on.
func NewCachingPredictor(inner interface {
	Predict(batch []queue.FeatureVector) ([]float64, error)
}, cache ScoreCache, timeout time.Duration) *CachingPredictor {
	if timeout <= 0 {
		timeout = 20 * time.Millisecond
	}
	return &CachingPredictor{inner: inner, cache: cache, timeout: timeout}
}

// Predict resolves cache hits directly and forwards only misses to the
// wrapped predictor.
func (c *CachingPredictor) Predict(batch []queue.FeatureVector) ([]float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	scores := make([]float64, len(batch))
	missIdx := make([]int, 0, len(batch))
	missVecs := make([]queue.FeatureVector, 0, len(batch))

	for i, fv := range batch {
		if score, ok := c.cache.Get(ctx, fv); ok {
			scores[i] = score
			continue
		}
		missIdx = append(missIdx, i)
		missVecs = append(missVecs, fv)
	}

	if len(missVecs) == 0 {
		return scores, nil
	}

	missScores, err := c.inner.Predict(missVecs)
	if err != nil {
		return nil, err
	}
	// The lookup budget may already be spent by the model call.
	setCtx, setCancel := context.WithTimeout(context.Background(), c.timeout)
	defer setCancel()
	for j, idx := range missIdx {
		scores[idx] = missScores[j]
		c.cache.Set(setCtx, batch[idx], missScores[j])
	}
	return scores, nil
}
