// Package cache provides an optional Redis-backed memoization layer for
// prediction scores. It wraps the predictor, not the queue: a request
// still passes through the queue and the batch assembler, and a cache hit
// only skips the model call for that item. This is an enrichment beyond
// the core pipeline — disabled by default, since batching already
// amortizes the model's cost, but valuable when callers repeatedly submit
// identical feature vectors (e.g. retried requests, polling clients).
// Keys are exact: vectors that differ in any bit miss.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/YheChen/MLInference/internal/queue"
)

// ScoreCache memoizes predictor outputs for a short TTL, keyed by a
// digest of the input feature vector.
type ScoreCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New builds a cache client against the given Redis address. It does not
// verify connectivity; callers that want a fail-fast startup should call
// Ping separately.
func New(addr string, ttl time.Duration) *ScoreCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ScoreCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

// Ping verifies the Redis connection is reachable.
func (c *ScoreCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get returns a memoized score for features, if present and unexpired.
func (c *ScoreCache) Get(ctx context.Context, features queue.FeatureVector) (float64, bool) {
	val, err := c.rdb.Get(ctx, key(features)).Float64()
	if err != nil {
		return 0, false
	}
	return val, true
}

// Set memoizes score for features under the cache's configured TTL.
func (c *ScoreCache) Set(ctx context.Context, features queue.FeatureVector, score float64) {
	c.rdb.Set(ctx, key(features), score, c.ttl)
}

// Close releases the underlying Redis connection pool.
func (c *ScoreCache) Close() error {
	return c.rdb.Close()
}

// key digests a feature vector into a fixed-width cache key. Collisions
// across distinct vectors are cryptographically implausible at this
// hash width, which is all a best-effort memoization layer needs.
func key(features queue.FeatureVector) string {
	h := sha256.New()
	buf := make([]byte, 4)
	for _, f := range features {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
		h.Write(buf)
	}
	return "pred:" + hex.EncodeToString(h.Sum(nil))
}
