package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/circuitbreaker"
	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/models"
)

const resultKeyPrefix = "plume:result:"

// ResultCache keeps recent run results in Redis so status lookups after a
// run finishes do not hit the database, and other instances behind the same
// Redis see results this instance produced. All operations are best effort;
// the database stays the source of truth.
type ResultCache struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewResultCache wraps the shared Redis client. A zero ttl defaults to one
// hour.
func NewResultCache(wrapper *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{redis: wrapper, ttl: ttl, logger: logger}
}

// Save stores a terminal result. Failures are logged and swallowed.
func (c *ResultCache) Save(ctx context.Context, result *models.WritingResult) {
	if c == nil || c.redis == nil || result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("Failed to marshal result for cache",
			zap.String("request_id", result.RequestID), zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, resultKeyPrefix+result.RequestID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache result",
			zap.String("request_id", result.RequestID), zap.Error(err))
	}
}

// Get returns a cached result, or (nil, false) on miss or Redis trouble.
func (c *ResultCache) Get(ctx context.Context, requestID string) (*models.WritingResult, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, resultKeyPrefix+requestID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Result cache read failed",
				zap.String("request_id", requestID), zap.Error(err))
		}
		metrics.ResultCacheMisses.Inc()
		return nil, false
	}

	var result models.WritingResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("Failed to decode cached result",
			zap.String("request_id", requestID), zap.Error(err))
		metrics.ResultCacheMisses.Inc()
		return nil, false
	}
	metrics.ResultCacheHits.Inc()
	return &result, true
}
