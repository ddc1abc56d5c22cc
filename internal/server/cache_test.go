package server

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/plumeworks/plume/internal/circuitbreaker"
	"github.com/plumeworks/plume/internal/models"
)

func newCacheUnderTest(t *testing.T, ttl time.Duration) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	wrapper := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	return NewResultCache(wrapper, ttl, zaptest.NewLogger(t)), mr
}

func TestResultCacheRoundTrip(t *testing.T) {
	cache, mr := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	result := &models.WritingResult{
		RequestID:  "req-1",
		Status:     models.StatusCompleted,
		Content:    "Dear team, the launch went well.",
		Iterations: 2,
		Evaluation: &models.Evaluation{OverallScore: 91.5},
	}
	cache.Save(ctx, result)

	require.True(t, mr.Exists("plume:result:req-1"))
	ttl := mr.TTL("plume:result:req-1")
	assert.Greater(t, ttl, time.Duration(0))

	got, ok := cache.Get(ctx, "req-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, result.Content, got.Content)
	assert.Equal(t, 2, got.Iterations)
	require.NotNil(t, got.Evaluation)
	assert.InDelta(t, 91.5, got.Evaluation.OverallScore, 0.001)
}

func TestResultCacheMiss(t *testing.T) {
	cache, _ := newCacheUnderTest(t, time.Minute)

	got, ok := cache.Get(context.Background(), "req-unknown")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestResultCacheEntriesExpire(t *testing.T) {
	cache, mr := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()

	cache.Save(ctx, &models.WritingResult{RequestID: "req-1", Status: models.StatusCompleted})
	_, ok := cache.Get(ctx, "req-1")
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok = cache.Get(ctx, "req-1")
	assert.False(t, ok)
}

func TestResultCacheSurvivesRedisOutage(t *testing.T) {
	cache, mr := newCacheUnderTest(t, time.Minute)
	ctx := context.Background()
	mr.Close()

	// Both paths degrade to a miss instead of failing the caller.
	cache.Save(ctx, &models.WritingResult{RequestID: "req-1", Status: models.StatusCompleted})
	_, ok := cache.Get(ctx, "req-1")
	assert.False(t, ok)
}

func TestResultCacheNilSafety(t *testing.T) {
	ctx := context.Background()

	var nilCache *ResultCache
	nilCache.Save(ctx, &models.WritingResult{RequestID: "req-1"})
	_, ok := nilCache.Get(ctx, "req-1")
	assert.False(t, ok)

	noRedis := NewResultCache(nil, time.Minute, nil)
	noRedis.Save(ctx, &models.WritingResult{RequestID: "req-1"})
	_, ok = noRedis.Get(ctx, "req-1")
	assert.False(t, ok)

	cache, _ := newCacheUnderTest(t, time.Minute)
	cache.Save(ctx, nil)
}
