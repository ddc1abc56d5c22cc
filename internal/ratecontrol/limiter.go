package ratecontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
)

const (
	// userPrefix keys the per-user window shared by every API endpoint.
	userPrefix = "ratelimit:user:"
	// submitPrefix keys the per-category submission windows.
	submitPrefix = "ratelimit:submit:"

	minuteKeyFormat = "200601021504"
	dayKeyFormat    = "20060102"
)

// Config tunes the shared per-user window. Submission windows come from the
// limits file instead.
type Config struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
}

// Normalize fills unset fields with working defaults.
func (c *Config) Normalize() {
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = 120
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

// Limiter throttles API traffic with fixed windows counted in Redis: one
// per-user window across all endpoints, plus per-category minute and day
// windows on writing submissions. Redis failures fail open.
type Limiter struct {
	redis  *redis.Client
	logger *zap.Logger
	config Config
}

// NewLimiter creates a limiter on an established Redis client.
func NewLimiter(rdb *redis.Client, config Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.Normalize()
	return &Limiter{
		redis:  rdb,
		logger: logger,
		config: config,
	}
}

// Middleware enforces the shared per-user window. Requests without a user
// context pass through; the auth layer rejects those on protected routes.
func (rl *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		userCtx, ok := auth.GetUserContext(ctx)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := userPrefix + userCtx.UserID
		allowed, remaining, resetAt := rl.checkWindow(ctx, key, rl.config.RequestsPerWindow, rl.config.Window)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))

		if !allowed {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("user_id", userCtx.UserID),
				zap.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(resetAt)))
			rl.writeThrottled(w, "too many requests, retry after the window resets")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkWindow counts the request against one fixed window.
func (rl *Limiter) checkWindow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, resetAt time.Time) {
	now := time.Now()
	windowStart := now.Truncate(window)
	windowKey := fmt.Sprintf("%s:%d", key, windowStart.Unix())
	resetAt = windowStart.Add(window)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("Rate limit check failed", zap.Error(err))
		// Fail open so a Redis outage does not take the API down with it.
		return true, limit, resetAt
	}

	count := int(incr.Val())
	return count <= limit, max(0, limit-count), resetAt
}

// Result reports a submission check, including what the response headers
// need. LimitType names the window that tripped: "minute" or "day".
type Result struct {
	Allowed           bool
	MinuteUsed        int
	MinuteLimit       int
	DayUsed           int
	DayLimit          int
	ResetAt           time.Time
	RetryAfterSeconds int
	LimitType         string
}

// CheckSubmission counts one writing submission against the category's
// minute and day windows. Both must have room.
func (rl *Limiter) CheckSubmission(ctx context.Context, userID, category string) *Result {
	if !rl.config.Enabled {
		return &Result{Allowed: true}
	}

	limit := LimitForCategory(category)
	now := time.Now()
	minuteStart := now.Truncate(time.Minute)
	dayStart := now.UTC().Truncate(24 * time.Hour)

	minuteKey := fmt.Sprintf("%s%s:%s:%s:min", submitPrefix, userID, category, minuteStart.Format(minuteKeyFormat))
	dayKey := fmt.Sprintf("%s%s:%s:%s:day", submitPrefix, userID, category, dayStart.UTC().Format(dayKeyFormat))

	pipe := rl.redis.Pipeline()
	minuteIncr := pipe.Incr(ctx, minuteKey)
	pipe.Expire(ctx, minuteKey, time.Minute+time.Second)
	dayIncr := pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 24*time.Hour+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logger.Error("Submission rate limit check failed", zap.Error(err))
		return &Result{Allowed: true}
	}

	result := &Result{
		MinuteUsed:  int(minuteIncr.Val()),
		MinuteLimit: limit.PerMinute,
		DayUsed:     int(dayIncr.Val()),
		DayLimit:    limit.PerDay,
		ResetAt:     minuteStart.Add(time.Minute),
	}

	if limit.PerMinute > 0 && result.MinuteUsed > limit.PerMinute {
		result.LimitType = "minute"
		result.RetryAfterSeconds = retryAfterSeconds(result.ResetAt)
		rl.logger.Warn("Submission rate limit exceeded",
			zap.String("user_id", userID),
			zap.String("category", category),
			zap.Int("submissions", result.MinuteUsed),
			zap.Int("limit", limit.PerMinute),
		)
		return result
	}

	if limit.PerDay > 0 && result.DayUsed > limit.PerDay {
		result.LimitType = "day"
		result.ResetAt = dayStart.Add(24 * time.Hour)
		result.RetryAfterSeconds = retryAfterSeconds(result.ResetAt)
		rl.logger.Warn("Daily submission quota exceeded",
			zap.String("user_id", userID),
			zap.String("category", category),
			zap.Int("submissions", result.DayUsed),
			zap.Int("limit", limit.PerDay),
		)
		return result
	}

	result.Allowed = true
	return result
}

// SetSubmissionHeaders writes the rate limit headers for a submission check.
func (rl *Limiter) SetSubmissionHeaders(w http.ResponseWriter, result *Result) {
	if result.MinuteLimit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.MinuteLimit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(0, result.MinuteLimit-result.MinuteUsed)))
	}
	if result.DayLimit > 0 {
		w.Header().Set("X-RateLimit-Limit-Day", fmt.Sprintf("%d", result.DayLimit))
		w.Header().Set("X-RateLimit-Remaining-Day", fmt.Sprintf("%d", max(0, result.DayLimit-result.DayUsed)))
	}
	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))
	}
	if !result.Allowed {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", result.RetryAfterSeconds))
	}
}

func (rl *Limiter) writeThrottled(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   "rate limit exceeded",
		"message": message,
	})
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(time.Until(resetAt).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
