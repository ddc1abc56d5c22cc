package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// SubmitLimiter paces run submissions per user with a token bucket, on top
// of the fixed-window limits the API middleware enforces. A rate of zero or
// less disables it.
type SubmitLimiter struct {
	mu        sync.Mutex
	users     map[string]*rate.Limiter
	perSecond rate.Limit
	burst     int
}

// NewSubmitLimiter builds a limiter allowing perSecond sustained submissions
// with the given burst per user.
func NewSubmitLimiter(perSecond float64, burst int) *SubmitLimiter {
	if burst < 1 {
		burst = 1
	}
	return &SubmitLimiter{
		users:     make(map[string]*rate.Limiter),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
	}
}

// Allow reports whether the user may submit a run now.
func (l *SubmitLimiter) Allow(userID string) bool {
	l.mu.Lock()
	if l.perSecond <= 0 {
		l.mu.Unlock()
		return true
	}
	limiter, ok := l.users[userID]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.users[userID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Update replaces the limits. Existing per-user buckets are discarded so the
// new rate applies immediately.
func (l *SubmitLimiter) Update(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	l.perSecond = rate.Limit(perSecond)
	l.burst = burst
	l.users = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}
