package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errSidecarDown = errors.New("llm sidecar unreachable")

// fastConfig keeps the time-based transitions short enough to test.
func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 5
	cfg.Timeout = 50 * time.Millisecond
	cfg.Interval = 200 * time.Millisecond
	return cfg
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("llm-service", fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	require.Equal(t, StateClosed, cb.State())

	// healthy completions keep the breaker closed
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	// the third consecutive sidecar failure trips it
	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func() error { return errSidecarDown })
		assert.ErrorIs(t, err, errSidecarDown)
	}
	require.Equal(t, StateOpen, cb.State())

	// open breaker sheds load without invoking the call
	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("llm-service", fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errSidecarDown })
	}
	require.Equal(t, StateOpen, cb.State())

	// after the timeout the next request is admitted as a trial
	time.Sleep(80 * time.Millisecond)
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())

	// the second consecutive success closes it again
	require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("qdrant", fastConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errSidecarDown })
	}
	time.Sleep(80 * time.Millisecond)

	// one failed trial sends it straight back to open
	err := cb.Execute(ctx, func() error { return errSidecarDown })
	assert.ErrorIs(t, err, errSidecarDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenBoundsTrialRequests(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRequests = 2
	cfg.SuccessThreshold = 5 // stay half-open through the whole test

	cb := NewCircuitBreaker("database", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mutex.Lock()
	cb.state = StateHalfOpen
	cb.generation++
	cb.counts = Counts{}
	cb.mutex.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrTooManyRequests)
}

func TestBreakerCounts(t *testing.T) {
	cb := NewCircuitBreaker("redis", DefaultConfig(), zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errSidecarDown })
	_ = cb.Execute(ctx, func() error { return nil })

	counts := cb.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 2

	type transition struct {
		name     string
		from, to State
	}
	var seen []transition
	cfg.OnStateChange = func(name string, from, to State) {
		seen = append(seen, transition{name, from, to})
	}

	cb := NewCircuitBreaker("llm-service", cfg, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = cb.Execute(ctx, func() error { return errSidecarDown })
	}

	require.Len(t, seen, 1)
	assert.Equal(t, "llm-service", seen[0].name)
	assert.Equal(t, StateClosed, seen[0].from)
	assert.Equal(t, StateOpen, seen[0].to)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cfg := fastConfig()
	cfg.FailureThreshold = 1

	cb := NewCircuitBreaker("llm-service", cfg, zaptest.NewLogger(t))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("sidecar handler blew up") })
	})
	assert.Equal(t, StateOpen, cb.State())
}
