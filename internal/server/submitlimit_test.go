package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubmitLimiterBurstThenDeny(t *testing.T) {
	l := NewSubmitLimiter(1, 2)

	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"), "third immediate submission should exceed the burst")
}

func TestSubmitLimiterIsolatesUsers(t *testing.T) {
	l := NewSubmitLimiter(1, 1)

	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-2"), "one user exhausting their bucket must not affect another")
}

func TestSubmitLimiterDisabledWhenRateIsZero(t *testing.T) {
	l := NewSubmitLimiter(0, 1)
	for i := 0; i < 20; i++ {
		assert.True(t, l.Allow("user-1"))
	}
}

func TestSubmitLimiterUpdateReplacesBuckets(t *testing.T) {
	l := NewSubmitLimiter(1, 1)
	assert.True(t, l.Allow("user-1"))
	assert.False(t, l.Allow("user-1"))

	// A raised limit applies immediately, including to users with an
	// exhausted bucket.
	l.Update(100, 10)
	assert.True(t, l.Allow("user-1"))

	l.Update(0, 1)
	assert.True(t, l.Allow("user-1"))
	assert.True(t, l.Allow("user-1"))
}
