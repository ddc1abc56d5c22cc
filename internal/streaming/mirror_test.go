package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMirrorUnderTest(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisMirror(rdb, MirrorConfig{TTL: time.Minute, MaxLen: 64}, zap.NewNop()), mr
}

func TestMirrorAppendAndReplay(t *testing.T) {
	mirror, _ := newMirrorUnderTest(t)

	for i := 1; i <= 3; i++ {
		mirror.Append(Event{
			RunID:    "run-1",
			Stage:    "revise",
			Progress: 80 + i,
			Seq:      uint64(i),
		})
	}
	mirror.Close() // drains the queue

	evs, err := mirror.Replay(context.Background(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "run-1", ev.RunID)
	}

	evs, err = mirror.Replay(context.Background(), "run-1", 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestMirrorReplayUnknownRun(t *testing.T) {
	mirror, _ := newMirrorUnderTest(t)
	defer mirror.Close()

	evs, err := mirror.Replay(context.Background(), "nope", 0)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestManagerWithMirror(t *testing.T) {
	mirror, _ := newMirrorUnderTest(t)

	m := NewManager(4, zap.NewNop())
	m.AttachMirror(mirror)

	m.Publish("run-1", Event{Stage: "research", Progress: 10})
	m.Publish("run-1", Event{Stage: "complete", Progress: 100})
	mirror.Close()

	evs, err := mirror.Replay(context.Background(), "run-1", 0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "research", evs[0].Stage)
	assert.Equal(t, "complete", evs[1].Stage)
	assert.True(t, evs[1].Terminal())
}
