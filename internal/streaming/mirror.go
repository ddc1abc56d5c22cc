package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/metrics"
)

// RedisMirror copies published events into a Redis stream per run so that
// replay survives process restarts and works across instances. Writes go
// through an internal queue drained by a single worker; Append never blocks
// the publisher.
type RedisMirror struct {
	rdb    *redis.Client
	ttl    time.Duration
	maxLen int64
	logger *zap.Logger

	queue chan Event
	done  chan struct{}
}

// MirrorConfig tunes the mirror. Zero values get defaults.
type MirrorConfig struct {
	// TTL expires a run's stream after its last event.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxLen trims each stream to approximately this many entries.
	MaxLen int64 `yaml:"max_len" json:"max_len"`
	// QueueSize bounds the async write queue.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// NewRedisMirror starts the mirror worker.
func NewRedisMirror(rdb *redis.Client, cfg MirrorConfig, logger *zap.Logger) *RedisMirror {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultHistory
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RedisMirror{
		rdb:    rdb,
		ttl:    cfg.TTL,
		maxLen: cfg.MaxLen,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go m.worker()
	return m
}

func streamKey(runID string) string { return "plume:events:" + runID }

// Append enqueues an event for mirroring. Events are dropped when the queue
// is full rather than blocking the run.
func (m *RedisMirror) Append(evt Event) {
	select {
	case m.queue <- evt:
	default:
		metrics.StreamEventsDropped.Inc()
		m.logger.Warn("event mirror queue full, dropping event",
			zap.String("run_id", evt.RunID),
			zap.Uint64("seq", evt.Seq),
		)
	}
}

func (m *RedisMirror) worker() {
	defer close(m.done)
	for evt := range m.queue {
		m.write(evt)
	}
}

func (m *RedisMirror) write(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := streamKey(evt.RunID)
	err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(evt.Marshal())},
	}).Err()
	if err != nil {
		m.logger.Warn("event mirror write failed", zap.String("run_id", evt.RunID), zap.Error(err))
		return
	}
	if err := m.rdb.Expire(ctx, key, m.ttl).Err(); err != nil {
		m.logger.Debug("event mirror expire failed", zap.String("run_id", evt.RunID), zap.Error(err))
	}
}

// Replay reads a run's mirrored events with Seq > since, oldest first.
func (m *RedisMirror) Replay(ctx context.Context, runID string, since uint64) ([]Event, error) {
	entries, err := m.rdb.XRange(ctx, streamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}
	out := make([]Event, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["event"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			m.logger.Debug("skipping malformed mirrored event", zap.String("run_id", runID), zap.Error(err))
			continue
		}
		if evt.Seq > since {
			out = append(out, evt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Close drains the queue and stops the worker.
func (m *RedisMirror) Close() {
	close(m.queue)
	<-m.done
}
