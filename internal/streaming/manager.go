// Package streaming fans run progress events out to attached consumers.
// Delivery is non-blocking: a slow subscriber loses events rather than
// stalling the run that produced them. A per-run ring buffer keeps recent
// events for Last-Event-ID replay; an optional Redis mirror extends replay
// across instances.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/metrics"
	"github.com/plumeworks/plume/internal/workflow"
)

// Event is one run progress notification on the wire.
type Event struct {
	RunID     string                 `json:"run_id"`
	Stage     string                 `json:"stage"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Terminal reports whether the event closes its run's stream.
func (e Event) Terminal() bool {
	return e.Stage == string(workflow.StageComplete) || e.Stage == string(workflow.StageError)
}

// Marshal returns the JSON wire form for SSE and the Redis mirror.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager provides in-memory pub/sub for run events.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-run ring buffer for replay and Last-Event-ID support
	history  map[string]*ring
	capacity int
	mirror   *RedisMirror
	logger   *zap.Logger
}

// DefaultHistory is the per-run replay buffer size.
const DefaultHistory = 256

// NewManager builds a manager with the given replay capacity per run.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// AttachMirror mirrors every published event into Redis for cross-instance
// replay. Call before the first Publish.
func (m *Manager) AttachMirror(mirror *RedisMirror) {
	m.mu.Lock()
	m.mirror = mirror
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a run. The caller must drain the
// channel and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, member := subs[ch]; !member {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns the event its sequence number, records it for replay and
// fans it out. Slow subscribers are skipped. Fan-out happens under the lock:
// sends never block, and Unsubscribe closes channels under the same lock, so
// a send can never hit a closed channel.
func (m *Manager) Publish(runID string, evt Event) {
	evt.RunID = runID

	m.mu.Lock()
	rg := m.history[runID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[runID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	mirror := m.mirror
	for ch := range m.subscribers[runID] {
		select {
		case ch <- evt:
		default:
			metrics.StreamEventsDropped.Inc()
		}
	}
	m.mu.Unlock()

	metrics.StreamEventsPublished.Inc()
	if mirror != nil {
		mirror.Append(evt)
	}
}

// ReplaySince returns buffered events with Seq > since, oldest first. The
// window is bounded by the ring capacity. The ring is read under the lock
// because Publish mutates it.
func (m *Manager) ReplaySince(runID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops the replay history of a finished run. Live subscribers keep
// their channels until they unsubscribe.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	delete(m.history, runID)
	m.mu.Unlock()
}

// Emitter returns an adapter that feeds one run's engine events into the
// manager. It satisfies the workflow emit contract.
func (m *Manager) Emitter(runID string) *Emitter {
	return &Emitter{runID: runID, m: m}
}

// Emitter publishes the events of a single run.
type Emitter struct {
	runID string
	m     *Manager
}

// Emit converts an engine event to its wire form and publishes it. It never
// blocks.
func (e *Emitter) Emit(ev workflow.Event) {
	e.m.Publish(e.runID, Event{
		Stage:     string(ev.Stage),
		Progress:  ev.Progress,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	})
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

// Sequence numbers start at 1 so ReplaySince(run, 0) returns everything.
func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity), nextSeq: 1} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.start + i) % len(r.buf)
		ev := r.buf[idx]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
