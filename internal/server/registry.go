package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/plumeworks/plume/internal/metrics"
)

// RunInfo describes one run currently executing in this process.
type RunInfo struct {
	RequestID string
	UserID    string
	Category  string
	StartedAt time.Time
}

type runEntry struct {
	info   RunInfo
	cancel context.CancelFunc
}

// Registry tracks the runs executing in this process. Finished runs leave
// the registry and are served from the result cache or the database.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*runEntry)}
}

// Add registers a run. The cancel function aborts it.
func (r *Registry) Add(info RunInfo, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[info.RequestID]; exists {
		return fmt.Errorf("run %s already registered", info.RequestID)
	}
	r.runs[info.RequestID] = &runEntry{info: info, cancel: cancel}
	metrics.ActiveRuns.Set(float64(len(r.runs)))
	return nil
}

// Remove drops a finished run.
func (r *Registry) Remove(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[requestID]; !exists {
		return
	}
	delete(r.runs, requestID)
	metrics.ActiveRuns.Set(float64(len(r.runs)))
}

// Get returns the run's info when it is active in this process.
func (r *Registry) Get(requestID string) (RunInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.runs[requestID]
	if !ok {
		return RunInfo{}, false
	}
	return entry.info, true
}

// Cancel aborts an active run. It reports whether the run was found; the
// run leaves the registry when its goroutine observes the cancellation.
func (r *Registry) Cancel(requestID string) bool {
	r.mu.RLock()
	entry, ok := r.runs[requestID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	entry.cancel()
	return true
}

// CancelAll aborts every active run.
func (r *Registry) CancelAll() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.runs))
	for _, entry := range r.runs {
		cancels = append(cancels, entry.cancel)
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
