package workflow

import "time"

// Event is one progress notification from a run. Progress is a percentage
// and never decreases within a run; the terminal event of every run is
// either a complete or an error event at 100.
type Event struct {
	Stage     Stage                  `json:"stage"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Emitter receives progress events from a run. Implementations must never
// block: the engine calls Emit inline on the run goroutine and a slow or
// absent consumer must not stall the pipeline.
type Emitter interface {
	Emit(Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
