package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
	"github.com/plumeworks/plume/internal/streaming"
)

// sseHeartbeat keeps idle connections alive through proxies.
const sseHeartbeat = 15 * time.Second

// handleStream streams run progress via Server-Sent Events.
// GET /api/v1/writing/{id}/stream
//
// Reconnecting clients resume from the Last-Event-ID header (or the
// last_event_id query parameter); new clients get the full retained history.
// The stream closes after the run's terminal event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireScopes(r.Context(), auth.ScopeWritingRead); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	requestID := r.PathValue("id")
	if h.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}
	// Reject unknown runs before holding a connection open.
	if _, err := h.svc.Status(r.Context(), requestID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	stageFilter := parseStageFilter(r.URL.Query().Get("stages"))
	lastSeq := lastEventID(r)

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	// The server's write timeout would cut a live stream mid-run; clear it
	// for this response and let the heartbeat detect dead peers.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ch := h.streams.Subscribe(requestID, 256)
	defer h.streams.Unsubscribe(requestID, ch)

	fmt.Fprintf(w, ": streaming run %s\n\n", requestID)
	flusher.Flush()

	// Replay the retained history first. Subscribing before replaying means
	// an event can show up in both; the sequence check drops the duplicate.
	terminal := false
	for _, ev := range h.streams.ReplaySince(requestID, lastSeq) {
		if !passesFilter(stageFilter, ev) {
			continue
		}
		writeSSE(w, ev)
		lastSeq = ev.Seq
		if ev.Terminal() {
			terminal = true
		}
	}
	flusher.Flush()
	if terminal {
		return
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("request_id", requestID))
			return
		case ev := <-ch:
			if ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			if passesFilter(stageFilter, ev) {
				writeSSE(w, ev)
				flusher.Flush()
			}
			if ev.Terminal() {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// lastEventID reads the resume position from the Last-Event-ID header, with
// a query parameter fallback for clients that cannot set headers.
func lastEventID(r *http.Request) uint64 {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	if v := r.URL.Query().Get("last_event_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// parseStageFilter parses the comma-separated stages query parameter. An
// empty result means no filtering.
func parseStageFilter(s string) map[string]struct{} {
	if s == "" {
		return nil
	}
	filter := make(map[string]struct{})
	for _, stage := range strings.Split(s, ",") {
		stage = strings.TrimSpace(stage)
		if stage != "" {
			filter[stage] = struct{}{}
		}
	}
	return filter
}

// passesFilter applies the stage filter; terminal events always pass so a
// filtered stream still ends.
func passesFilter(filter map[string]struct{}, ev streaming.Event) bool {
	if len(filter) == 0 || ev.Terminal() {
		return true
	}
	_, ok := filter[ev.Stage]
	return ok
}

func writeSSE(w io.Writer, ev streaming.Event) {
	fmt.Fprintf(w, "id: %d\n", ev.Seq)
	fmt.Fprintf(w, "event: %s\n", ev.Stage)
	fmt.Fprintf(w, "data: %s\n\n", ev.Marshal())
}
