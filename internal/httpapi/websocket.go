package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
)

const (
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the fronting proxy; credentials are still
	// required by the auth middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket streams run progress over a WebSocket.
// GET /api/v1/stream/ws?request_id=<id>[&last_event_id=N][&stages=a,b]
//
// Events are sent as JSON frames in the same shape as the SSE data payload.
// The connection closes after the run's terminal event.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireScopes(r.Context(), auth.ScopeWritingRead); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "request_id is required")
		return
	}
	if h.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}
	if _, err := h.svc.Status(r.Context(), requestID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	stageFilter := parseStageFilter(r.URL.Query().Get("stages"))
	lastSeq := lastEventID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch := h.streams.Subscribe(requestID, 256)
	defer h.streams.Unsubscribe(requestID, ch)

	terminal := false
	for _, ev := range h.streams.ReplaySince(requestID, lastSeq) {
		if !passesFilter(stageFilter, ev) {
			continue
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
		lastSeq = ev.Seq
		if ev.Terminal() {
			terminal = true
		}
	}
	if terminal {
		return
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	// Reader pump: clients send nothing meaningful, but reads must run for
	// pong handling and disconnect detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case ev := <-ch:
			if ev.Seq <= lastSeq {
				continue
			}
			lastSeq = ev.Seq
			if passesFilter(stageFilter, ev) {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			if ev.Terminal() {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}
