package health

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPHandler exposes the probe endpoints on the admin mux.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
	started time.Time
}

// NewHTTPHandler creates the probe handler.
func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		manager: manager,
		logger:  logger,
		started: time.Now(),
	}
}

// RegisterRoutes mounts the probe endpoints. Liveness is deliberately
// independent of dependency checks: a hung database must not get the
// process restarted.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /readyz", h.handleReadiness)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/detailed", h.handleDetailedHealth)
}

// handleLiveness answers as long as the process serves requests.
func (h *HTTPHandler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

// handleReadiness runs the dependency checks; a failing critical check
// takes the instance out of rotation.
func (h *HTTPHandler) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ready := h.manager.IsReady(r.Context())

	status := http.StatusOK
	message := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		message = "not ready"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":    message,
		"ready":     ready,
		"timestamp": time.Now().Unix(),
	})
}

// handleHealth reports the aggregate for general monitoring. Degraded still
// returns 200: the service is serving, just with reduced capability.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallHealth(r.Context())

	status := http.StatusOK
	if overall.Status == StatusUnhealthy || overall.Status == StatusUnknown {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":    overall.Status.String(),
		"message":   overall.Message,
		"timestamp": overall.Timestamp.Unix(),
		"duration":  overall.Duration.String(),
		"degraded":  overall.Degraded,
		"ready":     overall.Ready,
	})
}

// handleDetailedHealth dumps per-component results for debugging.
// ?cached=true serves the background loop's last results without probing.
func (h *HTTPHandler) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	var detailed DetailedHealth
	if r.URL.Query().Get("cached") == "true" {
		detailed = h.manager.CachedDetailedHealth()
	} else {
		detailed = h.manager.GetDetailedHealth(r.Context())
	}

	status := http.StatusOK
	if detailed.Overall.Status == StatusUnhealthy || detailed.Overall.Status == StatusUnknown {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}
