// Package httpapi exposes the writing service over HTTP: submission and
// status endpoints, live progress streams (SSE and WebSocket), profile and
// sample management, and credential endpoints. Handlers speak JSON and rely
// on the auth middleware for identity.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/policy"
	"github.com/plumeworks/plume/internal/ratecontrol"
	"github.com/plumeworks/plume/internal/server"
	"github.com/plumeworks/plume/internal/streaming"
)

// Store is the persistence surface the read endpoints need. *db.Client
// satisfies it.
type Store interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	ListSamples(ctx context.Context, userID, category string, limit int) ([]models.WritingSample, error)
	ListRequests(ctx context.Context, userID string, limit int) ([]models.WritingRequest, error)
}

// Deps carries the handler dependencies. Service, Auth and Logger are
// required; the rest degrade gracefully when absent.
type Deps struct {
	Service *server.Service
	Streams *streaming.Manager
	Store   Store
	Keys    *auth.Service
	JWT     *auth.JWTManager
	Auth    *auth.Middleware
	Policy  policy.Engine
	Limits  *ratecontrol.Limiter
	Logger  *zap.Logger
}

// Handler serves the public API.
type Handler struct {
	svc     *server.Service
	streams *streaming.Manager
	store   Store
	keys    *auth.Service
	jwt     *auth.JWTManager
	authMW  *auth.Middleware
	policy  policy.Engine
	limits  *ratecontrol.Limiter
	logger  *zap.Logger
}

// NewHandler builds the API handler.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:     deps.Service,
		streams: deps.Streams,
		store:   deps.Store,
		keys:    deps.Keys,
		jwt:     deps.JWT,
		authMW:  deps.Auth,
		policy:  deps.Policy,
		limits:  deps.Limits,
		logger:  logger,
	}
}

// Routes assembles the full API handler: the v1 routes behind authentication
// and the shared per-user rate window, the unauthenticated token refresh
// endpoint, and metrics instrumentation around everything.
func (h *Handler) Routes() http.Handler {
	protected := http.NewServeMux()
	h.RegisterRoutes(protected)

	var api http.Handler = protected
	if h.limits != nil {
		api = h.limits.Middleware(api)
	}
	if h.authMW != nil {
		api = h.authMW.Handler(api)
	}

	root := http.NewServeMux()
	root.HandleFunc("POST /api/v1/auth/refresh", h.handleRefresh)
	root.Handle("/api/", api)
	return instrument(root)
}

// RegisterRoutes mounts the authenticated v1 routes on mux. Callers that do
// not use Routes must wrap mux with the auth middleware themselves.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/writing", h.handleSubmit)
	mux.HandleFunc("GET /api/v1/writing", h.handleListRequests)
	mux.HandleFunc("GET /api/v1/writing/{id}", h.handleStatus)
	mux.HandleFunc("GET /api/v1/writing/{id}/stream", h.handleStream)
	mux.HandleFunc("GET /api/v1/stream/ws", h.handleWebSocket)
	mux.HandleFunc("GET /api/v1/profile/{user_id}", h.handleGetProfile)
	mux.HandleFunc("PUT /api/v1/profile/{user_id}", h.handleSaveProfile)
	mux.HandleFunc("GET /api/v1/profile/{user_id}/samples", h.handleListSamples)
	mux.HandleFunc("POST /api/v1/keys", h.handleCreateKey)
	mux.HandleFunc("DELETE /api/v1/keys/{id}", h.handleRevokeKey)
}

// writeServiceError maps the run service's sentinel errors to HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, server.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, server.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, server.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, server.ErrDuplicateRequest):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, server.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("Request handling failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with status and content type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// canActFor reports whether the caller may touch resources owned by userID.
func canActFor(u *auth.UserContext, userID string) bool {
	return u.Role == auth.RoleAdmin || u.UserID == userID
}
