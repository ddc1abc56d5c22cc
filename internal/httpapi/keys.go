package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
)

// handleRefresh exchanges a refresh token for a new token pair. It is the
// only unauthenticated API route; the refresh token is the credential.
// POST /api/v1/auth/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if h.jwt == nil {
		writeError(w, http.StatusServiceUnavailable, "token auth unavailable")
		return
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.jwt.RefreshTokenPair(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// handleCreateKey mints an API key. The raw key appears once in the response
// and is never retrievable again.
// POST /api/v1/keys
func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := auth.RequireScopes(r.Context(), auth.ScopeKeysManage); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if h.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key management unavailable")
		return
	}

	var body struct {
		Name   string `json:"name"`
		UserID string `json:"user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	// Admins may mint keys for other users; everyone else gets their own.
	owner := userCtx.UserID
	if body.UserID != "" && userCtx.Role == auth.RoleAdmin {
		owner = body.UserID
	}

	key, raw, err := h.keys.CreateAPIKey(r.Context(), owner, body.Name)
	if err != nil {
		h.logger.Error("Failed to create API key", zap.String("user_id", owner), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create api key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"key_id":  key.KeyID,
		"prefix":  key.Prefix,
		"name":    key.Name,
		"user_id": key.UserID,
		"api_key": raw,
	})
}

// handleRevokeKey disables an API key immediately.
// DELETE /api/v1/keys/{id}
func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireScopes(r.Context(), auth.ScopeKeysManage); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if h.keys == nil {
		writeError(w, http.StatusServiceUnavailable, "key management unavailable")
		return
	}

	keyID := r.PathValue("id")
	if keyID == "" {
		writeError(w, http.StatusBadRequest, "key id is required")
		return
	}
	if err := h.keys.RevokeAPIKey(r.Context(), keyID); err != nil {
		h.logger.Error("Failed to revoke API key", zap.String("key_id", keyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to revoke api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
