package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
	"github.com/plumeworks/plume/internal/models"
)

// handleGetProfile returns a user's writing profile.
// GET /api/v1/profile/{user_id}
func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.profileAccess(w, r, auth.ScopeProfilesRead)
	if !ok {
		return
	}

	profile, err := h.store.GetProfile(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to load profile", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleSaveProfile creates or replaces a user's writing profile.
// PUT /api/v1/profile/{user_id}
func (h *Handler) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.profileAccess(w, r, auth.ScopeProfilesWrite)
	if !ok {
		return
	}

	var profile models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The path owns the identity; a mismatched body cannot graft a profile
	// onto another user.
	profile.UserID = userID

	if err := h.store.SaveProfile(r.Context(), &profile); err != nil {
		h.logger.Error("Failed to save profile", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "saved",
		"user_id": userID,
	})
}

// handleListSamples returns a user's stored writing samples, newest first.
// GET /api/v1/profile/{user_id}/samples?category=email&limit=20
func (h *Handler) handleListSamples(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.profileAccess(w, r, auth.ScopeProfilesRead)
	if !ok {
		return
	}

	category := r.URL.Query().Get("category")
	if category != "" && !models.KnownCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown writing type")
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	samples, err := h.store.ListSamples(r.Context(), userID, category, limit)
	if err != nil {
		h.logger.Error("Failed to list samples", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list samples")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"samples": samples,
		"count":   len(samples),
	})
}

// profileAccess runs the shared checks for profile routes: identity, scope,
// ownership, and store availability. It writes the error response itself and
// reports ok=false when the request must not proceed.
func (h *Handler) profileAccess(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	if err := auth.RequireScopes(r.Context(), scope); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return "", false
	}

	userID := r.PathValue("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	if !canActFor(userCtx, userID) {
		writeError(w, http.StatusForbidden, "cannot access another user's profile")
		return "", false
	}
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
		return "", false
	}
	return userID, true
}
