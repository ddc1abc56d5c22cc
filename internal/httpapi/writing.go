package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/plumeworks/plume/internal/auth"
	"github.com/plumeworks/plume/internal/models"
	"github.com/plumeworks/plume/internal/policy"
	"github.com/plumeworks/plume/internal/server"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// handleSubmit accepts a writing request.
// POST /api/v1/writing[?sync=true]
//
// Rejections are ordered: malformed requests fail with 400 before the policy
// engine sees them, policy denials return 403, and rate limits 429.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := auth.RequireScopes(r.Context(), auth.ScopeWritingSubmit); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	var req models.WritingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The authenticated identity owns the run regardless of the body.
	req.UserID = userCtx.UserID

	if err := server.ValidateRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sync := strings.EqualFold(r.URL.Query().Get("sync"), "true")

	if h.policy != nil && h.policy.IsEnabled() {
		decision, err := h.policy.Evaluate(r.Context(),
			policy.InputFromRequest(&req, h.policy.Environment(), sync))
		if err != nil {
			h.logger.Error("Policy evaluation failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "policy evaluation failed")
			return
		}
		if !decision.Allow {
			h.logger.Warn("Submission denied by policy",
				zap.String("user_id", req.UserID),
				zap.String("category", req.Category),
				zap.String("reason", decision.Reason),
			)
			reason := decision.Reason
			if reason == "" {
				reason = "submission denied by policy"
			}
			writeError(w, http.StatusForbidden, reason)
			return
		}
	}

	if h.limits != nil {
		result := h.limits.CheckSubmission(r.Context(), req.UserID, req.Category)
		h.limits.SetSubmissionHeaders(w, result)
		if !result.Allowed {
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("submission limit reached for the current %s", result.LimitType))
			return
		}
	}

	if sync {
		result, err := h.svc.SubmitSync(r.Context(), &req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	sub, err := h.svc.Submit(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sub)
}

// handleStatus reports a run's current state.
// GET /api/v1/writing/{id}
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireScopes(r.Context(), auth.ScopeWritingRead); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	result, err := h.svc.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleListRequests returns the caller's recent writing requests.
// GET /api/v1/writing?limit=20
func (h *Handler) handleListRequests(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := auth.RequireScopes(r.Context(), auth.ScopeWritingRead); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence unavailable")
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

	requests, err := h.store.ListRequests(r.Context(), userCtx.UserID, limit)
	if err != nil {
		h.logger.Error("Failed to list requests",
			zap.String("user_id", userCtx.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}
