package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/miwitv/backend/auth"
	dbpkg "github.com/miwitv/backend/db"
	"github.com/miwitv/backend/telemetry"
)

const forbiddenMessage = "insufficient role for this action"

// currentUser loads the users row behind the session. On failure it has
// already written the response.
func (h *Handlers) currentUser(w http.ResponseWriter, r *http.Request) (*auth.Claims, *dbpkg.User, bool) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return nil, nil, false
	}
	if h.DB == nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return nil, nil, false
	}
	u, err := dbpkg.GetUser(r.Context(), h.DB, claims.UserID)
	if errors.Is(err, dbpkg.ErrUserNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return nil, nil, false
	}
	if err != nil {
		slog.Error("load user failed", slog.Any("err", err), slog.Int64("user_id", claims.UserID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, nil, false
	}
	return claims, u, true
}

// HandleUserMe returns the session user with the role from the database.
func (h *Handlers) HandleUserMe(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	claims, u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      u.ID,
		"display_name": claims.DisplayName,
		"avatar_url":   claims.AvatarURL,
		"role":         u.Role,
	})
}

// HandleUserAll lists users with an email. Admins and moderators only.
func (h *Handlers) HandleUserAll(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	_, u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !auth.HasRole(u.Role, auth.RoleAdmin, auth.RoleModerator) {
		http.Error(w, forbiddenMessage, http.StatusForbidden)
		return
	}
	users, err := dbpkg.ListUsersWithEmail(r.Context(), h.DB)
	if err != nil {
		slog.Error("list users failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type userUpdateRequest struct {
	ID       int64 `json:"id"`
	Role     *int  `json:"role"`
	IsActive *bool `json:"is_active"`
}

// HandleUserUpdate changes another user's role and active flag. Admins only.
func (h *Handlers) HandleUserUpdate(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPut) {
		return
	}
	claims, u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if !auth.HasRole(u.Role, auth.RoleAdmin) {
		http.Error(w, forbiddenMessage, http.StatusForbidden)
		return
	}
	var req userUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.ID <= 0 || req.Role == nil || req.IsActive == nil {
		http.Error(w, "id, role and is_active are required", http.StatusBadRequest)
		return
	}
	if *req.Role < auth.RoleAdmin || *req.Role > auth.RoleUser {
		http.Error(w, "role out of range", http.StatusBadRequest)
		return
	}
	updated, err := dbpkg.UpdateUserRole(r.Context(), h.DB, req.ID, *req.Role, *req.IsActive)
	if errors.Is(err, dbpkg.ErrUserNotFound) {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("update user failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("user role changed",
		slog.String("by", claims.DisplayName),
		slog.Int64("user_id", updated.ID),
		slog.Int("role", updated.Role),
		slog.Bool("is_active", updated.IsActive))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": updated.DisplayName + " updated",
		"user":    updated,
	})
}
