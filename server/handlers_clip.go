package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/miwitv/backend/auth"
	dbpkg "github.com/miwitv/backend/db"
	"github.com/miwitv/backend/telemetry"
	"github.com/miwitv/backend/twitchapi"
)

// Roles allowed to curate clips and challenges.
var editorRoles = []int{auth.RoleAdmin, auth.RoleModerator, auth.RoleEditor}

// requireRole loads the session user and answers 403 unless its role is one
// of allowed.
func (h *Handlers) requireRole(w http.ResponseWriter, r *http.Request, allowed ...int) (*dbpkg.User, bool) {
	_, u, ok := h.currentUser(w, r)
	if !ok {
		return nil, false
	}
	if !auth.HasRole(u.Role, allowed...) {
		http.Error(w, forbiddenMessage, http.StatusForbidden)
		return nil, false
	}
	return u, true
}

// HandleClipSync imports the configured broadcaster's clips from Twitch and
// prunes the ones Twitch no longer lists.
func (h *Handlers) HandleClipSync(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	if h.Clips == nil || h.Credentials == nil {
		http.Error(w, "clip sync not configured", http.StatusServiceUnavailable)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("broadcaster", h.Config.ClipBroadcaster))

	token, err := h.Credentials.Refresh(r.Context())
	if err != nil {
		telemetry.ObserveClipSync("failed")
		log.Error("clip sync: app token unavailable", slog.Any("err", err))
		http.Error(w, "twitch unavailable", http.StatusBadGateway)
		return
	}
	broadcasterID, err := h.Clips.GetUserID(r.Context(), h.Config.ClipBroadcaster, token)
	if errors.Is(err, twitchapi.ErrUserNotFound) {
		telemetry.ObserveClipSync("failed")
		log.Error("clip sync: broadcaster not found")
		http.Error(w, "Broadcaster not found", http.StatusBadRequest)
		return
	}
	if err != nil {
		telemetry.ObserveClipSync("failed")
		log.Error("clip sync: broadcaster lookup failed", slog.Any("err", err))
		http.Error(w, "twitch unavailable", http.StatusBadGateway)
		return
	}
	clips, err := h.Clips.GetClips(r.Context(), broadcasterID, token, h.Config.ClipMaxPages)
	if err != nil {
		telemetry.ObserveClipSync("failed")
		log.Error("clip sync: listing failed", slog.Any("err", err))
		http.Error(w, "twitch unavailable", http.StatusBadGateway)
		return
	}
	if len(clips) == 0 {
		// An empty listing never prunes stored clips.
		telemetry.ObserveClipSync("empty")
		log.Warn("clip sync: no clips found")
		http.Error(w, "No clips found", http.StatusNotFound)
		return
	}

	records := make([]dbpkg.ClipRecord, 0, len(clips))
	for _, c := range clips {
		records = append(records, dbpkg.ClipRecord{
			ClipID:          c.ID,
			CreatorTwitchID: c.CreatorID,
			CreatorName:     c.CreatorName,
			GameID:          c.GameID,
			Title:           c.Title,
			ViewCount:       c.ViewCount,
			CreatedAt:       c.CreatedAt,
			ThumbnailURL:    c.ThumbnailURL,
		})
	}
	res, err := dbpkg.SyncClips(r.Context(), h.DB, broadcasterID, records)
	if err != nil {
		telemetry.ObserveClipSync("failed")
		log.Error("clip sync: store failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.ObserveClipSync("ok")
	log.Info("clips synchronised",
		slog.Int64("by", u.ID),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Clips synchronised", "result": res})
}

// HandleMyLikedClips lists the clips the session user liked.
func (h *Handlers) HandleMyLikedClips(w http.ResponseWriter, r *http.Request) {
	_, u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	clips, err := dbpkg.ListLikedClips(r.Context(), h.DB, u.ID)
	if err != nil {
		slog.Error("list liked clips failed", slog.Any("err", err), slog.Int64("user_id", u.ID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

// HandleClipAll lists visible clips. show_blocked=true includes blocked ones
// and needs an editor session.
func (h *Handlers) HandleClipAll(w http.ResponseWriter, r *http.Request) {
	showBlocked := false
	if v := r.URL.Query().Get("show_blocked"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "show_blocked must be a boolean", http.StatusBadRequest)
			return
		}
		showBlocked = b
	}
	if showBlocked {
		if _, ok := h.requireRole(w, r, editorRoles...); !ok {
			return
		}
	} else if h.DB == nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	clips, err := dbpkg.ListClips(r.Context(), h.DB, showBlocked)
	if err != nil {
		slog.Error("list clips failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(clips) == 0 {
		http.Error(w, "No clips found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, clips)
}

// HandleClipLike records a like from the session user and client IP.
func (h *Handlers) HandleClipLike(w http.ResponseWriter, r *http.Request) {
	claims, u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	clipID := r.PathValue("clip_id")
	likes, err := dbpkg.LikeClip(r.Context(), h.DB, u.ID, clipID, clientIP(r))
	switch {
	case errors.Is(err, dbpkg.ErrClipNotFound):
		http.Error(w, "Clip not found", http.StatusNotFound)
		return
	case errors.Is(err, dbpkg.ErrOwnClip):
		http.Error(w, "You cannot like your own clip", http.StatusForbidden)
		return
	case errors.Is(err, dbpkg.ErrAlreadyLiked):
		http.Error(w, "You already liked this clip", http.StatusBadRequest)
		return
	case errors.Is(err, dbpkg.ErrIPAlreadyLiked):
		telemetry.LoggerWithCorr(r.Context()).Warn("clip like from reused ip", slog.String("clip_id", clipID), slog.String("user", claims.DisplayName))
		http.Error(w, "This clip was already liked from your IP", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("like clip failed", slog.Any("err", err), slog.String("clip_id", clipID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("clip liked", slog.String("clip_id", clipID), slog.Int64("user_id", u.ID))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Clip liked successfully", "likes": likes})
}

type clipBlockRequest struct {
	Status *bool `json:"status"`
}

// HandleClipBlock blocks (status=true) or unblocks a clip.
func (h *Handlers) HandleClipBlock(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	var req clipBlockRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil || req.Status == nil {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	clipID := r.PathValue("clip_id")
	err := dbpkg.SetClipBlocked(r.Context(), h.DB, clipID, *req.Status, u.ID)
	if errors.Is(err, dbpkg.ErrClipNotFound) {
		http.Error(w, "Clip not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("block clip failed", slog.Any("err", err), slog.String("clip_id", clipID))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	action := "unblocked"
	if *req.Status {
		action = "blocked"
	}
	telemetry.LoggerWithCorr(r.Context()).Info("clip "+action, slog.String("clip_id", clipID), slog.Int64("by", u.ID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Clip " + action})
}
