package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	dbpkg "github.com/miwitv/backend/db"
	"github.com/miwitv/backend/telemetry"
)

const maxChallengeBody = 1 << 20

// pathID parses the {name} wildcard as a positive integer, answering 400
// otherwise.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, name+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeChallenge(w http.ResponseWriter, r *http.Request) (dbpkg.Challenge, bool) {
	var c dbpkg.Challenge
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChallengeBody)).Decode(&c); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return c, false
	}
	if err := c.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return c, false
	}
	return c, true
}

// HandleChallengeCreate stores a new challenge tree.
func (h *Handlers) HandleChallengeCreate(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	c, ok := decodeChallenge(w, r)
	if !ok {
		return
	}
	id, err := dbpkg.CreateChallenge(r.Context(), h.DB, c)
	if err != nil {
		slog.Error("create challenge failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("challenge created", slog.Int64("challenge_id", id), slog.Int64("by", u.ID))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Challenge created", "challenge_id": id})
}

// HandleChallengeAll lists every challenge with its tree.
func (h *Handlers) HandleChallengeAll(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	cs, err := dbpkg.ListChallenges(r.Context(), h.DB)
	if err != nil {
		slog.Error("list challenges failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(cs) == 0 {
		http.Error(w, "No challenges found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

type completedRequest struct {
	Completed *bool `json:"completed"`
}

// handleCompleted serves the item and subchallenge toggles.
func (h *Handlers) handleCompleted(w http.ResponseWriter, r *http.Request, kind string, set func(*http.Request, int64, bool) error) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req completedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil || req.Completed == nil {
		http.Error(w, "completed is required", http.StatusBadRequest)
		return
	}
	err := set(r, id, *req.Completed)
	if errors.Is(err, dbpkg.ErrItemNotFound) {
		http.Error(w, kind+" not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("update "+kind+" failed", slog.Any("err", err), slog.Int64("id", id))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info(kind+" updated", slog.Int64("id", id), slog.Bool("completed", *req.Completed), slog.Int64("by", u.ID))
	writeJSON(w, http.StatusOK, map[string]string{"message": kind + " updated"})
}

// HandleChallengeTask toggles a challenge item.
func (h *Handlers) HandleChallengeTask(w http.ResponseWriter, r *http.Request) {
	h.handleCompleted(w, r, "Task", func(r *http.Request, id int64, done bool) error {
		return dbpkg.SetItemCompleted(r.Context(), h.DB, id, done)
	})
}

// HandleChallengeSubChallenge toggles a subchallenge.
func (h *Handlers) HandleChallengeSubChallenge(w http.ResponseWriter, r *http.Request) {
	h.handleCompleted(w, r, "Subchallenge", func(r *http.Request, id int64, done bool) error {
		return dbpkg.SetSubChallengeCompleted(r.Context(), h.DB, id, done)
	})
}

// HandleChallengeUpdate replaces a challenge's header and sections.
func (h *Handlers) HandleChallengeUpdate(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, ok := decodeChallenge(w, r)
	if !ok {
		return
	}
	err := dbpkg.ReplaceChallenge(r.Context(), h.DB, id, c)
	if errors.Is(err, dbpkg.ErrChallengeNotFound) {
		http.Error(w, "Challenge not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("update challenge failed", slog.Any("err", err), slog.Int64("challenge_id", id))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("challenge updated", slog.Int64("challenge_id", id), slog.Int64("by", u.ID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Challenge updated"})
}

// HandleChallengeDelete removes a challenge and its tree.
func (h *Handlers) HandleChallengeDelete(w http.ResponseWriter, r *http.Request) {
	u, ok := h.requireRole(w, r, editorRoles...)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	err := dbpkg.DeleteChallenge(r.Context(), h.DB, id)
	if errors.Is(err, dbpkg.ErrChallengeNotFound) {
		http.Error(w, "Challenge not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("delete challenge failed", slog.Any("err", err), slog.Int64("challenge_id", id))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("challenge deleted", slog.Int64("challenge_id", id), slog.Int64("by", u.ID))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Challenge deleted"})
}
