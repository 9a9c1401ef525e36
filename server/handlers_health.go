package server

import (
	"errors"
	"net/http"

	dbpkg "github.com/miwitv/backend/db"
)

// HandleHealthz responds to liveness checks by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil || dbpkg.Ping(r.Context(), h.DB) != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.DB == nil {
				return errors.New("database not configured")
			}
			return dbpkg.Ping(r.Context(), h.DB)
		}},
		{"relay_credentials", func() error {
			if h.Credentials == nil || h.Status == nil {
				return errors.New("relay not configured")
			}
			return h.Config.ValidateRelayReady()
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports relay session counts and which features are configured.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"relay_sessions":    h.Registry.Len(),
		"relay_enabled":     h.Credentials != nil && h.Status != nil,
		"login_enabled":     h.Login != nil && h.Signer != nil,
		"clip_sync_enabled": h.Credentials != nil && h.Clips != nil,
		"poll_interval":     h.Config.PollInterval.String(),
		"refresh_ticks":     h.Config.RefreshTicks,
	})
}
