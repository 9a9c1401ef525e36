package server

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/miwitv/backend/relay"
	"github.com/miwitv/backend/telemetry"
)

// Twitch logins are 4-25 word characters; allow a little slack for legacy names.
var loginPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,25}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by CORS for HTTP routes; the relay is public read-only data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRelay upgrades GET /ws/{login} and runs a relay session until the
// client leaves or the server shuts down.
func (h *Handlers) HandleRelay(w http.ResponseWriter, r *http.Request) {
	login := strings.ToLower(strings.TrimPrefix(r.URL.Path, "/ws/"))
	if !loginPattern.MatchString(login) {
		http.Error(w, "invalid channel login", http.StatusBadRequest)
		return
	}
	if h.Credentials == nil || h.Status == nil {
		http.Error(w, "relay not configured", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("websocket upgrade failed", slog.Any("err", err), slog.String("channel", login))
		return
	}
	conn := relay.NewWSConn(ws, h.Config.WriteTimeout)

	// The session stops on server shutdown or when the read pump sees the client go.
	ctx, cancel := context.WithCancelCause(h.ctx)
	defer cancel(nil)
	ctx = telemetry.WithCorrelation(ctx, telemetry.GetCorrelation(r.Context()))
	go conn.ReadPump(cancel)

	sess := relay.NewSession(login, conn, h.Registry, h.Credentials, h.Status, relay.Options{
		PollInterval: h.Config.PollInterval,
		RefreshTicks: h.Config.RefreshTicks,
		Clock:        h.Clock,
		Logger:       telemetry.LoggerWithCorr(r.Context()),
	})
	if err := sess.Run(ctx); err != nil {
		slog.Debug("relay session finished", slog.String("channel", login), slog.String("session", sess.ID), slog.Any("reason", err))
	}
}
