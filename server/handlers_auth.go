package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/miwitv/backend/auth"
	dbpkg "github.com/miwitv/backend/db"
	"github.com/miwitv/backend/telemetry"
	"github.com/miwitv/backend/twitchapi"
)

// HandleLogin starts the Twitch authorization-code flow.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.Login == nil {
		http.Error(w, "login not configured", http.StatusServiceUnavailable)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, time.Now().Add(oauthStateTTL)) {
		http.Error(w, "too many pending logins", http.StatusServiceUnavailable)
		return
	}
	authURL, err := h.Login.AuthorizeURL(st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("login started", slog.String("ip", clientIP(r)), slog.String("component", "auth"))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleAuthCallback completes the login: it exchanges the code, loads the
// Twitch user, upserts the local user and sets the session cookie.
func (h *Handlers) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	if h.Login == nil || h.Users == nil || h.Signer == nil || h.DB == nil {
		http.Error(w, "login not configured", http.StatusServiceUnavailable)
		return
	}
	logger := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "auth"))
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tok, err := h.Login.Exchange(ctx, code)
	if err != nil {
		logger.Warn("auth code exchange failed", slog.Any("err", err))
		http.Error(w, "twitch token exchange failed", http.StatusBadGateway)
		return
	}
	tu, err := h.Users.GetUser(ctx, tok.AccessToken)
	if err != nil {
		logger.Warn("twitch user lookup failed", slog.Any("err", err))
		http.Error(w, "twitch user lookup failed", http.StatusBadGateway)
		return
	}
	user, err := dbpkg.UpsertUser(ctx, h.DB, tu.ID, tu.Email, tu.DisplayName)
	if err != nil {
		logger.Error("user upsert failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	lifetime := twitchapi.TokenLifetime(tok)
	expires := time.Now().Add(time.Duration(lifetime) * time.Second)
	session, err := h.Signer.Issue(auth.Claims{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		AvatarURL:   tu.ProfileImageURL,
	}, expires)
	if err != nil {
		logger.Error("session issue failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, h.sessionCookie(session, lifetime))
	logger.Info("login completed", slog.Int64("user_id", user.ID), slog.String("display_name", user.DisplayName))
	http.Redirect(w, r, h.Config.RedirectAfterLogin, http.StatusFound)
}

// HandleLogout replaces the session cookie with one that expires immediately.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	http.SetCookie(w, h.sessionCookie("", -1))
	http.Redirect(w, r, h.Config.RedirectAfterLogin, http.StatusSeeOther)
}

func (h *Handlers) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     auth.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.Config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
