package server

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/miwitv/backend/auth"
	"github.com/miwitv/backend/config"
	"github.com/miwitv/backend/relay"
	"github.com/miwitv/backend/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	oauthStateTTL  = 10 * time.Minute
)

// Deps are the collaborators the handlers need. Nil fields disable the
// routes that depend on them (they answer 503).
type Deps struct {
	DB     *sql.DB
	Config *config.Config

	// Relay
	Registry    *relay.Registry
	Credentials relay.CredentialProvider
	Status      relay.StatusClient
	Clock       relay.Clock

	// Clip sync; uses Credentials for its app token.
	Clips ClipSource

	// Login
	Login  *twitchapi.LoginFlow
	Users  *twitchapi.HelixClient
	Signer *auth.Signer
}

// ClipSource lists a channel's clips on Twitch.
type ClipSource interface {
	GetUserID(ctx context.Context, login, token string) (string, error)
	GetClips(ctx context.Context, broadcasterID, token string, maxPages int) ([]twitchapi.Clip, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx        context.Context
	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{
			RedirectAfterLogin: "/",
			PollInterval:       config.DefaultPollInterval,
			RefreshTicks:       config.DefaultRefreshTicks,
			UpstreamTimeout:    config.DefaultUpstreamTimeout,
			WriteTimeout:       config.DefaultWriteTimeout,
			ClipBroadcaster:    config.DefaultClipBroadcaster,
		}
	}
	if deps.Registry == nil {
		deps.Registry = relay.NewRegistry()
	}
	return &Handlers{
		Deps:       deps,
		ctx:        ctx,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
// It reports false when the store is full.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	if len(h.stateStore) >= maxOAuthStates {
		return false
	}

	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState removes state and reports whether it was present and unexpired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(exp)
}
