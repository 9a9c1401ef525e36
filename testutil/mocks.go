package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch Helix and OAuth responses.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]*atomic.Int32
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]*atomic.Int32),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.handlers[r.URL.Path]
		c := m.calls[r.URL.Path]
		if c == nil {
			c = &atomic.Int32{}
			m.calls[r.URL.Path] = c
		}
		m.mu.Unlock()
		c.Add(1)
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the base URL to hand to twitchapi.HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the OAuth token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// AuthURL is the OAuth authorize endpoint.
func (m *MockTwitchServer) AuthURL() string { return m.URL + "/oauth2/authorize" }

// Handle installs h for path, replacing any previous handler.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Calls returns how many requests hit path.
func (m *MockTwitchServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.calls[path]; c != nil {
		return int(c.Load())
	}
	return 0
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login, displayName, email string) {
	m.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"data": []map[string]string{
				{
					"id":                userID,
					"login":             login,
					"display_name":      displayName,
					"email":             email,
					"profile_image_url": "https://static-cdn.jtvnw.net/" + login + ".png",
				},
			},
		})
	})
}

// MockStreamsResponse adds a handler for /helix/streams endpoint
func (m *MockTwitchServer) MockStreamsResponse(streams []map[string]interface{}) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"data": streams})
	})
}

// MockStreamsStatus makes /helix/streams answer with the given HTTP status.
func (m *MockTwitchServer) MockStreamsStatus(code int) {
	m.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": accessToken + "-refresh",
			"expires_in":    expiresIn,
			"token_type":    "bearer",
		})
	})
}

// MockOAuthTokenFailure makes the token endpoint reject every exchange.
func (m *MockTwitchServer) MockOAuthTokenFailure() {
	m.Handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]interface{}{"status": 403, "message": "invalid client secret"})
	})
}

// LiveStream builds a Helix stream record for login.
func LiveStream(login string) map[string]interface{} {
	return map[string]interface{}{
		"id":           "stream-" + login,
		"user_id":      "1001",
		"user_login":   login,
		"user_name":    login,
		"game_name":    "Just Chatting",
		"type":         "live",
		"title":        "test stream",
		"viewer_count": 42,
		"started_at":   "2026-10-19T12:00:00Z",
	}
}

// MockClipPages serves /helix/clips one page per request. The "after" query
// parameter selects the page and every page but the last returns a cursor.
func (m *MockTwitchServer) MockClipPages(pages ...[]map[string]interface{}) {
	m.Handle("/helix/clips", func(w http.ResponseWriter, r *http.Request) {
		idx := 0
		if after := r.URL.Query().Get("after"); after != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(after, "page-"))
			if err != nil || n >= len(pages) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			idx = n
		}
		data := []map[string]interface{}{}
		if idx < len(pages) {
			data = append(data, pages[idx]...)
		}
		pagination := map[string]string{}
		if idx+1 < len(pages) {
			pagination["cursor"] = "page-" + strconv.Itoa(idx+1)
		}
		writeJSON(w, map[string]interface{}{"data": data, "pagination": pagination})
	})
}

// TwitchClip builds a Helix clip record created by creatorID.
func TwitchClip(id, creatorID, creatorName string, views int) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"url":            "https://clips.twitch.tv/" + id,
		"broadcaster_id": "1001",
		"creator_id":     creatorID,
		"creator_name":   creatorName,
		"game_id":        "509658",
		"title":          "clip " + id,
		"view_count":     views,
		"created_at":     "2026-10-01T18:00:00Z",
		"thumbnail_url":  "https://clips-media/" + id + ".jpg",
	}
}
