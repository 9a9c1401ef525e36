package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miwitv/backend/auth"
	dbpkg "github.com/miwitv/backend/db"
	"github.com/miwitv/backend/testutil"
	"github.com/miwitv/backend/twitchapi"
)

// sessionFor upserts a user with role and returns a cookie for it.
func sessionFor(t *testing.T, database *sql.DB, signer *auth.Signer, twitchID string, role int) (*http.Cookie, int64) {
	t.Helper()
	ctx := context.Background()
	u, err := dbpkg.UpsertUser(ctx, database, twitchID, "", twitchID)
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if _, err := dbpkg.UpdateUserRole(ctx, database, u.ID, role, true); err != nil {
		t.Fatalf("UpdateUserRole: %v", err)
	}
	token, err := signer.Issue(auth.Claims{UserID: u.ID, DisplayName: twitchID}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return &http.Cookie{Name: auth.CookieName, Value: token}, u.ID
}

func authed(method, target string, body []byte, c *http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

type clipFixture struct {
	db     *sql.DB
	mock   *testutil.MockTwitchServer
	signer *auth.Signer
	mux    http.Handler
	uniq   func(string) string
}

func newClipFixture(t *testing.T) *clipFixture {
	t.Helper()
	database := testutil.SetupTestDB(t)
	uniq := func(s string) string { return t.Name() + "-" + s }
	if _, err := database.Exec(`DELETE FROM users WHERE twitch_id LIKE $1`, t.Name()+"-%"); err != nil {
		t.Fatalf("clean users: %v", err)
	}
	if _, err := database.Exec(`DELETE FROM clips WHERE broadcaster_id = $1`, uniq("broadcaster")); err != nil {
		t.Fatalf("clean clips: %v", err)
	}

	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("app-token", 3600)
	mock.MockUserResponse(uniq("broadcaster"), "miwitv", "MiwiTV", "")

	cfg := testConfig()
	cfg.ClipBroadcaster = "miwitv"
	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	deps := Deps{
		DB:     database,
		Config: cfg,
		Credentials: &twitchapi.AppCredentials{
			ClientID:     cfg.StreamerClientID,
			ClientSecret: cfg.StreamerClientSecret,
			TokenURL:     mock.TokenURL(),
		},
		Clips:  &twitchapi.HelixClient{ClientID: cfg.StreamerClientID, BaseURL: mock.HelixURL()},
		Signer: signer,
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &clipFixture{db: database, mock: mock, signer: signer, mux: NewMux(ctx, deps), uniq: uniq}
}

func decodeClips(t *testing.T, rr *httptest.ResponseRecorder) map[string]map[string]any {
	t.Helper()
	var list []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode clips: %v (%s)", err, rr.Body.String())
	}
	byID := map[string]map[string]any{}
	for _, c := range list {
		byID[c["id"].(string)] = c
	}
	return byID
}

func TestClipSyncAndLikes(t *testing.T) {
	f := newClipFixture(t)
	f.mock.MockClipPages(
		[]map[string]interface{}{
			testutil.TwitchClip(f.uniq("a"), f.uniq("creator"), "Clipper", 5),
			testutil.TwitchClip(f.uniq("b"), f.uniq("creator"), "Clipper", 6),
		},
		[]map[string]interface{}{
			testutil.TwitchClip(f.uniq("c"), f.uniq("other-creator"), "Other", 7),
		},
	)
	viewer, _ := sessionFor(t, f.db, f.signer, f.uniq("viewer"), auth.RoleUser)
	editor, _ := sessionFor(t, f.db, f.signer, f.uniq("editor"), auth.RoleEditor)

	if rr := serve(f.mux, authed(http.MethodPost, "/clip/sync_clips", nil, nil)); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous sync: expected 401, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/sync_clips", nil, viewer)); rr.Code != http.StatusForbidden {
		t.Errorf("user sync: expected 403, got %d", rr.Code)
	}
	rr := serve(f.mux, authed(http.MethodPost, "/clip/sync_clips", nil, editor))
	if rr.Code != http.StatusOK {
		t.Fatalf("editor sync: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sync struct {
		Result dbpkg.SyncResult `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &sync); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sync.Result.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", sync.Result.Inserted)
	}
	if got := f.mock.Calls("/helix/clips"); got != 2 {
		t.Errorf("clip pages fetched = %d, want 2", got)
	}

	rr = serve(f.mux, httptest.NewRequest(http.MethodGet, "/clip/all", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/clip/all: expected 200, got %d", rr.Code)
	}
	clips := decodeClips(t, rr)
	if c := clips[f.uniq("c")]; c == nil || c["creator_name"] != "Other" || c["view_count"] != float64(7) {
		t.Errorf("clip c = %v", c)
	}

	// Likes: one per user and one per IP.
	rr = serve(f.mux, authed(http.MethodPost, "/clip/like/"+f.uniq("a"), nil, viewer))
	if rr.Code != http.StatusOK {
		t.Fatalf("like: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var liked map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &liked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if liked["likes"] != float64(1) {
		t.Errorf("likes = %v, want 1", liked["likes"])
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/like/"+f.uniq("a"), nil, viewer)); rr.Code != http.StatusBadRequest {
		t.Errorf("second like: expected 400, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/like/"+f.uniq("a"), nil, editor)); rr.Code != http.StatusBadRequest {
		t.Errorf("like from same ip: expected 400, got %d", rr.Code)
	}
	creator, _ := sessionFor(t, f.db, f.signer, f.uniq("creator"), auth.RoleUser)
	req := authed(http.MethodPost, "/clip/like/"+f.uniq("b"), nil, creator)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if rr := serve(f.mux, req); rr.Code != http.StatusForbidden {
		t.Errorf("own clip: expected 403, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/like/"+f.uniq("missing"), nil, viewer)); rr.Code != http.StatusNotFound {
		t.Errorf("missing clip: expected 404, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodGet, "/clip/like/"+f.uniq("a"), nil, viewer)); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET like: expected 405, got %d", rr.Code)
	}

	rr = serve(f.mux, authed(http.MethodGet, "/clip/my_liked_clips", nil, viewer))
	if rr.Code != http.StatusOK {
		t.Fatalf("my_liked_clips: expected 200, got %d", rr.Code)
	}
	mine := decodeClips(t, rr)
	if len(mine) != 1 || mine[f.uniq("a")] == nil {
		t.Errorf("my_liked_clips = %v", mine)
	}

	// An empty listing answers 404 and keeps the stored clips.
	f.mock.MockClipPages()
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/sync_clips", nil, editor)); rr.Code != http.StatusNotFound {
		t.Errorf("empty sync: expected 404, got %d", rr.Code)
	}
	var stored int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM clips WHERE broadcaster_id = $1`, f.uniq("broadcaster")).Scan(&stored); err != nil {
		t.Fatalf("count: %v", err)
	}
	if stored != 3 {
		t.Errorf("stored clips = %d, want 3", stored)
	}
}

func TestClipBlocking(t *testing.T) {
	f := newClipFixture(t)
	f.mock.MockClipPages([]map[string]interface{}{
		testutil.TwitchClip(f.uniq("a"), f.uniq("creator"), "Clipper", 1),
		testutil.TwitchClip(f.uniq("b"), f.uniq("creator"), "Clipper", 2),
	})
	viewer, _ := sessionFor(t, f.db, f.signer, f.uniq("viewer"), auth.RoleUser)
	mod, _ := sessionFor(t, f.db, f.signer, f.uniq("mod"), auth.RoleModerator)
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/sync_clips", nil, mod)); rr.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d", rr.Code)
	}

	block := []byte(`{"status":true}`)
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/block/"+f.uniq("a"), block, viewer)); rr.Code != http.StatusForbidden {
		t.Errorf("user block: expected 403, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/block/"+f.uniq("a"), []byte(`{}`), mod)); rr.Code != http.StatusBadRequest {
		t.Errorf("block without status: expected 400, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/block/"+f.uniq("missing"), block, mod)); rr.Code != http.StatusNotFound {
		t.Errorf("block missing: expected 404, got %d", rr.Code)
	}
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/block/"+f.uniq("a"), block, mod)); rr.Code != http.StatusOK {
		t.Fatalf("block: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr := serve(f.mux, httptest.NewRequest(http.MethodGet, "/clip/all", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/clip/all: expected 200, got %d", rr.Code)
	}
	visible := decodeClips(t, rr)
	if visible[f.uniq("a")] != nil || visible[f.uniq("b")] == nil {
		t.Errorf("blocked clip listed or other clip missing")
	}

	tests := []struct {
		name   string
		cookie *http.Cookie
		want   int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"user", viewer, http.StatusForbidden},
		{"moderator", mod, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(f.mux, authed(http.MethodGet, "/clip/all?show_blocked=true", nil, tt.cookie))
			if rr.Code != tt.want {
				t.Fatalf("show_blocked as %s: expected %d, got %d", tt.name, tt.want, rr.Code)
			}
			if tt.want == http.StatusOK {
				if c := decodeClips(t, rr)[f.uniq("a")]; c == nil || c["blocked"] != true {
					t.Errorf("blocked clip = %v", c)
				}
			}
		})
	}
	if rr := serve(f.mux, httptest.NewRequest(http.MethodGet, "/clip/all?show_blocked=maybe", nil)); rr.Code != http.StatusBadRequest {
		t.Errorf("bad show_blocked: expected 400, got %d", rr.Code)
	}

	unblock := []byte(`{"status":false}`)
	if rr := serve(f.mux, authed(http.MethodPost, "/clip/block/"+f.uniq("a"), unblock, mod)); rr.Code != http.StatusOK {
		t.Fatalf("unblock: expected 200, got %d", rr.Code)
	}
	if visible := decodeClips(t, serve(f.mux, httptest.NewRequest(http.MethodGet, "/clip/all", nil))); visible[f.uniq("a")] == nil {
		t.Error("unblocked clip still hidden")
	}
}

func TestClipSyncNotConfigured(t *testing.T) {
	database := testutil.SetupTestDB(t)
	cfg := testConfig()
	signer, err := auth.NewSigner(cfg.JWTSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	_, _ = database.Exec(`DELETE FROM users WHERE twitch_id = $1`, t.Name())
	editor, _ := sessionFor(t, database, signer, t.Name(), auth.RoleAdmin)
	mux := NewMux(context.Background(), Deps{DB: database, Config: cfg, Signer: signer})
	if rr := serve(mux, authed(http.MethodPost, "/clip/sync_clips", nil, editor)); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}
