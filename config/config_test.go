package config

import (
	"testing"
	"time"

	"github.com/miwitv/backend/relay"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_POLL_INTERVAL", "")
	t.Setenv("RELAY_REFRESH_TICKS", "")
	t.Setenv("RELAY_UPSTREAM_TIMEOUT", "")
	t.Setenv("RELAY_WRITE_TIMEOUT", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("TWITCH_SCOPES", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.RefreshTicks != 60 {
		t.Errorf("RefreshTicks = %d, want 60", cfg.RefreshTicks)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 10s", cfg.UpstreamTimeout)
	}
	if cfg.WriteTimeout != relay.DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want %v", cfg.WriteTimeout, relay.DefaultWriteTimeout)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.TwitchScopes != "user:read:email" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
}

func TestLoadRelayOverrides(t *testing.T) {
	t.Setenv("RELAY_POLL_INTERVAL", "5s")
	t.Setenv("RELAY_REFRESH_TICKS", "12")
	t.Setenv("RELAY_UPSTREAM_TIMEOUT", "2s")
	t.Setenv("RELAY_WRITE_TIMEOUT", "3s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 5*time.Second || cfg.RefreshTicks != 12 || cfg.UpstreamTimeout != 2*time.Second {
		t.Errorf("unexpected relay config: %+v", cfg)
	}
	// The websocket write deadline is independent of the Helix timeout.
	if cfg.WriteTimeout != 3*time.Second {
		t.Errorf("WriteTimeout = %v, want 3s", cfg.WriteTimeout)
	}
}

func TestRelayDefaultsShared(t *testing.T) {
	if DefaultPollInterval != relay.DefaultPollInterval || DefaultRefreshTicks != relay.DefaultRefreshTicks {
		t.Errorf("config defaults diverge from relay: %v/%d vs %v/%d",
			DefaultPollInterval, DefaultRefreshTicks, relay.DefaultPollInterval, relay.DefaultRefreshTicks)
	}
}

func TestClipBroadcaster(t *testing.T) {
	t.Setenv("CLIP_BROADCASTER", "")
	t.Setenv("CLIP_MAX_PAGES", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClipBroadcaster != DefaultClipBroadcaster || cfg.ClipMaxPages != 0 {
		t.Errorf("clip defaults = %q/%d", cfg.ClipBroadcaster, cfg.ClipMaxPages)
	}

	t.Setenv("CLIP_BROADCASTER", " OtherChannel ")
	t.Setenv("CLIP_MAX_PAGES", "5")
	if cfg, err = Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClipBroadcaster != "otherchannel" || cfg.ClipMaxPages != 5 {
		t.Errorf("clip overrides = %q/%d", cfg.ClipBroadcaster, cfg.ClipMaxPages)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad interval", "RELAY_POLL_INTERVAL", "soon"},
		{"negative interval", "RELAY_POLL_INTERVAL", "-1s"},
		{"bad ticks", "RELAY_REFRESH_TICKS", "many"},
		{"zero ticks", "RELAY_REFRESH_TICKS", "0"},
		{"bad timeout", "RELAY_UPSTREAM_TIMEOUT", "10"},
		{"zero write timeout", "RELAY_WRITE_TIMEOUT", "0s"},
		{"bad clip pages", "CLIP_MAX_PAGES", "-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestStreamerCredentialsFallBackToLoginApp(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "login-id")
	t.Setenv("TWITCH_CLIENT_SECRET", "login-secret")
	t.Setenv("TWITCH_STREAMER_CLIENT_ID", "")
	t.Setenv("TWITCH_STREAMER_CLIENT_SECRET", "")
	cfg, _ := Load()
	if cfg.StreamerClientID != "login-id" || cfg.StreamerClientSecret != "login-secret" {
		t.Errorf("expected fallback to login app, got %q/%q", cfg.StreamerClientID, cfg.StreamerClientSecret)
	}
	if err := cfg.ValidateRelayReady(); err != nil {
		t.Errorf("expected relay ready, got %v", err)
	}
}

func TestValidateRelayReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "")
	t.Setenv("TWITCH_CLIENT_SECRET", "")
	t.Setenv("TWITCH_STREAMER_CLIENT_ID", "")
	t.Setenv("TWITCH_STREAMER_CLIENT_SECRET", "")
	cfg, _ := Load()
	if err := cfg.ValidateRelayReady(); err == nil {
		t.Errorf("expected error when streamer credentials missing")
	}
}

func TestValidateLoginReady(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_REDIRECT_URI", "https://dev.miwi.tv/api/auth/callback")
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, _ := Load()
	if err := cfg.ValidateLoginReady(); err != nil {
		t.Errorf("expected valid login config, got %v", err)
	}
	t.Setenv("JWT_SECRET", "")
	cfg, _ = Load()
	if err := cfg.ValidateLoginReady(); err == nil {
		t.Errorf("expected error when JWT_SECRET missing")
	}
}

func TestRedirectURIDerivedFromLoginRedirect(t *testing.T) {
	t.Setenv("TWITCH_REDIRECT_URI", "")
	t.Setenv("REDIRECT_URL_AFTER_LOGIN", "https://dev.miwi.tv/")
	cfg, _ := Load()
	if cfg.TwitchRedirectURI != "https://dev.miwi.tv/api/auth/callback" {
		t.Errorf("TwitchRedirectURI = %q", cfg.TwitchRedirectURI)
	}
}
