package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// LoginFlow drives the user authorization-code grant used by /login and /auth/callback.
type LoginFlow struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       string
	HTTPClient   *http.Client
	// Endpoint overrides twitch.Endpoint (tests).
	Endpoint *oauth2.Endpoint
}

func (lf *LoginFlow) config() *oauth2.Config {
	ep := twitch.Endpoint
	if lf.Endpoint != nil {
		ep = *lf.Endpoint
	}
	var scopes []string
	if s := strings.TrimSpace(strings.ReplaceAll(lf.Scopes, ",", " ")); s != "" {
		scopes = strings.Fields(s)
	}
	return &oauth2.Config{
		ClientID:     lf.ClientID,
		ClientSecret: lf.ClientSecret,
		RedirectURL:  lf.RedirectURI,
		Scopes:       scopes,
		Endpoint:     ep,
	}
}

// AuthorizeURL constructs the user authorization URL for the code grant.
func (lf *LoginFlow) AuthorizeURL(state string) (string, error) {
	if lf.ClientID == "" || lf.RedirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	return lf.config().AuthCodeURL(state), nil
}

// Exchange trades an authorization code for a user access token.
func (lf *LoginFlow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if lf.ClientID == "" || lf.ClientSecret == "" || code == "" || lf.RedirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	if lf.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, lf.HTTPClient)
	}
	return lf.config().Exchange(ctx, code)
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// TokenLifetime returns the remaining lifetime of tok in whole seconds, using
// ComputeExpiry's default when the provider did not report an expiry.
func TokenLifetime(tok *oauth2.Token) int {
	exp := tok.Expiry
	if exp.IsZero() {
		exp = ComputeExpiry(0)
	}
	secs := int(time.Until(exp).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}
