package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/twitch"
)

// ErrCredentialUnavailable is returned (wrapped) for every failed app token exchange.
var ErrCredentialUnavailable = errors.New("twitch app credential unavailable")

// AppCredentials performs the client-credentials exchange for a Twitch app access token.
// NOTE: each Refresh hits the token endpoint; callers own caching and refresh scheduling.
// It keeps no mutable state and is safe for concurrent use.
type AppCredentials struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	// TokenURL overrides the Twitch token endpoint (tests).
	TokenURL string
	// Timeout bounds each exchange; defaults to 10s.
	Timeout time.Duration
}

func (ac *AppCredentials) config() *clientcredentials.Config {
	tokenURL := ac.TokenURL
	if tokenURL == "" {
		tokenURL = twitch.Endpoint.TokenURL
	}
	return &clientcredentials.Config{
		ClientID:     ac.ClientID,
		ClientSecret: ac.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// Refresh fetches a new app access token. Every failure mode (missing
// credentials, transport error, timeout, non-2xx, malformed body) is returned
// as an error wrapping ErrCredentialUnavailable.
func (ac *AppCredentials) Refresh(ctx context.Context) (string, error) {
	if ac.ClientID == "" || ac.ClientSecret == "" {
		return "", fmt.Errorf("%w: missing client id/secret", ErrCredentialUnavailable)
	}
	timeout := ac.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if ac.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ac.HTTPClient)
	}
	tok, err := ac.config().Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token in twitch response", ErrCredentialUnavailable)
	}
	return tok.AccessToken, nil
}
