// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs:
// live stream status for the relay, the authenticated user lookup for login,
// and the OAuth exchanges behind both.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/miwitv/backend/telemetry"
)

const defaultHelixBaseURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls used by the relay and the login flow.
type HelixClient struct {
	ClientID   string
	HTTPClient *http.Client
	// BaseURL overrides the Helix root (tests).
	BaseURL string
	// Timeout bounds each call; defaults to 10s.
	Timeout time.Duration
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return defaultHelixBaseURL
}

func (hc *HelixClient) timeout() time.Duration {
	if hc.Timeout > 0 {
		return hc.Timeout
	}
	return 10 * time.Second
}

// StreamKind classifies a stream status lookup.
type StreamKind int

const (
	// StreamUnknown means the lookup failed; the channel state is not known.
	StreamUnknown StreamKind = iota
	// StreamOffline means Helix answered and returned no live stream.
	StreamOffline
	// StreamLive means Helix returned a live stream record.
	StreamLive
)

func (k StreamKind) String() string {
	switch k {
	case StreamLive:
		return "live"
	case StreamOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Failure reasons reported with StreamUnknown.
const (
	ReasonTimeout   = "timeout"
	ReasonCanceled  = "canceled"
	ReasonTransport = "transport"
	ReasonStatus    = "status"
	ReasonDecode    = "decode"
	ReasonRequest   = "request"
)

// Stream is the subset of a Helix stream record the service reads.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	UserName    string    `json:"user_name"`
	GameName    string    `json:"game_name"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// StreamStatus is the outcome of GetStream. Raw holds the upstream record
// verbatim so it can be forwarded to clients without losing fields.
type StreamStatus struct {
	Kind   StreamKind
	Stream *Stream
	Raw    json.RawMessage
	Reason string
	Err    error
}

// OK reports whether Helix gave a definite answer (live or offline).
func (s StreamStatus) OK() bool { return s.Kind != StreamUnknown }

func unknown(reason string, err error) StreamStatus {
	return StreamStatus{Kind: StreamUnknown, Reason: reason, Err: err}
}

// GetStream looks up the live stream for login using the given app token.
// It never returns an error: failures are reported as StreamUnknown with a reason.
func (hc *HelixClient) GetStream(ctx context.Context, login, token string) StreamStatus {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.streams", attribute.String("twitch.login", login))
	defer span.End()

	if login == "" {
		return unknown(ReasonRequest, errors.New("login empty"))
	}
	ctx, cancel := context.WithTimeout(ctx, hc.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/streams", nil)
	if err != nil {
		return unknown(ReasonRequest, err)
	}
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return unknown(classify(ctx, err), err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return unknown(ReasonStatus, fmt.Errorf("helix streams: %s", resp.Status))
	}
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctx.Err() != nil {
			return unknown(classify(ctx, err), err)
		}
		return unknown(ReasonDecode, err)
	}
	if len(body.Data) == 0 {
		return StreamStatus{Kind: StreamOffline}
	}
	var st Stream
	if err := json.Unmarshal(body.Data[0], &st); err != nil {
		return unknown(ReasonDecode, err)
	}
	return StreamStatus{Kind: StreamLive, Stream: &st, Raw: body.Data[0]}
}

func classify(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	return ReasonTransport
}

// User is the authenticated Twitch user returned by /helix/users.
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	ProfileImageURL string    `json:"profile_image_url"`
	Description     string    `json:"description"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
}

// GetUser returns the user owning the given user access token.
func (hc *HelixClient) GetUser(ctx context.Context, userToken string) (*User, error) {
	if userToken == "" {
		return nil, errors.New("user token empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix.users")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hc.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+"/users", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix users: %s", resp.Status)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &body.Data[0], nil
}
