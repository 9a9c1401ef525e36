package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/miwitv/backend/telemetry"
)

const (
	clipPageSize = 100
	// Upper bound on pages followed in one GetClips call.
	defaultMaxClipPages = 50
)

// ErrUserNotFound is returned when a login does not resolve to a Twitch user.
var ErrUserNotFound = errors.New("twitch user not found")

// Clip is a record of /helix/clips.
type Clip struct {
	ID              string    `json:"id"`
	URL             string    `json:"url"`
	EmbedURL        string    `json:"embed_url"`
	BroadcasterID   string    `json:"broadcaster_id"`
	BroadcasterName string    `json:"broadcaster_name"`
	CreatorID       string    `json:"creator_id"`
	CreatorName     string    `json:"creator_name"`
	GameID          string    `json:"game_id"`
	Title           string    `json:"title"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
	ThumbnailURL    string    `json:"thumbnail_url"`
}

// get performs an authenticated Helix GET and decodes the JSON body into out.
func (hc *HelixClient) get(ctx context.Context, spanName, path string, query url.Values, token string, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", spanName)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hc.timeout())
	defer cancel()

	u := hc.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := hc.http().Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	telemetry.SetSpanHTTPStatus(span, resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("helix %s: %s", path, resp.Status)
		telemetry.RecordError(span, err)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("helix %s: decode: %w", path, err)
	}
	return nil
}

// GetUserID resolves a login name to its user ID using an app token.
func (hc *HelixClient) GetUserID(ctx context.Context, login, token string) (string, error) {
	if login == "" {
		return "", errors.New("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "helix.users.lookup", "/users", url.Values{"login": {login}}, token, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	return body.Data[0].ID, nil
}

// ListClips returns one page of clips for a broadcaster and the cursor for
// the next page ("" when there is none).
func (hc *HelixClient) ListClips(ctx context.Context, broadcasterID, after string, first int, token string) ([]Clip, string, error) {
	if broadcasterID == "" {
		return nil, "", errors.New("broadcasterID empty")
	}
	if first <= 0 || first > clipPageSize {
		first = 20
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("first", strconv.Itoa(first))
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data       []Clip `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, "helix.clips", "/clips", q, token, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// GetClips follows the pagination cursor and returns every clip of the
// broadcaster. maxPages <= 0 uses the default bound; an error on any page
// aborts the whole listing.
func (hc *HelixClient) GetClips(ctx context.Context, broadcasterID, token string, maxPages int) ([]Clip, error) {
	if maxPages <= 0 {
		maxPages = defaultMaxClipPages
	}
	collected := []Clip{}
	after := ""
	for page := 0; page < maxPages; page++ {
		clips, cursor, err := hc.ListClips(ctx, broadcasterID, after, clipPageSize, token)
		if err != nil {
			return nil, err
		}
		collected = append(collected, clips...)
		if cursor == "" || len(clips) == 0 {
			return collected, nil
		}
		after = cursor
	}
	slog.Warn("clip listing truncated", slog.String("broadcaster_id", broadcasterID), slog.Int("pages", maxPages), slog.Int("clips", len(collected)))
	return collected, nil
}
