package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrClipNotFound   = errors.New("clip not found")
	ErrOwnClip        = errors.New("cannot like own clip")
	ErrAlreadyLiked   = errors.New("clip already liked by user")
	ErrIPAlreadyLiked = errors.New("clip already liked from this ip")
)

const pgUniqueViolation = "23505"

// Clip is a stored clip joined with its creator, like count and block flag.
type Clip struct {
	ID            int64     `json:"-"`
	ClipID        string    `json:"id"`
	BroadcasterID string    `json:"-"`
	CreatorID     int64     `json:"-"`
	CreatorName   string    `json:"creator_name"`
	GameID        string    `json:"game_id"`
	Title         string    `json:"title"`
	ViewCount     int       `json:"view_count"`
	CreatedAt     time.Time `json:"created_at"`
	ThumbnailURL  *string   `json:"thumbnail_url"`
	Likes         int       `json:"likes"`
	Blocked       bool      `json:"blocked"`
}

// ClipRecord is the data a sync writes for one Twitch clip.
type ClipRecord struct {
	ClipID          string
	CreatorTwitchID string
	CreatorName     string
	GameID          string
	Title           string
	ViewCount       int
	CreatedAt       time.Time
	ThumbnailURL    string
}

// SyncResult counts what SyncClips changed.
type SyncResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Removed  int `json:"removed"`
}

// SyncClips makes the stored clips of broadcasterID match records in one
// transaction. Unknown creators get a minimal users row. Stored clips missing
// from records are deleted together with their likes and block entries.
func SyncClips(ctx context.Context, dbx *sql.DB, broadcasterID string, records []ClipRecord) (SyncResult, error) {
	var res SyncResult
	if broadcasterID == "" {
		return res, errors.New("broadcaster id empty")
	}
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	creators := map[string]int64{}
	keep := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ClipID == "" || rec.CreatorTwitchID == "" {
			continue
		}
		creatorID, ok := creators[rec.CreatorTwitchID]
		if !ok {
			err := tx.QueryRowContext(ctx, `INSERT INTO users (twitch_id, display_name)
				VALUES ($1, $2)
				ON CONFLICT (twitch_id) DO UPDATE SET display_name = users.display_name
				RETURNING id`, rec.CreatorTwitchID, rec.CreatorName).Scan(&creatorID)
			if err != nil {
				return res, fmt.Errorf("upsert creator %s: %w", rec.CreatorTwitchID, err)
			}
			creators[rec.CreatorTwitchID] = creatorID
		}
		var thumb any
		if rec.ThumbnailURL != "" {
			thumb = rec.ThumbnailURL
		}
		var inserted bool
		err := tx.QueryRowContext(ctx, `INSERT INTO clips (clip_id, broadcaster_id, creator_id, game_id, title, view_count, created_at, thumbnail_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (clip_id) DO UPDATE SET
				view_count = EXCLUDED.view_count,
				title = EXCLUDED.title,
				thumbnail_url = COALESCE(EXCLUDED.thumbnail_url, clips.thumbnail_url)
			RETURNING (xmax = 0)`,
			rec.ClipID, broadcasterID, creatorID, rec.GameID, rec.Title, rec.ViewCount, rec.CreatedAt, thumb).Scan(&inserted)
		if err != nil {
			return res, fmt.Errorf("upsert clip %s: %w", rec.ClipID, err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
		keep = append(keep, rec.ClipID)
	}

	r, err := tx.ExecContext(ctx, `DELETE FROM clips WHERE broadcaster_id = $1 AND NOT (clip_id = ANY($2))`, broadcasterID, keep)
	if err != nil {
		return res, fmt.Errorf("prune clips: %w", err)
	}
	if n, err := r.RowsAffected(); err == nil {
		res.Removed = int(n)
	}
	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit sync: %w", err)
	}
	return res, nil
}

const clipSelect = `SELECT c.id, c.clip_id, c.broadcaster_id, c.creator_id, u.display_name, c.game_id, c.title,
		c.view_count, c.created_at, c.thumbnail_url,
		(SELECT COUNT(*) FROM user_clip_likes l WHERE l.clip_id = c.id),
		COALESCE(b.status, FALSE)
	FROM clips c
	JOIN users u ON u.id = c.creator_id
	LEFT JOIN blocked_clips b ON b.clip_id = c.id`

func scanClips(rows *sql.Rows) ([]Clip, error) {
	defer rows.Close()
	clips := []Clip{}
	for rows.Next() {
		var c Clip
		var thumb sql.NullString
		if err := rows.Scan(&c.ID, &c.ClipID, &c.BroadcasterID, &c.CreatorID, &c.CreatorName, &c.GameID, &c.Title,
			&c.ViewCount, &c.CreatedAt, &thumb, &c.Likes, &c.Blocked); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		if thumb.Valid {
			c.ThumbnailURL = &thumb.String
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

// ListClips returns clips newest first. Blocked clips are omitted unless
// includeBlocked is set.
func ListClips(ctx context.Context, dbx *sql.DB, includeBlocked bool) ([]Clip, error) {
	q := clipSelect
	if !includeBlocked {
		q += ` WHERE COALESCE(b.status, FALSE) = FALSE`
	}
	rows, err := dbx.QueryContext(ctx, q+` ORDER BY c.created_at DESC, c.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	return scanClips(rows)
}

// ListLikedClips returns the clips userID liked, most recent like first.
func ListLikedClips(ctx context.Context, dbx *sql.DB, userID int64) ([]Clip, error) {
	rows, err := dbx.QueryContext(ctx, clipSelect+`
		JOIN user_clip_likes mine ON mine.clip_id = c.id AND mine.user_id = $1
		ORDER BY mine.liked_at DESC, mine.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list liked clips: %w", err)
	}
	return scanClips(rows)
}

func clipKey(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, clipID string) (id, creatorID int64, err error) {
	err = q.QueryRowContext(ctx, `SELECT id, creator_id FROM clips WHERE clip_id = $1`, clipID).Scan(&id, &creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrClipNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("load clip: %w", err)
	}
	return id, creatorID, nil
}

// LikeClip records a like of clipID by userID from ip and returns the new
// like count. A user likes a clip at most once, and so does an IP address.
func LikeClip(ctx context.Context, dbx *sql.DB, userID int64, clipID, ip string) (int, error) {
	id, creatorID, err := clipKey(ctx, dbx, clipID)
	if err != nil {
		return 0, err
	}
	if creatorID == userID {
		return 0, ErrOwnClip
	}
	var byUser, byIP bool
	err = dbx.QueryRowContext(ctx, `SELECT
			EXISTS (SELECT 1 FROM user_clip_likes WHERE clip_id = $1 AND user_id = $2),
			EXISTS (SELECT 1 FROM user_clip_likes WHERE clip_id = $1 AND ip_address = $3)`,
		id, userID, ip).Scan(&byUser, &byIP)
	if err != nil {
		return 0, fmt.Errorf("check likes: %w", err)
	}
	switch {
	case byUser:
		return 0, ErrAlreadyLiked
	case byIP:
		return 0, ErrIPAlreadyLiked
	}
	if _, err := dbx.ExecContext(ctx, `INSERT INTO user_clip_likes (user_id, clip_id, ip_address) VALUES ($1, $2, $3)`, userID, id, ip); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost a race with a concurrent like.
			return 0, ErrAlreadyLiked
		}
		return 0, fmt.Errorf("insert like: %w", err)
	}
	var likes int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_clip_likes WHERE clip_id = $1`, id).Scan(&likes); err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return likes, nil
}

// SetClipBlocked blocks or unblocks clipID on behalf of editorID.
func SetClipBlocked(ctx context.Context, dbx *sql.DB, clipID string, blocked bool, editorID int64) error {
	id, _, err := clipKey(ctx, dbx, clipID)
	if err != nil {
		return err
	}
	_, err = dbx.ExecContext(ctx, `INSERT INTO blocked_clips (clip_id, status, edited_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (clip_id) DO UPDATE SET
			status = EXCLUDED.status,
			edited_user_id = EXCLUDED.edited_user_id,
			updated_at = NOW()`, id, blocked, editorID)
	if err != nil {
		return fmt.Errorf("set clip blocked: %w", err)
	}
	return nil
}
