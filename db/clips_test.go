package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"
)

func setupClips(t *testing.T) (*sql.DB, context.Context, func(string) string) {
	t.Helper()
	dbx := openTestDB(t)
	ctx, uniq := setupUsers(t)
	if err := Migrate(ctx, dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, _ = dbx.ExecContext(ctx, `DELETE FROM clips WHERE broadcaster_id = $1`, uniq("b"))
	_, _ = dbx.ExecContext(ctx, `DELETE FROM users WHERE twitch_id LIKE $1`, t.Name()+"-%")
	return dbx, ctx, uniq
}

func clipRecords(uniq func(string) string, ids ...string) []ClipRecord {
	recs := make([]ClipRecord, 0, len(ids))
	for i, id := range ids {
		recs = append(recs, ClipRecord{
			ClipID:          uniq(id),
			CreatorTwitchID: uniq("creator"),
			CreatorName:     "Clipper",
			GameID:          "509658",
			Title:           "clip " + id,
			ViewCount:       10 + i,
			CreatedAt:       time.Date(2026, 10, 1+i, 18, 0, 0, 0, time.UTC),
			ThumbnailURL:    "https://clips-media/" + id + ".jpg",
		})
	}
	return recs
}

func findClip(clips []Clip, clipID string) *Clip {
	for i := range clips {
		if clips[i].ClipID == clipID {
			return &clips[i]
		}
	}
	return nil
}

func TestSyncClips(t *testing.T) {
	dbx, ctx, uniq := setupClips(t)

	res, err := SyncClips(ctx, dbx, uniq("b"), clipRecords(uniq, "a", "b", "c"))
	if err != nil {
		t.Fatalf("SyncClips: %v", err)
	}
	if res != (SyncResult{Inserted: 3}) {
		t.Errorf("first sync = %+v", res)
	}

	// "c" disappeared upstream and "a" gained views.
	recs := clipRecords(uniq, "a", "b")
	recs[0].ViewCount = 99
	res, err = SyncClips(ctx, dbx, uniq("b"), recs)
	if err != nil {
		t.Fatalf("second SyncClips: %v", err)
	}
	if res != (SyncResult{Updated: 2, Removed: 1}) {
		t.Errorf("second sync = %+v", res)
	}

	clips, err := ListClips(ctx, dbx, true)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	a := findClip(clips, uniq("a"))
	if a == nil || a.ViewCount != 99 || a.CreatorName != "Clipper" || a.ThumbnailURL == nil {
		t.Errorf("clip a not updated: %+v", a)
	}
	if findClip(clips, uniq("c")) != nil {
		t.Error("removed clip still listed")
	}

	// One creator row serves all clips.
	var creators int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE twitch_id = $1`, uniq("creator")).Scan(&creators); err != nil {
		t.Fatalf("count creators: %v", err)
	}
	if creators != 1 {
		t.Errorf("creators = %d, want 1", creators)
	}

	if _, err := SyncClips(ctx, dbx, "", nil); err == nil {
		t.Error("expected error for empty broadcaster")
	}
}

func TestLikeClip(t *testing.T) {
	dbx, ctx, uniq := setupClips(t)
	if _, err := SyncClips(ctx, dbx, uniq("b"), clipRecords(uniq, "a")); err != nil {
		t.Fatalf("SyncClips: %v", err)
	}
	fan, err := UpsertUser(ctx, dbx, uniq("fan"), "", "Fan")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	other, err := UpsertUser(ctx, dbx, uniq("other"), "", "Other")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	var creatorID int64
	if err := dbx.QueryRowContext(ctx, `SELECT id FROM users WHERE twitch_id = $1`, uniq("creator")).Scan(&creatorID); err != nil {
		t.Fatalf("creator: %v", err)
	}

	likes, err := LikeClip(ctx, dbx, fan.ID, uniq("a"), "10.0.0.1")
	if err != nil || likes != 1 {
		t.Fatalf("LikeClip = %d, %v", likes, err)
	}

	tests := []struct {
		name   string
		userID int64
		clipID string
		ip     string
		want   error
	}{
		{"unknown clip", fan.ID, uniq("missing"), "10.0.0.9", ErrClipNotFound},
		{"own clip", creatorID, uniq("a"), "10.0.0.2", ErrOwnClip},
		{"same user other ip", fan.ID, uniq("a"), "10.0.0.3", ErrAlreadyLiked},
		{"other user same ip", other.ID, uniq("a"), "10.0.0.1", ErrIPAlreadyLiked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LikeClip(ctx, dbx, tt.userID, tt.clipID, tt.ip); !errors.Is(err, tt.want) {
				t.Errorf("LikeClip error = %v, want %v", err, tt.want)
			}
		})
	}

	likes, err = LikeClip(ctx, dbx, other.ID, uniq("a"), "10.0.0.4")
	if err != nil || likes != 2 {
		t.Fatalf("second like = %d, %v", likes, err)
	}

	liked, err := ListLikedClips(ctx, dbx, fan.ID)
	if err != nil {
		t.Fatalf("ListLikedClips: %v", err)
	}
	if len(liked) != 1 || liked[0].ClipID != uniq("a") || liked[0].Likes != 2 {
		t.Errorf("liked clips = %+v", liked)
	}
}

func TestSetClipBlocked(t *testing.T) {
	dbx, ctx, uniq := setupClips(t)
	if _, err := SyncClips(ctx, dbx, uniq("b"), clipRecords(uniq, "a", "b")); err != nil {
		t.Fatalf("SyncClips: %v", err)
	}
	editor, err := UpsertUser(ctx, dbx, uniq("editor"), "", "Editor")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	if err := SetClipBlocked(ctx, dbx, uniq("a"), true, editor.ID); err != nil {
		t.Fatalf("block: %v", err)
	}
	visible, err := ListClips(ctx, dbx, false)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	if findClip(visible, uniq("a")) != nil || findClip(visible, uniq("b")) == nil {
		t.Error("blocked clip should be hidden and the other visible")
	}
	all, err := ListClips(ctx, dbx, true)
	if err != nil {
		t.Fatalf("ListClips(true): %v", err)
	}
	if c := findClip(all, uniq("a")); c == nil || !c.Blocked {
		t.Errorf("blocked clip missing or unflagged: %+v", c)
	}

	// Unblocking updates the same entry.
	if err := SetClipBlocked(ctx, dbx, uniq("a"), false, editor.ID); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	visible, err = ListClips(ctx, dbx, false)
	if err != nil {
		t.Fatalf("ListClips: %v", err)
	}
	if findClip(visible, uniq("a")) == nil {
		t.Error("unblocked clip still hidden")
	}

	if err := SetClipBlocked(ctx, dbx, uniq("missing"), true, editor.ID); !errors.Is(err, ErrClipNotFound) {
		t.Errorf("block missing error = %v, want ErrClipNotFound", err)
	}
}
