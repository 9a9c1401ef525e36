package db

import (
	"context"
	"errors"
	"testing"
)

func sampleChallenge(title string) Challenge {
	return Challenge{
		Header: ChallengeHeader{Title: title, Description: "Elden Ring", CreatedAt: "01-10-2026", End: "2026-10-31"},
		Sections: []Section{
			{Title: "Bosses", Items: []Item{
				{Text: "Margit", SubChallenges: []SubChallenge{{Text: "no summons"}, {Text: "level 1", Completed: true}}},
				{Text: "Godrick"},
			}},
			{Title: "Extras", Items: []Item{}},
		},
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2026-10-01", "2026-10-01", false},
		{"01-10-2026", "2026-10-01", false},
		{" 31-12-2026 ", "2026-12-31", false},
		{"2026/10/01", "", true},
		{"32-01-2026", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeDate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeDate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChallengeValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Challenge)
		ok     bool
	}{
		{"valid", func(*Challenge) {}, true},
		{"same day", func(c *Challenge) { c.Header.End = "2026-10-01" }, true},
		{"empty title", func(c *Challenge) { c.Header.Title = " " }, false},
		{"end before start", func(c *Challenge) { c.Header.End = "30-09-2026" }, false},
		{"bad date", func(c *Challenge) { c.Header.CreatedAt = "tomorrow" }, false},
		{"no sections", func(c *Challenge) { c.Sections = nil }, false},
		{"empty section title", func(c *Challenge) { c.Sections[1].Title = "" }, false},
		{"empty item", func(c *Challenge) { c.Sections[0].Items[1].Text = "" }, false},
		{"empty subchallenge", func(c *Challenge) { c.Sections[0].Items[0].SubChallenges[0].Text = "" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleChallenge("Run")
			tt.mutate(&c)
			err := c.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidChallenge) {
				t.Fatalf("Validate error = %v, want ErrInvalidChallenge", err)
			}
			if tt.ok && c.Header.CreatedAt != "2026-10-01" {
				t.Errorf("start not normalized: %q", c.Header.CreatedAt)
			}
		})
	}
}

func TestChallengeLifecycle(t *testing.T) {
	dbx := openTestDB(t)
	ctx := context.Background()
	if err := Migrate(ctx, dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id, err := CreateChallenge(ctx, dbx, sampleChallenge(t.Name()))
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	got, err := GetChallenge(ctx, dbx, id)
	if err != nil {
		t.Fatalf("GetChallenge: %v", err)
	}
	if got.Header.CreatedAt != "2026-10-01" || got.Header.End != "2026-10-31" {
		t.Errorf("dates = %+v", got.Header)
	}
	if len(got.Sections) != 2 || got.Sections[0].Title != "Bosses" || got.Sections[1].Title != "Extras" {
		t.Fatalf("sections = %+v", got.Sections)
	}
	margit := got.Sections[0].Items[0]
	if margit.Text != "Margit" || len(margit.SubChallenges) != 2 || !margit.SubChallenges[1].Completed {
		t.Fatalf("item tree = %+v", margit)
	}

	all, err := ListChallenges(ctx, dbx)
	if err != nil {
		t.Fatalf("ListChallenges: %v", err)
	}
	var listed bool
	for _, c := range all {
		if c.ID == id {
			listed = len(c.Sections) == 2
		}
	}
	if !listed {
		t.Error("created challenge missing from list")
	}

	if err := SetItemCompleted(ctx, dbx, margit.ID, true); err != nil {
		t.Fatalf("SetItemCompleted: %v", err)
	}
	if err := SetSubChallengeCompleted(ctx, dbx, margit.SubChallenges[0].ID, true); err != nil {
		t.Fatalf("SetSubChallengeCompleted: %v", err)
	}
	if err := SetItemCompleted(ctx, dbx, -1, true); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("SetItemCompleted(-1) = %v, want ErrItemNotFound", err)
	}
	got, _ = GetChallenge(ctx, dbx, id)
	if !got.Sections[0].Items[0].Completed || !got.Sections[0].Items[0].SubChallenges[0].Completed {
		t.Errorf("completion not stored: %+v", got.Sections[0].Items[0])
	}

	// Replace drops the old tree.
	repl := sampleChallenge(t.Name() + " v2")
	repl.Sections = repl.Sections[:1]
	repl.Sections[0].Items = repl.Sections[0].Items[1:]
	if err := ReplaceChallenge(ctx, dbx, id, repl); err != nil {
		t.Fatalf("ReplaceChallenge: %v", err)
	}
	got, _ = GetChallenge(ctx, dbx, id)
	if got.Header.Title != t.Name()+" v2" || len(got.Sections) != 1 || len(got.Sections[0].Items) != 1 {
		t.Errorf("replace result = %+v", got)
	}
	var orphans int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM subchallenges WHERE id = ANY($1)`,
		[]int64{margit.SubChallenges[0].ID, margit.SubChallenges[1].ID}).Scan(&orphans); err != nil {
		t.Fatalf("count subchallenges: %v", err)
	}
	if orphans != 0 {
		t.Errorf("%d subchallenges survived replace", orphans)
	}
	if err := ReplaceChallenge(ctx, dbx, -1, sampleChallenge("x")); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("ReplaceChallenge(-1) = %v, want ErrChallengeNotFound", err)
	}

	// Delete cascades through sections and items.
	itemID := got.Sections[0].Items[0].ID
	if err := DeleteChallenge(ctx, dbx, id); err != nil {
		t.Fatalf("DeleteChallenge: %v", err)
	}
	var items int
	if err := dbx.QueryRowContext(ctx, `SELECT COUNT(*) FROM challenge_items WHERE id = $1`, itemID).Scan(&items); err != nil {
		t.Fatalf("count items: %v", err)
	}
	if items != 0 {
		t.Error("items survived challenge delete")
	}
	if _, err := GetChallenge(ctx, dbx, id); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("GetChallenge after delete = %v", err)
	}
	if err := DeleteChallenge(ctx, dbx, id); !errors.Is(err, ErrChallengeNotFound) {
		t.Errorf("second delete = %v, want ErrChallengeNotFound", err)
	}
}
