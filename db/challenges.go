package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrItemNotFound      = errors.New("challenge item not found")
	ErrInvalidChallenge  = errors.New("invalid challenge")
)

const dateLayout = "2006-01-02"

// Accepted input layouts for challenge dates.
var dateInputLayouts = []string{"02-01-2006", dateLayout}

// ChallengeHeader carries the challenge title and its date range. Dates are
// YYYY-MM-DD strings once normalized.
type ChallengeHeader struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
	End         string `json:"challange_end"`
}

type SubChallenge struct {
	ID        int64  `json:"id,string,omitempty"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type Item struct {
	ID            int64          `json:"id,string,omitempty"`
	Text          string         `json:"text"`
	Completed     bool           `json:"completed"`
	SubChallenges []SubChallenge `json:"subchallenges"`
}

type Section struct {
	ID    int64  `json:"id,string,omitempty"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Challenge is a challenge with its ordered section tree.
type Challenge struct {
	ID       int64           `json:"id,string"`
	Header   ChallengeHeader `json:"header"`
	Sections []Section       `json:"sections"`
}

// NormalizeDate parses DD-MM-YYYY or YYYY-MM-DD and returns YYYY-MM-DD.
func NormalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateInputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: date %q is neither DD-MM-YYYY nor YYYY-MM-DD", ErrInvalidChallenge, s)
}

// Validate checks c and normalizes its dates in place.
func (c *Challenge) Validate() error {
	if strings.TrimSpace(c.Header.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidChallenge)
	}
	start, err := NormalizeDate(c.Header.CreatedAt)
	if err != nil {
		return err
	}
	end, err := NormalizeDate(c.Header.End)
	if err != nil {
		return err
	}
	// YYYY-MM-DD compares in date order.
	if end < start {
		return fmt.Errorf("%w: end date before start date", ErrInvalidChallenge)
	}
	c.Header.CreatedAt, c.Header.End = start, end
	if len(c.Sections) == 0 {
		return fmt.Errorf("%w: at least one section required", ErrInvalidChallenge)
	}
	for _, s := range c.Sections {
		if strings.TrimSpace(s.Title) == "" {
			return fmt.Errorf("%w: section title required", ErrInvalidChallenge)
		}
		for _, it := range s.Items {
			if strings.TrimSpace(it.Text) == "" {
				return fmt.Errorf("%w: item text required", ErrInvalidChallenge)
			}
			for _, sub := range it.SubChallenges {
				if strings.TrimSpace(sub.Text) == "" {
					return fmt.Errorf("%w: subchallenge text required", ErrInvalidChallenge)
				}
			}
		}
	}
	return nil
}

// insertSections writes the section tree of challengeID. Positions keep the
// request order.
func insertSections(ctx context.Context, tx *sql.Tx, challengeID int64, sections []Section) error {
	for si, s := range sections {
		var sectionID int64
		if err := tx.QueryRowContext(ctx, `INSERT INTO challenge_sections (challenge_id, position, title) VALUES ($1, $2, $3) RETURNING id`,
			challengeID, si, s.Title).Scan(&sectionID); err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
		for ii, it := range s.Items {
			var itemID int64
			if err := tx.QueryRowContext(ctx, `INSERT INTO challenge_items (section_id, position, text, completed) VALUES ($1, $2, $3, $4) RETURNING id`,
				sectionID, ii, it.Text, it.Completed).Scan(&itemID); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
			for ui, sub := range it.SubChallenges {
				if _, err := tx.ExecContext(ctx, `INSERT INTO subchallenges (item_id, position, text, completed) VALUES ($1, $2, $3, $4)`,
					itemID, ui, sub.Text, sub.Completed); err != nil {
					return fmt.Errorf("insert subchallenge: %w", err)
				}
			}
		}
	}
	return nil
}

// CreateChallenge validates c and stores it with its whole tree.
func CreateChallenge(ctx context.Context, dbx *sql.DB, c Challenge) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create challenge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx, `INSERT INTO challenges (title, description, created_at, challenge_end) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Header.Title, c.Header.Description, c.Header.CreatedAt, c.Header.End).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert challenge: %w", err)
	}
	if err := insertSections(ctx, tx, id, c.Sections); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create challenge: %w", err)
	}
	return id, nil
}

// ReplaceChallenge overwrites the header of id and replaces its sections.
// Completion flags come from c, so callers resend the whole tree.
func ReplaceChallenge(ctx context.Context, dbx *sql.DB, id int64, c Challenge) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tx, err := dbx.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace challenge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := tx.ExecContext(ctx, `UPDATE challenges SET title=$2, description=$3, created_at=$4, challenge_end=$5 WHERE id=$1`,
		id, c.Header.Title, c.Header.Description, c.Header.CreatedAt, c.Header.End)
	if err != nil {
		return fmt.Errorf("update challenge: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrChallengeNotFound
	}
	// Items and subchallenges go with their sections.
	if _, err := tx.ExecContext(ctx, `DELETE FROM challenge_sections WHERE challenge_id=$1`, id); err != nil {
		return fmt.Errorf("clear sections: %w", err)
	}
	if err := insertSections(ctx, tx, id, c.Sections); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace challenge: %w", err)
	}
	return nil
}

// DeleteChallenge removes id and, by cascade, its whole tree.
func DeleteChallenge(ctx context.Context, dbx *sql.DB, id int64) error {
	r, err := dbx.ExecContext(ctx, `DELETE FROM challenges WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete challenge: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// SetItemCompleted sets the completed flag of a challenge item.
func SetItemCompleted(ctx context.Context, dbx *sql.DB, itemID int64, completed bool) error {
	return setCompleted(ctx, dbx, `UPDATE challenge_items SET completed=$2 WHERE id=$1`, itemID, completed)
}

// SetSubChallengeCompleted sets the completed flag of a subchallenge.
func SetSubChallengeCompleted(ctx context.Context, dbx *sql.DB, subID int64, completed bool) error {
	return setCompleted(ctx, dbx, `UPDATE subchallenges SET completed=$2 WHERE id=$1`, subID, completed)
}

func setCompleted(ctx context.Context, dbx *sql.DB, stmt string, id int64, completed bool) error {
	r, err := dbx.ExecContext(ctx, stmt, id, completed)
	if err != nil {
		return fmt.Errorf("set completed: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ListChallenges returns every challenge with its tree, newest first.
func ListChallenges(ctx context.Context, dbx *sql.DB) ([]Challenge, error) {
	return loadChallenges(ctx, dbx, 0)
}

// GetChallenge loads one challenge with its tree.
func GetChallenge(ctx context.Context, dbx *sql.DB, id int64) (*Challenge, error) {
	if id <= 0 {
		return nil, ErrChallengeNotFound
	}
	cs, err := loadChallenges(ctx, dbx, id)
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, ErrChallengeNotFound
	}
	return &cs[0], nil
}

// loadChallenges reads challenges (all when only is 0) and assembles their
// trees from one query per level.
func loadChallenges(ctx context.Context, dbx *sql.DB, only int64) ([]Challenge, error) {
	filter := func(col string) string {
		if only == 0 {
			return ` WHERE $1 = 0`
		}
		return ` WHERE ` + col + ` = $1`
	}

	rows, err := dbx.QueryContext(ctx, `SELECT id, title, description, created_at, challenge_end FROM challenges`+filter("id")+` ORDER BY created_at DESC, id DESC`, only)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	challenges := []Challenge{}
	index := map[int64]int{}
	for rows.Next() {
		var c Challenge
		var start, end time.Time
		if err := rows.Scan(&c.ID, &c.Header.Title, &c.Header.Description, &start, &end); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		c.Header.CreatedAt, c.Header.End = start.Format(dateLayout), end.Format(dateLayout)
		c.Sections = []Section{}
		index[c.ID] = len(challenges)
		challenges = append(challenges, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(challenges) == 0 {
		return challenges, nil
	}

	type ref struct{ c, s, i int }
	sections := map[int64]ref{}
	rows, err = dbx.QueryContext(ctx, `SELECT id, challenge_id, title FROM challenge_sections`+filter("challenge_id")+` ORDER BY challenge_id, position, id`, only)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	for rows.Next() {
		var s Section
		var challengeID int64
		if err := rows.Scan(&s.ID, &challengeID, &s.Title); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan section: %w", err)
		}
		ci, ok := index[challengeID]
		if !ok {
			continue
		}
		s.Items = []Item{}
		sections[s.ID] = ref{c: ci, s: len(challenges[ci].Sections)}
		challenges[ci].Sections = append(challenges[ci].Sections, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := map[int64]ref{}
	rows, err = dbx.QueryContext(ctx, `SELECT i.id, i.section_id, i.text, i.completed
		FROM challenge_items i JOIN challenge_sections s ON s.id = i.section_id`+filter("s.challenge_id")+`
		ORDER BY i.section_id, i.position, i.id`, only)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	for rows.Next() {
		var it Item
		var sectionID int64
		if err := rows.Scan(&it.ID, &sectionID, &it.Text, &it.Completed); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item: %w", err)
		}
		r, ok := sections[sectionID]
		if !ok {
			continue
		}
		it.SubChallenges = []SubChallenge{}
		sec := &challenges[r.c].Sections[r.s]
		items[it.ID] = ref{c: r.c, s: r.s, i: len(sec.Items)}
		sec.Items = append(sec.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = dbx.QueryContext(ctx, `SELECT u.id, u.item_id, u.text, u.completed
		FROM subchallenges u
		JOIN challenge_items i ON i.id = u.item_id
		JOIN challenge_sections s ON s.id = i.section_id`+filter("s.challenge_id")+`
		ORDER BY u.item_id, u.position, u.id`, only)
	if err != nil {
		return nil, fmt.Errorf("list subchallenges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub SubChallenge
		var itemID int64
		if err := rows.Scan(&sub.ID, &itemID, &sub.Text, &sub.Completed); err != nil {
			return nil, fmt.Errorf("scan subchallenge: %w", err)
		}
		r, ok := items[itemID]
		if !ok {
			continue
		}
		it := &challenges[r.c].Sections[r.s].Items[r.i]
		it.SubChallenges = append(it.SubChallenges, sub)
	}
	return challenges, rows.Err()
}
