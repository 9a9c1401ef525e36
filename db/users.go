package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrUserNotFound is returned when no users row matches.
var ErrUserNotFound = errors.New("user not found")

// User is a row of the users table.
type User struct {
	ID          int64     `json:"id"`
	TwitchID    string    `json:"twitch_id"`
	Email       *string   `json:"email"`
	DisplayName string    `json:"display_name"`
	Role        int       `json:"role"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

const userColumns = `id, twitch_id, email, display_name, role, is_active, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var email sql.NullString
	if err := row.Scan(&u.ID, &u.TwitchID, &email, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	return &u, nil
}

// UpsertUser inserts a user by twitch_id or refreshes its email and display
// name. An empty email keeps the stored one.
func UpsertUser(ctx context.Context, dbx *sql.DB, twitchID, email, displayName string) (*User, error) {
	if twitchID == "" {
		return nil, errors.New("twitch id empty")
	}
	var emailArg any
	if email != "" {
		emailArg = email
	}
	row := dbx.QueryRowContext(ctx, `INSERT INTO users (twitch_id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (twitch_id) DO UPDATE SET
			email = COALESCE(EXCLUDED.email, users.email),
			display_name = EXCLUDED.display_name
		RETURNING `+userColumns, twitchID, emailArg, displayName)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by id.
func GetUser(ctx context.Context, dbx *sql.DB, id int64) (*User, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListUsersWithEmail returns every user that has an email, ordered by id.
func ListUsersWithEmail(ctx context.Context, dbx *sql.DB) ([]User, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE email IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUserRole sets role and is_active for id and returns the updated row.
func UpdateUserRole(ctx context.Context, dbx *sql.DB, id int64, role int, active bool) (*User, error) {
	row := dbx.QueryRowContext(ctx, `UPDATE users SET role=$2, is_active=$3 WHERE id=$1 RETURNING `+userColumns, id, role, active)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}
