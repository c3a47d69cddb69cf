package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/concordhq/concord/internal/collab"
)

const schema = `
CREATE TABLE IF NOT EXISTS directory_users (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	last_seen    INTEGER NOT NULL
);`

// StoredUser is a cached directory user with its last-seen timestamp.
type StoredUser struct {
	User     collab.User
	LastSeen time.Time
}

// Store persists the directory snapshot in a local sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the snapshot database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init directory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns every stored user.
func (s *Store) Load(ctx context.Context) ([]StoredUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, display_name, first_name, last_name, email, last_seen FROM directory_users`)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	defer rows.Close()

	var users []StoredUser
	for rows.Next() {
		var u StoredUser
		var lastSeen int64
		if err := rows.Scan(&u.User.ID, &u.User.DisplayName, &u.User.FirstName, &u.User.LastName, &u.User.Email, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan directory row: %w", err)
		}
		u.LastSeen = time.Unix(lastSeen, 0)
		users = append(users, u)
	}
	return users, rows.Err()
}

// Save replaces the stored snapshot with the given users.
func (s *Store) Save(ctx context.Context, users []StoredUser) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin directory save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM directory_users`); err != nil {
		return fmt.Errorf("clear directory: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO directory_users (user_id, display_name, first_name, last_name, email, last_seen) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare directory insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, u.User.ID, u.User.DisplayName, u.User.FirstName, u.User.LastName, u.User.Email, u.LastSeen.Unix()); err != nil {
			return fmt.Errorf("insert directory user %s: %w", u.User.ID, err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
