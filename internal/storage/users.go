package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertUser inserts a user or updates the profile and credentials of an
// existing one with the same id.
func (s *Store) UpsertUser(u User) error {
	now := stamp(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO users (id, email, name, google_access_token, hubspot_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			google_access_token = excluded.google_access_token,
			hubspot_token = excluded.hubspot_token,
			updated_at = excluded.updated_at`,
		u.ID, strings.TrimSpace(u.Email), u.Name, u.GoogleAccessToken, u.HubSpotToken, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

const userColumns = `id, email, name, google_access_token, hubspot_token, created_at, updated_at`

func (s *Store) GetUser(id string) (User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// FindUserByEmail returns ErrNotFound when no user owns the address.
func (s *Store) FindUserByEmail(email string) (User, error) {
	return scanUser(s.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, strings.TrimSpace(email)))
}

func (s *Store) ListUsers() ([]User, error) {
	return s.queryUsers(`SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC`)
}

func (s *Store) UsersWithMailAccess() ([]User, error) {
	return s.queryUsers(`SELECT ` + userColumns + ` FROM users WHERE google_access_token != '' ORDER BY created_at ASC`)
}

// UsersWithCalendarAccess shares the Google credential with mail access.
func (s *Store) UsersWithCalendarAccess() ([]User, error) {
	return s.UsersWithMailAccess()
}

func (s *Store) UsersWithCRMAccess() ([]User, error) {
	return s.queryUsers(`SELECT ` + userColumns + ` FROM users WHERE hubspot_token != '' ORDER BY created_at ASC`)
}

func (s *Store) queryUsers(query string, args ...any) ([]User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var u User
	var createdAt, updatedAt string
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.GoogleAccessToken, &u.HubSpotToken, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scanning user: %w", err)
	}
	if u.CreatedAt, err = unstamp(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = unstamp(updatedAt); err != nil {
		return User{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return u, nil
}
