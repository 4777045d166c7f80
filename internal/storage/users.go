package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// UpsertUser creates the user or updates its name.
func (s *SQLite) UpsertUser(ctx context.Context, u User) error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("user id required")
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, created_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		u.ID, u.Name, toMillis(created),
	)
	return err
}

func (s *SQLite) GetUser(ctx context.Context, id string) (User, error) {
	var (
		u  User
		ms int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Name, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = fromMillis(ms)
	return u, nil
}

// ListUsers returns every user ordered by id.
func (s *SQLite) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var (
			u  User
			ms int64
		)
		if err := rows.Scan(&u.ID, &u.Name, &ms); err != nil {
			return nil, err
		}
		u.CreatedAt = fromMillis(ms)
		out = append(out, u)
	}
	return out, rows.Err()
}

// DeleteUser removes the user and everything it owns.
func (s *SQLite) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM triggers WHERE user_id = ?`,
		`DELETE FROM messages WHERE user_id = ?`,
		`DELETE FROM goals WHERE user_id = ?`,
		`DELETE FROM sleep_records WHERE user_id = ?`,
		`DELETE FROM insights WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EnsureUser creates the user if it does not exist yet. An existing name
// is left alone.
func (s *SQLite) EnsureUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("user id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, created_at) VALUES(?, '', ?) ON CONFLICT(id) DO NOTHING`,
		id, toMillis(s.now()),
	)
	return err
}
