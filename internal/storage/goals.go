package storage

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertGoal stores the goal version effective from g.Day.
func (s *SQLite) UpsertGoal(ctx context.Context, g Goal) error {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals(user_id, effective_date, value, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id, effective_date) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		g.UserID, g.Day, g.Value, toMillis(g.UpdatedAt),
	)
	return err
}

// GoalOnOrBefore returns the latest goal version effective on or before
// day. ErrNotFound when the user had no goal yet.
func (s *SQLite) GoalOnOrBefore(ctx context.Context, userID, day string) (Goal, error) {
	var (
		g  Goal
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, effective_date, value, updated_at FROM goals
		 WHERE user_id = ? AND effective_date <= ?
		 ORDER BY effective_date DESC LIMIT 1`,
		userID, day,
	).Scan(&g.UserID, &g.Day, &g.Value, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Goal{}, ErrNotFound
	}
	if err != nil {
		return Goal{}, err
	}
	g.UpdatedAt = fromMillis(ms)
	return g, nil
}

// ListGoalsUpTo returns goal versions effective on or before day, newest
// first.
func (s *SQLite) ListGoalsUpTo(ctx context.Context, userID, day string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, effective_date, value, updated_at FROM goals
		 WHERE user_id = ? AND effective_date <= ?
		 ORDER BY effective_date DESC`,
		userID, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Goal
	for rows.Next() {
		var (
			g  Goal
			ms int64
		)
		if err := rows.Scan(&g.UserID, &g.Day, &g.Value, &ms); err != nil {
			return nil, err
		}
		g.UpdatedAt = fromMillis(ms)
		out = append(out, g)
	}
	return out, rows.Err()
}
