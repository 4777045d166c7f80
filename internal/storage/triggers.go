package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

const triggerCols = `id, user_id, name, kind, action, hour, minute, days, expr, enabled, last_run_at, created_at, updated_at`

// SaveTrigger inserts or replaces a trigger row. CreatedAt is kept on
// update.
func (s *SQLite) SaveTrigger(ctx context.Context, tr Trigger) error {
	if strings.TrimSpace(tr.ID) == "" || strings.TrimSpace(tr.UserID) == "" {
		return errors.New("trigger id and user id required")
	}
	now := s.now()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = now
	}
	if tr.UpdatedAt.IsZero() {
		tr.UpdatedAt = now
	}
	if tr.Action == "" {
		tr.Action = ActionBedtime
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers(`+triggerCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id=excluded.user_id, name=excluded.name, kind=excluded.kind,
		   action=excluded.action, hour=excluded.hour, minute=excluded.minute,
		   days=excluded.days, expr=excluded.expr, enabled=excluded.enabled,
		   updated_at=excluded.updated_at`,
		tr.ID, tr.UserID, tr.Name, tr.Kind, tr.Action, tr.Hour, tr.Minute,
		encodeDays(tr.Days), tr.Expr, boolInt(tr.Enabled), nullMillis(tr.LastRunAt),
		toMillis(tr.CreatedAt), toMillis(tr.UpdatedAt),
	)
	return err
}

func (s *SQLite) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+triggerCols+` FROM triggers WHERE id = ?`, id)
	tr, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Trigger{}, ErrNotFound
	}
	return tr, err
}

// DeleteTrigger removes a trigger. Missing ids return ErrNotFound.
func (s *SQLite) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTriggers returns the user's triggers, oldest first.
func (s *SQLite) ListTriggers(ctx context.Context, userID string) ([]Trigger, error) {
	return s.queryTriggers(ctx, `SELECT `+triggerCols+` FROM triggers WHERE user_id = ? ORDER BY created_at, id`, userID)
}

// ListEnabledTriggers returns every enabled trigger across users.
func (s *SQLite) ListEnabledTriggers(ctx context.Context) ([]Trigger, error) {
	return s.queryTriggers(ctx, `SELECT `+triggerCols+` FROM triggers WHERE enabled = 1 ORDER BY created_at, id`)
}

// TouchTrigger records a firing.
func (s *SQLite) TouchTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE triggers SET last_run_at = ? WHERE id = ?`, toMillis(at), id)
	return err
}

func (s *SQLite) queryTriggers(ctx context.Context, q string, args ...any) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Trigger
	for rows.Next() {
		tr, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(r rowScanner) (Trigger, error) {
	var (
		tr               Trigger
		days             string
		enabled          int
		lastRun          sql.NullInt64
		created, updated int64
	)
	if err := r.Scan(&tr.ID, &tr.UserID, &tr.Name, &tr.Kind, &tr.Action, &tr.Hour, &tr.Minute,
		&days, &tr.Expr, &enabled, &lastRun, &created, &updated); err != nil {
		return Trigger{}, err
	}
	tr.Days = decodeDays(days)
	tr.Enabled = enabled != 0
	tr.LastRunAt = ptrMillis(lastRun)
	tr.CreatedAt = fromMillis(created)
	tr.UpdatedAt = fromMillis(updated)
	return tr, nil
}

func encodeDays(days []int) string {
	if len(days) == 0 {
		return ""
	}
	cp := append([]int(nil), days...)
	sort.Ints(cp)
	parts := make([]string, 0, len(cp))
	for _, d := range cp {
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

func decodeDays(s string) []int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []int
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
