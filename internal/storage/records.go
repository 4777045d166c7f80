package storage

import (
	"context"
	"database/sql"
	"errors"
)

const recordCols = `user_id, day, duration, rating, updated_at`

// UpsertRecord stores the night's record, replacing any earlier one for
// the same day.
func (s *SQLite) UpsertRecord(ctx context.Context, r SleepRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = s.now()
	}
	var rating any
	if r.Rating != nil {
		rating = *r.Rating
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sleep_records(`+recordCols+`) VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id, day) DO UPDATE SET
		   duration=excluded.duration, rating=excluded.rating, updated_at=excluded.updated_at`,
		r.UserID, r.Day, r.Duration, rating, toMillis(r.UpdatedAt),
	)
	return err
}

// HasRecordOn reports whether the user logged a night for day.
func (s *SQLite) HasRecordOn(ctx context.Context, userID, day string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sleep_records WHERE user_id = ? AND day = ? LIMIT 1`, userID, day,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListRecords returns records with from <= day <= to, oldest first.
func (s *SQLite) ListRecords(ctx context.Context, userID, from, to string) ([]SleepRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordCols+` FROM sleep_records WHERE user_id = ? AND day >= ? AND day <= ? ORDER BY day`,
		userID, from, to,
	)
}

// LatestRecords returns the user's n most recent records, newest first.
func (s *SQLite) LatestRecords(ctx context.Context, userID string, n int) ([]SleepRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	return s.queryRecords(ctx,
		`SELECT `+recordCols+` FROM sleep_records WHERE user_id = ? ORDER BY day DESC LIMIT ?`,
		userID, n,
	)
}

func (s *SQLite) queryRecords(ctx context.Context, q string, args ...any) ([]SleepRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SleepRecord
	for rows.Next() {
		var (
			r      SleepRecord
			rating sql.NullInt64
			ms     int64
		)
		if err := rows.Scan(&r.UserID, &r.Day, &r.Duration, &rating, &ms); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			r.Rating = &v
		}
		r.UpdatedAt = fromMillis(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}
