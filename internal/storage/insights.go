package storage

import (
	"context"
	"database/sql"
	"errors"
)

const insightCols = `user_id, period_type, day_key, generated_at, goal_value, score, insight, analysis, recommendation, start_day, end_day`

func (s *SQLite) GetInsight(ctx context.Context, userID, period, dayKey string) (InsightEntry, error) {
	var (
		e  InsightEntry
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+insightCols+` FROM insights WHERE user_id = ? AND period_type = ? AND day_key = ?`,
		userID, period, dayKey,
	).Scan(&e.UserID, &e.PeriodType, &e.DayKey, &ms, &e.GoalValue, &e.Score,
		&e.Insight, &e.Analysis, &e.Recommendation, &e.StartDay, &e.EndDay)
	if errors.Is(err, sql.ErrNoRows) {
		return InsightEntry{}, ErrNotFound
	}
	if err != nil {
		return InsightEntry{}, err
	}
	e.GeneratedAt = fromMillis(ms)
	return e, nil
}

// UpsertInsight replaces the cache entry for (user, period, day).
func (s *SQLite) UpsertInsight(ctx context.Context, e InsightEntry) error {
	if e.GeneratedAt.IsZero() {
		e.GeneratedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO insights(`+insightCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, period_type, day_key) DO UPDATE SET
		   generated_at=excluded.generated_at, goal_value=excluded.goal_value,
		   score=excluded.score, insight=excluded.insight, analysis=excluded.analysis,
		   recommendation=excluded.recommendation, start_day=excluded.start_day,
		   end_day=excluded.end_day`,
		e.UserID, e.PeriodType, e.DayKey, toMillis(e.GeneratedAt), e.GoalValue, e.Score,
		e.Insight, e.Analysis, e.Recommendation, e.StartDay, e.EndDay,
	)
	return err
}
