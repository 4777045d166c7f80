package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const messageCols = `id, user_id, kind, title, content, day_key, dedup_key, created_at, is_read, read_at`

// InsertMessage stores m. When m.DedupKey is set and a row with the same
// (user, dedup key) exists, nothing is written and ErrDuplicate is
// returned.
func (s *SQLite) InsertMessage(ctx context.Context, m Message) error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.UserID) == "" {
		return errors.New("message id and user id required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(`+messageCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, dedup_key) DO NOTHING`,
		m.ID, m.UserID, m.Kind, m.Title, m.Content, m.DayKey, nullStr(m.DedupKey),
		toMillis(m.CreatedAt), boolInt(m.IsRead), nullMillis(m.ReadAt),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

// ListMessages returns one page of messages plus the total number of
// rows matching the query.
func (s *SQLite) ListMessages(ctx context.Context, q MessageQuery) ([]Message, int, error) {
	where, args := messageWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := " ORDER BY created_at ASC, rowid ASC"
	if q.NewestFirst {
		order = " ORDER BY created_at DESC, rowid DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageCols+` FROM messages`+where+order+` LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func messageWhere(q MessageQuery) (string, []any) {
	conds := []string{"user_id = ?"}
	args := []any{q.UserID}
	if len(q.Kinds) > 0 {
		conds = append(conds, "kind IN ("+placeholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, k)
		}
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created_at > ?")
		args = append(args, toMillis(q.Since))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLite) GetMessage(ctx context.Context, id string) (Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	return m, err
}

// MarkRead flags the given unread messages of userID as read. It returns
// the number of rows changed.
func (s *SQLite) MarkRead(ctx context.Context, userID string, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{toMillis(at), userID}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = 1, read_at = ?
		 WHERE user_id = ? AND is_read = 0 AND id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountUnread counts unread messages of the given kinds; no kinds means
// all kinds.
func (s *SQLite) CountUnread(ctx context.Context, userID string, kinds ...string) (int, error) {
	q := `SELECT COUNT(*) FROM messages WHERE user_id = ? AND is_read = 0`
	args := []any{userID}
	if len(kinds) > 0 {
		q += " AND kind IN (" + placeholders(len(kinds)) + ")"
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

// CountMessages counts the user's messages of kind created on day.
func (s *SQLite) CountMessages(ctx context.Context, userID, kind, day string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = ? AND kind = ? AND day_key = ?`,
		userID, kind, day,
	).Scan(&n)
	return n, err
}

// DeleteMessage removes one of the user's messages.
func (s *SQLite) DeleteMessage(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(r rowScanner) (Message, error) {
	var (
		m       Message
		dedup   sql.NullString
		created int64
		isRead  int
		readAt  sql.NullInt64
	)
	if err := r.Scan(&m.ID, &m.UserID, &m.Kind, &m.Title, &m.Content, &m.DayKey, &dedup,
		&created, &isRead, &readAt); err != nil {
		return Message{}, err
	}
	m.DedupKey = dedup.String
	m.CreatedAt = fromMillis(created)
	m.IsRead = isRead != 0
	m.ReadAt = ptrMillis(readAt)
	return m, nil
}

// BulkFilter selects announcement messages for bulk removal: by ids when
// given, otherwise by the half-open creation range [From, To).
type BulkFilter struct {
	IDs  []string
	From time.Time
	To   time.Time
}

func (f BulkFilter) empty() bool {
	return len(f.IDs) == 0 && (f.From.IsZero() || f.To.IsZero())
}

func bulkWhere(userID string, f BulkFilter) (string, []any) {
	q := ` WHERE user_id = ? AND kind = ?`
	args := []any{userID, KindText}
	if len(f.IDs) > 0 {
		q += ` AND id IN (` + placeholders(len(f.IDs)) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
		return q, args
	}
	q += ` AND created_at >= ? AND created_at < ?`
	args = append(args, toMillis(f.From), toMillis(f.To))
	return q, args
}

// CountBulk counts the rows DeleteBulk would remove. An empty filter
// matches nothing.
func (s *SQLite) CountBulk(ctx context.Context, userID string, f BulkFilter) (int, error) {
	if f.empty() {
		return 0, nil
	}
	where, args := bulkWhere(userID, f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`+where, args...).Scan(&n)
	return n, err
}

func (s *SQLite) DeleteBulk(ctx context.Context, userID string, f BulkFilter) (int, error) {
	if f.empty() {
		return 0, nil
	}
	where, args := bulkWhere(userID, f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages`+where, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
