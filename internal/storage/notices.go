package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// NoticeStore persists notices keyed by link.
type NoticeStore struct {
	db *sql.DB
}

func (s *NoticeStore) Exists(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM notices WHERE link = ?`, link).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("notice exists: %w", err)
	}
	return true, nil
}

// InsertIfAbsent stores the notice unless its link is already present.
// The bool is true only when a row was created; a duplicate is not an error
// and leaves the first stored title/date untouched.
func (s *NoticeStore) InsertIfAbsent(ctx context.Context, title, date, link string) (Notice, bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notices(title, date, link, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(link) DO NOTHING`,
		title, date, link, now.UnixMilli(),
	)
	if err != nil {
		return Notice{}, false, fmt.Errorf("insert notice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Notice{}, false, fmt.Errorf("insert notice: %w", err)
	}
	if n == 0 {
		return Notice{}, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Notice{}, false, fmt.Errorf("insert notice: %w", err)
	}
	return Notice{ID: id, Title: title, Date: date, Link: link, CreatedAt: time.UnixMilli(now.UnixMilli())}, true, nil
}

// ListRecent returns up to limit notices, most recently stored first.
// limit <= 0 returns everything.
func (s *NoticeStore) ListRecent(ctx context.Context, limit int) ([]Notice, error) {
	q := `SELECT id, title, date, link, created_at FROM notices ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	out := []Notice{}
	for rows.Next() {
		var (
			n  Notice
			ms int64
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Date, &n.Link, &ms); err != nil {
			return nil, fmt.Errorf("list notices: %w", err)
		}
		n.CreatedAt = time.UnixMilli(ms)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	return out, nil
}

func (s *NoticeStore) ListAll(ctx context.Context) ([]Notice, error) {
	return s.ListRecent(ctx, 0)
}

func (s *NoticeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notices: %w", err)
	}
	return n, nil
}
