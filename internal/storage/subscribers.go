package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SubscriberStore persists broadcast recipients keyed by address.
type SubscriberStore struct {
	db *sql.DB
}

// ListAll returns every subscriber, newest first.
func (s *SubscriberStore) ListAll(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, created_at FROM subscribers ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	out := []Subscriber{}
	for rows.Next() {
		var (
			sub Subscriber
			ms  int64
		)
		if err := rows.Scan(&sub.ID, &sub.Name, &sub.Address, &ms); err != nil {
			return nil, fmt.Errorf("list subscribers: %w", err)
		}
		sub.CreatedAt = time.UnixMilli(ms)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return out, nil
}

// InsertIfAbsent adds a subscriber unless the address is already registered.
// On an address conflict it returns the stored row and false.
func (s *SubscriberStore) InsertIfAbsent(ctx context.Context, name, address string) (Subscriber, bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(name, address, created_at) VALUES(?,?,?)
		 ON CONFLICT(address) DO NOTHING`,
		name, address, now.UnixMilli(),
	)
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	if n == 0 {
		existing, err := s.FindByAddress(ctx, address)
		if err != nil {
			return Subscriber{}, false, err
		}
		return existing, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("insert subscriber: %w", err)
	}
	return Subscriber{ID: id, Name: name, Address: address, CreatedAt: time.UnixMilli(now.UnixMilli())}, true, nil
}

// FindByAddress returns ErrNotFound when no subscriber has that address.
func (s *SubscriberStore) FindByAddress(ctx context.Context, address string) (Subscriber, error) {
	var (
		sub Subscriber
		ms  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, created_at FROM subscribers WHERE address = ?`, address,
	).Scan(&sub.ID, &sub.Name, &sub.Address, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, fmt.Errorf("find subscriber: %w", err)
	}
	sub.CreatedAt = time.UnixMilli(ms)
	return sub, nil
}

// DeleteByID reports false when no subscriber had that id.
func (s *SubscriberStore) DeleteByID(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscribers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete subscriber: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscriber: %w", err)
	}
	return n > 0, nil
}

func (s *SubscriberStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscribers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}
