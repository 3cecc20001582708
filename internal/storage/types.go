package storage

import (
	"errors"
	"time"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("not found")
)

// Config configures the SQLite database.
//
// Path ":memory:" opens a private in-memory database (single connection).
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// Notice is one stored board entry. Link is the natural key.
// Stored notices are never updated or deleted.
type Notice struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date"`
	Link      string    `json:"link"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscriber is one broadcast recipient. Address is the natural key:
// a Telegram chat id ("123456789", "-100…") or a channel handle ("@board").
type Subscriber struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}
