package scan

import (
	"context"
	"time"

	"noticebot/internal/board"
	"noticebot/internal/notifier"
	"noticebot/internal/storage"
)

// PageSource yields the candidates on one board page.
type PageSource interface {
	Page(ctx context.Context, n int) ([]board.Candidate, error)
}

type NoticeStore interface {
	InsertIfAbsent(ctx context.Context, title, date, link string) (storage.Notice, bool, error)
}

type SubscriberLister interface {
	ListAll(ctx context.Context) ([]storage.Subscriber, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, msgs []notifier.Message) notifier.Report
}

// Observer receives every finished scan report.
type Observer interface {
	ObserveScan(rep Report)
}

type Config struct {
	FirstPage        int           // default 1
	LastPage         int           // inclusive; default 10
	FetchConcurrency int           // default 4
	Deadline         time.Duration // bounds the fetch phase; 0 means 2m
	DeliveryTimeout  time.Duration // bounds the fan-out phase; 0 means 5m
}

// Pages expands the configured range.
func (c Config) Pages() []int {
	out := make([]int, 0, c.LastPage-c.FirstPage+1)
	for p := c.FirstPage; p <= c.LastPage; p++ {
		out = append(out, p)
	}
	return out
}

// PageResult is the outcome of one page within a scan.
type PageResult struct {
	Page  int    `json:"page"`
	Found int    `json:"found"`
	New   int    `json:"new"`
	Error string `json:"error,omitempty"`
}

func (p PageResult) Failed() bool { return p.Error != "" }

// Report is the structured result of one scan.
type Report struct {
	ID         string           `json:"scan_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	NewNotices []storage.Notice `json:"new_notices"`
	Pages      []PageResult     `json:"pages"`
	Delivery   notifier.Report  `json:"delivery"`
	Err        string           `json:"error,omitempty"`
}

// FailedPages lists the pages that could not be fetched or parsed.
func (r Report) FailedPages() []int {
	var out []int
	for _, p := range r.Pages {
		if p.Failed() {
			out = append(out, p.Page)
		}
	}
	return out
}
