package board

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/codeGROOVE-dev/retry"

	"noticebot/pkg/logx"
)

const PagePlaceholder = "{page}"

// PageURL substitutes page into a "{page}" URL template.
func PageURL(template string, page int) string {
	return strings.ReplaceAll(template, PagePlaceholder, strconv.Itoa(page))
}

// StatusError is a non-200 board response.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Status)
}

// Retryable is false for client errors other than 408 and 429.
func (e *StatusError) Retryable() bool {
	if e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout {
		return true
	}
	return e.Status < 400 || e.Status >= 500
}

type FetcherConfig struct {
	Timeout    time.Duration // per attempt; 0 means 10s
	Attempts   uint          // total tries; 0 means 3
	RetryDelay time.Duration // 0 means 500ms
	UserAgent  string
	Client     *http.Client // nil means http.DefaultClient
}

// Fetcher downloads board pages.
type Fetcher struct {
	cfg FetcherConfig
	log logx.Logger
}

func NewFetcher(cfg FetcherConfig, log logx.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "noticebot/1.0 (+https://github.com/noticebot)"
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Fetcher{cfg: cfg, log: log}
}

// Fetch returns the body of pageURL. Each attempt is bounded by the
// configured timeout; the whole call is bounded by ctx.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	var body bytes.Buffer
	err := retry.Do(
		func() error {
			body.Reset()
			actx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
			defer cancel()

			start := time.Now()
			err := requests.URL(pageURL).
				Client(f.cfg.Client).
				UserAgent(f.cfg.UserAgent).
				Accept("text/html,application/xhtml+xml;q=0.9,*/*;q=0.8").
				AddValidator(func(res *http.Response) error {
					if res.StatusCode != http.StatusOK {
						return &StatusError{URL: pageURL, Status: res.StatusCode}
					}
					return nil
				}).
				ToBytesBuffer(&body).
				Fetch(actx)
			f.log.Debug("board page fetched",
				logx.String("url", pageURL),
				logx.Duration("took", time.Since(start)),
				logx.Int("bytes", body.Len()),
				logx.Err(err),
			)
			return err
		},
		retry.Attempts(f.cfg.Attempts),
		retry.Delay(f.cfg.RetryDelay),
		retry.MaxDelay(10*f.cfg.RetryDelay),
		retry.MaxJitter(f.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			f.log.Info("retrying board fetch", logx.String("url", pageURL), logx.Int("attempt", int(n)+1), logx.Err(err))
		}),
		retry.RetryIf(func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Retryable()
			}
			return ctx.Err() == nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return body.Bytes(), nil
}
