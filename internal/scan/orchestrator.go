package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"noticebot/internal/board"
	"noticebot/internal/notifier"
	"noticebot/internal/storage"
	"noticebot/pkg/logx"
)

// Orchestrator runs the scan pipeline: fetch, parse, dedupe, persist, notify.
// It keeps no state between runs; the stores are the source of truth, so
// overlapping runs are safe.
type Orchestrator struct {
	mu  sync.RWMutex
	cfg Config

	source      PageSource
	notices     NoticeStore
	subscribers SubscriberLister
	deliverer   Deliverer
	observer    Observer
	log         logx.Logger
}

func New(cfg Config, source PageSource, notices NoticeStore, subscribers SubscriberLister, deliverer Deliverer, log logx.Logger) *Orchestrator {
	o := &Orchestrator{
		source:      source,
		notices:     notices,
		subscribers: subscribers,
		deliverer:   deliverer,
		log:         log,
	}
	o.Apply(cfg)
	return o
}

func (o *Orchestrator) SetObserver(obs Observer) {
	o.mu.Lock()
	o.observer = obs
	o.mu.Unlock()
}

// Apply takes effect from the next Run.
func (o *Orchestrator) Apply(cfg Config) {
	if cfg.FirstPage <= 0 {
		cfg.FirstPage = 1
	}
	if cfg.LastPage <= 0 {
		cfg.LastPage = 10
	}
	if cfg.LastPage < cfg.FirstPage {
		cfg.LastPage = cfg.FirstPage
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 2 * time.Minute
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Minute
	}
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

func (o *Orchestrator) Config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

type fetched struct {
	cands []board.Candidate
	err   error
}

// Run performs one scan.
//
// A page that cannot be fetched within the deadline is recorded as failed and
// skipped. A persistence error stops the scan: remaining pages are not stored,
// notices already committed are still delivered, and the error is returned
// alongside the report.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	cfg := o.Config()
	rep := Report{ID: uuid.NewString(), StartedAt: time.Now(), NewNotices: []storage.Notice{}}
	log := o.log.With(logx.String("scan", rep.ID))
	log.Info("scan started", logx.Int("from", cfg.FirstPage), logx.Int("to", cfg.LastPage))

	pages := cfg.Pages()
	results := o.fetchAll(ctx, cfg, pages)

	var fatal error
	for i, p := range pages {
		pr := PageResult{Page: p}
		if err := results[i].err; err != nil {
			pr.Error = err.Error()
			rep.Pages = append(rep.Pages, pr)
			log.Warn("page skipped", logx.Int("page", p), logx.Err(err))
			continue
		}
		pr.Found = len(results[i].cands)
		for _, c := range results[i].cands {
			n, created, err := o.notices.InsertIfAbsent(ctx, c.Title, c.Date, c.Link)
			if err != nil {
				fatal = fmt.Errorf("page %d: %w", p, err)
				break
			}
			if created {
				pr.New++
				rep.NewNotices = append(rep.NewNotices, n)
			}
		}
		if fatal != nil {
			pr.Error = fatal.Error()
		}
		rep.Pages = append(rep.Pages, pr)
		if fatal != nil {
			log.Error("persisting notices failed; scan aborted", logx.Int("page", p), logx.Err(fatal))
			break
		}
	}

	if len(rep.NewNotices) > 0 {
		if err := o.notify(ctx, cfg, &rep); err != nil {
			fatal = errors.Join(fatal, err)
		}
	}

	rep.FinishedAt = time.Now()
	if fatal != nil {
		rep.Err = fatal.Error()
	}
	log.Info("scan finished",
		logx.Int("new", len(rep.NewNotices)),
		logx.Any("failed_pages", rep.FailedPages()),
		logx.Int("sent", rep.Delivery.Sent),
		logx.Int("send_failed", rep.Delivery.Failed),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
		logx.Err(fatal),
	)

	o.mu.RLock()
	obs := o.observer
	o.mu.RUnlock()
	if obs != nil {
		obs.ObserveScan(rep)
	}
	return rep, fatal
}

// fetchAll fetches pages concurrently under the scan deadline.
// results[i] belongs to pages[i].
func (o *Orchestrator) fetchAll(ctx context.Context, cfg Config, pages []int) []fetched {
	fctx, cancel := context.WithTimeout(ctx, cfg.Deadline)
	defer cancel()

	results := make([]fetched, len(pages))
	sem := make(chan struct{}, cfg.FetchConcurrency)
	var wg sync.WaitGroup
	for i, p := range pages {
		wg.Add(1)
		go func(i, p int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-fctx.Done():
				results[i].err = fmt.Errorf("page %d abandoned: %w", p, fctx.Err())
				return
			}
			defer func() { <-sem }()
			cands, err := o.source.Page(fctx, p)
			results[i] = fetched{cands: cands, err: err}
		}(i, p)
	}
	wg.Wait()
	return results
}

// notify fans every new notice out to every subscriber.
func (o *Orchestrator) notify(ctx context.Context, cfg Config, rep *Report) error {
	subs, err := o.subscribers.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(subs) == 0 {
		o.log.Info("no subscribers; skipping delivery", logx.Int("new", len(rep.NewNotices)))
		return nil
	}

	msgs := make([]notifier.Message, 0, len(rep.NewNotices)*len(subs))
	for _, n := range rep.NewNotices {
		text := notifier.FormatNotice(n)
		for _, s := range subs {
			msgs = append(msgs, notifier.Message{Address: s.Address, Text: text})
		}
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.DeliveryTimeout)
	defer cancel()
	rep.Delivery = o.deliverer.Deliver(dctx, msgs)
	return nil
}
