// Package app wires configuration, storage, the board scraper, the notifier
// and the Telegram transport into one running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"noticebot/internal/api"
	"noticebot/internal/board"
	"noticebot/internal/config"
	"noticebot/internal/metrics"
	"noticebot/internal/notifier"
	"noticebot/internal/registration"
	rtsup "noticebot/internal/runtime/supervisor"
	"noticebot/internal/scan"
	"noticebot/internal/storage"
	"noticebot/internal/task/scheduler"
	"noticebot/internal/transport"
	"noticebot/internal/transport/telegram/adapter"
	"noticebot/pkg/logx"
)

const (
	updatesBuffer   = 256
	callbackTimeout = 30 * time.Second
	webhookTimeout  = 30 * time.Second
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor
	mode string

	log  logx.Logger
	logs *logx.Service

	db      *storage.DB
	metrics *metrics.Metrics
	adapter *adapter.Adapter // nil in dry_run mode
	notif   *notifier.Notifier
	source  *boardSource
	scanner *scan.Orchestrator
	reg     *registration.Handler
	sched   *scheduler.Service
	http    *api.Service // nil when http is disabled

	updates   chan transport.Update
	startedAt time.Time
	closeOnce sync.Once
}

// Options tweak construction. The zero value is what cmd/bot uses.
type Options struct {
	// Environment replaces the process environment for secret overrides.
	Environment func() map[string]string
	// TelegramAPIURL points the adapter at another Bot API server.
	TelegramAPIURL string
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	if opts.Environment != nil {
		cfgm.SetEnvironment(opts.Environment)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.Component("config"))

	a := &App{
		cfgm:    cfgm,
		mode:    cfg.Telegram.TelegramMode(),
		log:     log,
		logs:    logs,
		updates: make(chan transport.Update, updatesBuffer),
	}
	if err := a.build(ctx, cfg, opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, opts Options) error {
	log := a.log

	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.metrics = m

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, scfg, log.Component("storage"))
	if err != nil {
		return err
	}
	a.db = db

	var sender transport.Sender
	if a.mode == config.ModeDryRun {
		sender = transport.LogSender{Log: log.Component("dry_run")}
		log.Warn("dry_run mode: messages are logged, not delivered")
	} else {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return err
		}
		tcfg.APIURL = opts.TelegramAPIURL
		ad, err := adapter.New(tcfg, log.Component("telegram"))
		if err != nil {
			return err
		}
		a.adapter = ad
		sender = ad
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, sender, log.Component("notifier"))
	a.notif.SetObserver(m)

	b, err := buildBoard(cfg, log.Component("board"))
	if err != nil {
		return err
	}
	a.source = newBoardSource(b)

	sc, err := mapScanConfig(cfg)
	if err != nil {
		return err
	}
	a.scanner = scan.New(sc, a.source, db.Notices(), db.Subscribers(), a.notif, log.Component("scan"))
	a.scanner.SetObserver(m)

	a.reg = registration.New(mapRegistrationConfig(cfg), db.Subscribers(), a.notif, log.Component("registration"))
	a.reg.SetObserver(m)

	a.sched = scheduler.New("scan", mapSchedulerConfig(cfg), a.scheduledScan, log.Component("scheduler"))

	if cfg.HTTP.HTTPEnabled() {
		hcfg, err := mapHTTPConfig(cfg)
		if err != nil {
			return err
		}
		deps := api.Deps{
			Scanner:   a.scanner,
			Notices:   db.Notices(),
			Registrar: a.reg,
			Ping:      db.Ping,
			Status:    a.status,
		}
		if a.adapter != nil {
			deps.Webhook = a.adapter
		}
		srv := api.NewServer(deps, api.Options{
			APIKey:        cfg.HTTP.APIKey,
			WebhookURL:    cfg.Telegram.WebhookURL,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			Pprof:         cfg.HTTP.Pprof,
			Metrics:       m.Handler(),
			Observer:      m,
		}, log.Component("http"))
		a.http = api.NewService(hcfg, srv.Handler(), log.Component("http"))
	}
	return nil
}

func (a *App) scheduledScan(ctx context.Context) error {
	_, err := a.scanner.Run(ctx)
	return err
}

// Start runs every component under one supervisor. A fatal component error
// cancels the app; watch Done and Err.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()
	cfg := a.cfgm.Get()

	if a.http != nil {
		if err := a.http.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("http listen: %w", err)
		}
	}

	switch a.mode {
	case config.ModePolling:
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("updates.dispatch", a.dispatchUpdates)
	case config.ModeWebhook:
		if cfg.Telegram.WebhookURL != "" {
			a.sup.Go0("webhook.register", a.registerWebhook)
		} else {
			a.log.Warn("webhook mode without telegram.webhook_url; register it with POST /webhook/register")
		}
	}

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if cfg.Scan.RunOnStart {
		a.sup.Go0("scan.initial", func(c context.Context) {
			if _, err := a.scanner.Run(c); err != nil {
				a.log.Warn("initial scan failed", logx.Err(err))
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("mode", a.mode), logx.String("addr", a.HTTPAddr()))
	return nil
}

func (a *App) registerWebhook(ctx context.Context) {
	cfg := a.cfgm.Get()
	wctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	if err := a.adapter.SetWebhook(wctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
		a.log.Error("webhook registration failed", logx.Err(err))
		return
	}
	a.log.Info("webhook registered", logx.String("url", cfg.Telegram.WebhookURL))
}

func (a *App) Logger() logx.Logger { return a.log }

// ScanOnce runs a single scan without starting the background services.
func (a *App) ScanOnce(ctx context.Context) (scan.Report, error) {
	return a.scanner.Run(ctx)
}

// HTTPAddr is the bound API address, or "" when the API is off or not started.
func (a *App) HTTPAddr() string {
	if a.http == nil {
		return ""
	}
	return a.http.Addr()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Healthy reports whether the database answers and no component has failed.
func (a *App) Healthy() bool {
	if a.Err() != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.db.Ping(ctx) == nil
}

type statusReport struct {
	Mode        string             `json:"mode"`
	StartedAt   time.Time          `json:"started_at"`
	Uptime      string             `json:"uptime"`
	Notices     int                `json:"notices"`
	Subscribers int                `json:"subscribers"`
	Scheduler   scheduler.Snapshot `json:"scheduler"`
	Tasks       rtsup.Counters     `json:"tasks"`
	Errors      []string           `json:"errors,omitempty"`
}

func (a *App) status() any {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	st := statusReport{
		Mode:      a.mode,
		StartedAt: a.startedAt,
		Uptime:    time.Since(a.startedAt).Truncate(time.Second).String(),
		Scheduler: a.sched.Snapshot(),
	}
	if a.sup != nil {
		st.Tasks = a.sup.Counters()
	}
	var err error
	if st.Notices, err = a.db.Notices().Count(ctx); err != nil {
		st.Errors = append(st.Errors, "notices: "+err.Error())
	}
	if st.Subscribers, err = a.db.Subscribers().Count(ctx); err != nil {
		st.Errors = append(st.Errors, "subscribers: "+err.Error())
	}
	return st
}

// Stop shuts everything down in dependency order. Each step is bounded and
// never outlives ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	defer a.close()
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("http", 5*time.Second, func(c context.Context) error {
		if a.http == nil {
			return nil
		}
		return a.http.Stop(c)
	})
	step("adapter", 3*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	return a.sup.Err()
}

// close releases storage and log sinks. Safe to call more than once.
func (a *App) close() {
	a.closeOnce.Do(func() {
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}

// boardSource lets a config reload swap the board without touching the
// orchestrator.
type boardSource struct {
	cur atomic.Pointer[board.Board]
}

func newBoardSource(b *board.Board) *boardSource {
	s := &boardSource{}
	s.cur.Store(b)
	return s
}

func (s *boardSource) Page(ctx context.Context, n int) ([]board.Candidate, error) {
	return s.cur.Load().Page(ctx, n)
}

func (s *boardSource) Store(b *board.Board) { s.cur.Store(b) }
