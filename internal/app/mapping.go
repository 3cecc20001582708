package app

import (
	"fmt"
	"strings"
	"time"

	"noticebot/internal/api"
	"noticebot/internal/board"
	"noticebot/internal/config"
	"noticebot/internal/notifier"
	"noticebot/internal/registration"
	"noticebot/internal/scan"
	"noticebot/internal/storage"
	"noticebot/internal/task/scheduler"
	"noticebot/internal/transport/telegram/adapter"
	"noticebot/pkg/logx"
)

const (
	defaultDBPath   = "./noticebot.db"
	defaultLastPage = 10

	scanResponseMargin = 30 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapLayout(lc config.LayoutConfig) board.Layout {
	l := board.DefaultLayout()
	if s := strings.TrimSpace(lc.RowSelector); s != "" {
		l.RowSelector = s
	}
	if lc.HeaderRows != nil {
		l.HeaderRows = *lc.HeaderRows
	}
	if lc.DateColumn != nil {
		l.DateColumn = *lc.DateColumn
	}
	if lc.TitleColumn != nil {
		l.TitleColumn = *lc.TitleColumn
	}
	if lc.MinCells > 0 {
		l.MinCells = lc.MinCells
	} else {
		l.MinCells = max(l.DateColumn, l.TitleColumn) + 1
	}
	return l
}

// retryMax resolves an optional retry count; omitted means 2.
func retryMax(v *int) int {
	if v == nil {
		return 2
	}
	return max(*v, 0)
}

func mapFetcherConfig(cfg *config.Config) (board.FetcherConfig, error) {
	timeout, err := config.ParseDurationOrDefault("board.fetch_timeout", cfg.Board.FetchTimeout, 10*time.Second)
	if err != nil {
		return board.FetcherConfig{}, err
	}
	return board.FetcherConfig{
		Timeout:   timeout,
		Attempts:  uint(retryMax(cfg.Board.RetryMax) + 1),
		UserAgent: cfg.Board.UserAgent,
	}, nil
}

// buildBoard maps the board section to a ready page source.
func buildBoard(cfg *config.Config, log logx.Logger) (*board.Board, error) {
	fc, err := mapFetcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	parser, err := board.NewParser(mapLayout(cfg.Board.Layout), cfg.Board.LinkBase)
	if err != nil {
		return nil, fmt.Errorf("board.layout: %w", err)
	}
	return board.New(cfg.Board.PageURL, board.NewFetcher(fc, log), parser), nil
}

func mapScanConfig(cfg *config.Config) (scan.Config, error) {
	deadline, err := config.ParseDurationOrDefault("scan.deadline", cfg.Scan.Deadline, 2*time.Minute)
	if err != nil {
		return scan.Config{}, err
	}
	delivery, err := config.ParseDurationOrDefault("scan.delivery_timeout", cfg.Scan.DeliveryTimeout, 5*time.Minute)
	if err != nil {
		return scan.Config{}, err
	}
	from, to := cfg.Board.Pages.From, cfg.Board.Pages.To
	if from <= 0 {
		from = 1
	}
	if to <= 0 {
		to = max(from, defaultLastPage)
	}
	return scan.Config{
		FirstPage:        from,
		LastPage:         to,
		FetchConcurrency: cfg.Board.FetchConcurrency,
		Deadline:         deadline,
		DeliveryTimeout:  delivery,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	sendTimeout, err := config.ParseDurationOrDefault("notifier.send_timeout", cfg.Notifier.SendTimeout, 15*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:     cfg.Notifier.Workers,
		RatePerSec:  cfg.Notifier.RatePerSec,
		RetryMax:    retryMax(cfg.Notifier.RetryMax),
		SendTimeout: sendTimeout,
	}, nil
}

func mapRegistrationConfig(cfg *config.Config) registration.Config {
	return registration.Config{
		AdminAddress: strings.TrimSpace(cfg.Telegram.AdminChatID),
		WelcomeText:  cfg.Telegram.WelcomeText,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Schedule: cfg.Scan.Schedule, Timezone: cfg.Scan.Timezone}
}

func mapTelegramConfig(cfg *config.Config) (adapter.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return adapter.Config{}, err
	}
	return adapter.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapHTTPConfig(cfg *config.Config) (api.ServiceConfig, error) {
	read, err := config.ParseDurationField("http.read_timeout", cfg.HTTP.ReadTimeout)
	if err != nil {
		return api.ServiceConfig{}, err
	}
	write, err := config.ParseDurationField("http.write_timeout", cfg.HTTP.WriteTimeout)
	if err != nil {
		return api.ServiceConfig{}, err
	}
	if write == 0 {
		// POST /scan answers only after the scan and its deliveries finish.
		sc, err := mapScanConfig(cfg)
		if err != nil {
			return api.ServiceConfig{}, err
		}
		write = sc.Deadline + sc.DeliveryTimeout + scanResponseMargin
	}
	return api.ServiceConfig{Addr: cfg.HTTP.ListenAddr(), ReadTimeout: read, WriteTimeout: write}, nil
}

// validate extends config.Validate with checks owned by the components.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := mapLayout(cfg.Board.Layout).Validate(); err != nil {
		return fmt.Errorf("board.layout: %w", err)
	}
	if err := scheduler.Validate(mapSchedulerConfig(cfg)); err != nil {
		return fmt.Errorf("scan.schedule: %w", err)
	}
	return nil
}
