package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// PagePlaceholder is substituted with the page number in BoardConfig.PageURL.
const PagePlaceholder = "{page}"

const (
	ModePolling  = "polling"
	ModeWebhook  = "webhook"
	ModeSendOnly = "send_only"
	ModeDryRun   = "dry_run"
)

// TelegramMode returns the normalized mode, defaulting to polling.
func (c TelegramConfig) TelegramMode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m == "" {
		return ModePolling
	}
	return m
}

// HTTPEnabled defaults to true.
func (c HTTPConfig) HTTPEnabled() bool { return c.Enabled == nil || *c.Enabled }

// ListenAddr resolves the listen address; PORT wins over addr.
func (c HTTPConfig) ListenAddr() string {
	if p := strings.TrimSpace(c.Port); p != "" {
		return ":" + p
	}
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return ":8080"
}

// Validate checks cross-field constraints that strict decoding cannot.
// Defaults for omitted fields are applied by the consumers, not here.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	switch mode := cfg.Telegram.TelegramMode(); mode {
	case ModePolling, ModeWebhook, ModeSendOnly:
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, fmt.Errorf("telegram.token is required in %s mode (or set TELEGRAM_BOT_TOKEN)", mode))
		}
	case ModeDryRun:
	default:
		errs = append(errs, fmt.Errorf("telegram.mode: unknown mode %q", cfg.Telegram.Mode))
	}
	if cfg.Telegram.TelegramMode() == ModeWebhook && !cfg.HTTP.HTTPEnabled() {
		errs = append(errs, errors.New("telegram.mode webhook requires http.enabled"))
	}
	if u := strings.TrimSpace(cfg.Telegram.WebhookURL); u != "" {
		if _, err := url.ParseRequestURI(u); err != nil {
			errs = append(errs, fmt.Errorf("telegram.webhook_url: %w", err))
		}
	}

	b := cfg.Board
	if !strings.Contains(b.PageURL, PagePlaceholder) {
		errs = append(errs, fmt.Errorf("board.page_url must contain %s", PagePlaceholder))
	} else if _, err := url.ParseRequestURI(strings.ReplaceAll(b.PageURL, PagePlaceholder, "1")); err != nil {
		errs = append(errs, fmt.Errorf("board.page_url: %w", err))
	}
	if b.LinkBase != "" {
		if u, err := url.Parse(b.LinkBase); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("board.link_base must be an absolute URL: %q", b.LinkBase))
		}
	}
	if b.Pages.From < 0 || b.Pages.To < 0 || (b.Pages.To != 0 && b.Pages.To < b.Pages.From) {
		errs = append(errs, fmt.Errorf("board.pages: invalid range %d..%d", b.Pages.From, b.Pages.To))
	}
	if b.FetchConcurrency < 0 || negative(b.RetryMax) {
		errs = append(errs, errors.New("board.fetch_concurrency and board.retry_max must be >= 0"))
	}

	if cfg.Notifier.Workers < 0 || cfg.Notifier.RatePerSec < 0 || negative(cfg.Notifier.RetryMax) {
		errs = append(errs, errors.New("notifier.workers, rate_per_sec and retry_max must be >= 0"))
	}

	for path, raw := range map[string]string{
		"board.fetch_timeout":   b.FetchTimeout,
		"scan.deadline":         cfg.Scan.Deadline,
		"scan.delivery_timeout": cfg.Scan.DeliveryTimeout,
		"notifier.send_timeout": cfg.Notifier.SendTimeout,
		"storage.busy_timeout":  cfg.Storage.BusyTimeout,
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"http.read_timeout":     cfg.HTTP.ReadTimeout,
		"http.write_timeout":    cfg.HTTP.WriteTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func negative(v *int) bool { return v != nil && *v < 0 }
