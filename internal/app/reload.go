package app

import (
	"context"
	"strings"

	"noticebot/internal/config"
	"noticebot/pkg/logx"
)

// reloadLoop applies published configs to the live components. Sections
// that own a connection or a listener are only reported; they need a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(last, next)
			last = next
		}
	}
}

func (a *App) apply(old, cfg *config.Config) {
	changed := config.Changes(old, cfg)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", logx.String("changed", strings.Join(changed, ",")))

	// Logging first so the rest of the reload is reported at the new level.
	if config.Has(changed, "logging") {
		a.logs.Apply(mapLoggingConfig(cfg))
	}

	if config.Has(changed, "notifier") {
		if ncfg, err := mapNotifierConfig(cfg); err != nil {
			a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		} else {
			a.notif.Apply(ncfg)
		}
	}

	if config.Has(changed, "board") {
		if b, err := buildBoard(cfg, a.log.Component("board")); err != nil {
			a.log.Warn("invalid board config; keeping previous", logx.Err(err))
		} else {
			a.source.Store(b)
		}
	}

	if config.Has(changed, "board") || config.Has(changed, "scan") {
		if sc, err := mapScanConfig(cfg); err != nil {
			a.log.Warn("invalid scan config; keeping previous", logx.Err(err))
		} else {
			a.scanner.Apply(sc)
		}
	}

	if config.Has(changed, "scan") {
		if err := a.sched.Apply(mapSchedulerConfig(cfg)); err != nil {
			a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
		}
	}

	if config.Has(changed, "telegram") {
		a.reg.Apply(mapRegistrationConfig(cfg))
		if telegramRestartNeeded(old.Telegram, cfg.Telegram) {
			a.log.Warn("telegram connection settings changed; restart required for changes to take effect")
		}
	}
	for _, s := range []string{"storage", "http"} {
		if config.Has(changed, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(changed, ",")))
}

func telegramRestartNeeded(old, cur config.TelegramConfig) bool {
	return old.Token != cur.Token ||
		old.TelegramMode() != cur.TelegramMode() ||
		old.PollTimeout != cur.PollTimeout ||
		old.WebhookURL != cur.WebhookURL ||
		old.WebhookSecret != cur.WebhookSecret
}
