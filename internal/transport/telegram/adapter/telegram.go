package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"noticebot/internal/runtime/supervisor"
	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org (tests, local bot API servers).
	APIURL string
	// Offline skips the getMe call at construction.
	Offline    bool
	HTTPClient *http.Client
}

// Adapter is the Telegram transport: outbound sends, inbound long polling,
// and webhook registration.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- transport.Update
	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	droppedUpdates atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	a := &Adapter{cfg: cfg, log: log}

	settings := tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Offline: cfg.Offline,
		Client:  cfg.HTTPClient,
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	a.bot = b

	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	forward := func(c tele.Context) error {
		if up, ok := ToUpdate(c.Update()); ok {
			a.sendUpdate(up)
		}
		return nil
	}
	for _, ev := range []string{tele.OnText, tele.OnMedia, tele.OnContact, tele.OnLocation, tele.OnVenue, tele.OnChannelPost} {
		a.bot.Handle(ev, forward)
	}
}

// ToUpdate reduces a raw Telegram update to a transport.Update.
// It reports false for updates that carry neither a message nor a channel post.
func ToUpdate(u tele.Update) (transport.Update, bool) {
	kind := transport.UpdateMessage
	m := u.Message
	if m == nil {
		m = u.ChannelPost
		kind = transport.UpdateChannelPost
	}
	if m == nil || m.Chat == nil {
		return transport.Update{}, false
	}
	msg := &transport.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ChatType:     string(m.Chat.Type),
		ChatTitle:    m.Chat.Title,
		ChatUsername: m.Chat.Username,
		FirstName:    m.Chat.FirstName,
		LastName:     m.Chat.LastName,
		Text:         m.Text,
	}
	if m.Sender != nil {
		msg.FromUsername = m.Sender.Username
		if msg.FirstName == "" {
			msg.FirstName = m.Sender.FirstName
		}
	}
	return transport.Update{Kind: kind, Message: msg}, true
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start begins long polling and forwards updates to out.
// Any webhook registered for the bot is removed first, since Telegram
// refuses getUpdates while one is set.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	if err := a.bot.RemoveWebhook(); err != nil {
		a.log.Warn("remove webhook before polling failed", logx.Err(err))
	}

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.droppedUpdates.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until bot.Stop; an unexpected return while the
	// context is alive is treated as a failure and restarted.
	sup.GoRestart("telebot.poll", 500*time.Millisecond, 10*time.Second, func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// Keep shutdown snappy even if a getUpdates long poll is still open.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

// SetWebhook registers publicURL with Telegram. secret, when set, is echoed
// back by Telegram in the X-Telegram-Bot-Api-Secret-Token header.
func (a *Adapter) SetWebhook(ctx context.Context, publicURL, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(publicURL) == "" {
		return errors.New("webhook url is empty")
	}
	return a.bot.SetWebhook(&tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: publicURL},
		SecretToken:    secret,
		AllowedUpdates: []string{"message", "channel_post"},
	})
}

// chatAddress lets telebot send to a numeric id or an "@channel" handle alike.
type chatAddress string

func (c chatAddress) Recipient() string { return string(c) }

const telegramTextLimit = 4000

// SendText sends text to address, split into Telegram-sized chunks.
func (a *Adapter) SendText(ctx context.Context, address, text string, opt *transport.SendOptions) error {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return transport.Permanent(errors.New("empty address"))
	}

	for _, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := a.bot.Send(chatAddress(address), chunk, &tele.SendOptions{
			ParseMode:             tele.ParseMode(opt.ParseMode),
			DisableWebPagePreview: opt.DisablePreview,
		})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

// classify maps telebot errors onto transport error kinds.
func classify(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &transport.RetryAfterError{After: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	var fep *tele.FloodError
	if errors.As(err, &fep) && fep != nil {
		return &transport.RetryAfterError{After: time.Duration(fep.RetryAfter) * time.Second, Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te != nil && (te.Code == http.StatusBadRequest || te.Code == http.StatusForbidden || te.Code == http.StatusUnauthorized) {
		return transport.Permanent(err)
	}
	return err
}

// splitTelegramText splits long text into chunks of at most limit runes,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
