package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

// Notifier is safe for concurrent use; Apply may run while deliveries are in flight.
type Notifier struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender   transport.Sender
	observer Observer
	log      logx.Logger
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Notifier {
	n := &Notifier{sender: sender, log: log}
	n.Apply(cfg)
	return n
}

// SetObserver installs a hook called after every Send.
func (n *Notifier) SetObserver(o Observer) {
	n.mu.Lock()
	n.observer = o
	n.mu.Unlock()
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return cfg
}

// Apply swaps the config and rebuilds the limiter.
func (n *Notifier) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (n *Notifier) Config() Config {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg
}

// Send delivers text to address with Markdown formatting and link previews off.
func (n *Notifier) Send(ctx context.Context, address, text string) error {
	n.mu.Lock()
	lim := n.limiter
	cfg := n.cfg
	obs := n.observer
	n.mu.Unlock()

	start := time.Now()
	err := n.send(ctx, lim, cfg, address, text)
	if obs != nil {
		obs.ObserveSend(err, time.Since(start))
	}
	return err
}

func (n *Notifier) send(ctx context.Context, lim *rate.Limiter, cfg Config, address, text string) error {
	opt := &transport.SendOptions{ParseMode: ParseMode, DisablePreview: true}

	var last error
	for i := 0; i <= cfg.RetryMax; i++ {
		if err := lim.Wait(ctx); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if cfg.SendTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		}
		err := n.sender.SendText(actx, address, text, opt)
		cancel()
		if err == nil {
			return nil
		}
		last = err
		if i == cfg.RetryMax || transport.IsPermanent(err) || ctx.Err() != nil {
			break
		}

		delay := cfg.RetryBase + time.Duration(i)*cfg.RetryBase/2
		if ra, ok := transport.RetryAfter(err); ok && ra > delay {
			delay = ra
		}
		n.log.Debug("send retry scheduled", logx.String("to", address), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return last
		case <-tmr.C:
		}
	}
	return last
}

// Deliver sends every message, at most cfg.Workers at a time, and reports
// per-recipient outcomes. It never fails as a whole.
func (n *Notifier) Deliver(ctx context.Context, msgs []Message) Report {
	start := time.Now()
	rep := Report{Total: len(msgs)}
	if len(msgs) == 0 {
		return rep
	}

	workers := min(n.Config().Workers, len(msgs))
	errs := make([]error, len(msgs))
	idx := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := range idx {
				errs[i] = n.safeSend(ctx, w, msgs[i])
			}
		}(w)
	}
	for i := range msgs {
		idx <- i
	}
	close(idx)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			rep.Sent++
			continue
		}
		rep.Failed++
		rep.Failures = append(rep.Failures, Failure{Address: msgs[i].Address, Error: err.Error()})
		n.log.Warn("send failed", logx.String("to", msgs[i].Address), logx.Err(err))
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("total", rep.Total),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	}
	if rep.Failed > 0 {
		n.log.Warn("delivery finished with failures", fields...)
	} else {
		n.log.Info("delivery finished", fields...)
	}
	return rep
}

func (n *Notifier) safeSend(ctx context.Context, worker int, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("panic in delivery worker", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = &panicError{v: r}
		}
	}()
	return n.Send(ctx, m.Address, m.Text)
}

type panicError struct{ v any }

func (e *panicError) Error() string { return fmt.Sprintf("panic during send: %v", e.v) }
