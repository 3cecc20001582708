package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"noticebot/pkg/logx"
)

func New(name string, cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{name: name, job: job, log: log, cfg: cfg}
}

// Validate reports whether cfg could be applied.
func Validate(cfg Config) error {
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		return nil
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	_, err = spec.Schedule()
	return err
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Start begins triggering. ctx bounds every run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	if err := s.startLocked(); err != nil {
		s.cancel()
		s.c = nil
		return err
	}
	return nil
}

func (s *Service) startLocked() error {
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	s.loc = loc
	s.c = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("job", s.name), logx.String("schedule", s.cfg.Schedule), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) scheduleLocked() error {
	s.entryID = 0
	if strings.TrimSpace(s.cfg.Schedule) == "" {
		s.log.Info("no schedule configured; scheduled runs disabled", logx.String("job", s.name))
		return nil
	}
	spec, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := spec.Schedule()
	if err != nil {
		return err
	}
	s.entryID = s.c.Schedule(sched, cron.FuncJob(s.run))
	return nil
}

// Apply swaps the schedule. A timezone change rebuilds the cron instance;
// a run already in flight is left to finish.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.c == nil || old == cfg {
		return nil
	}
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.c.Stop()
		return s.startLocked()
	}
	if s.entryID != 0 {
		s.c.Remove(s.entryID)
	}
	if err := s.scheduleLocked(); err != nil {
		return err
	}
	s.log.Info("schedule updated", logx.String("job", s.name), logx.String("schedule", cfg.Schedule))
	return nil
}

func (s *Service) run() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := s.job(ctx)
	took := time.Since(start)

	s.runs.Add(1)
	s.lastMu.Lock()
	s.lastRun = start
	s.lastDur = took
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.lastMu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		s.failed.Add(1)
		s.log.Warn("scheduled run failed", logx.String("job", s.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("scheduled run finished", logx.String("job", s.name), logx.Duration("took", took))
}

// Stop halts triggering and waits for an in-flight run until ctx is done,
// then cancels it.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduled run still in flight at shutdown; cancelling", logx.String("job", s.name))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped", logx.String("job", s.name), logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	id := s.entryID
	loc := s.loc
	s.mu.Unlock()

	if loc == nil {
		loc = time.Local
	}
	snap := Snapshot{
		Name:     s.name,
		Schedule: cfg.Schedule,
		Timezone: loc.String(),
		Runs:     s.runs.Load(),
		Failed:   s.failed.Load(),
	}
	if c != nil && id != 0 {
		e := c.Entry(id)
		snap.Enabled = true
		snap.Next = e.Next
		snap.Prev = e.Prev
	}
	s.lastMu.Lock()
	snap.LastRun = s.lastRun
	snap.LastErr = s.lastErr
	snap.LastTook = s.lastDur
	s.lastMu.Unlock()
	return snap
}

// cronLogger routes cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
