package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	rtsup "noticebot/internal/runtime/supervisor"
	"noticebot/pkg/logx"
)

type ServiceConfig struct {
	Addr         string
	ReadTimeout  time.Duration // 0 means 15s
	WriteTimeout time.Duration // 0 means 5m; must cover a synchronous POST /scan
	IdleTimeout  time.Duration // 0 means 60s
}

// Service owns the listener for a handler and restarts it if serving fails.
type Service struct {
	mu      sync.Mutex
	cfg     ServiceConfig
	handler http.Handler
	log     logx.Logger

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor

	ready chan struct{}
	once  sync.Once
}

func NewService(cfg ServiceConfig, handler http.Handler, log logx.Logger) *Service {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return &Service{cfg: cfg, handler: handler, log: log, ready: make(chan struct{})}
}

// Start is idempotent. The first bind error is returned; later serve
// failures are retried with backoff.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.ln = ln
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("http.serve", 500*time.Millisecond, 10*time.Second, s.serveOnce)
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", s.cfg.Addr)
		if err != nil {
			s.mu.Unlock()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.ln = ln
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	s.once.Do(func() { close(s.ready) })
	err := srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	s.mu.Unlock()

	if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
		return nil
	}
	s.log.Warn("http api stopped unexpectedly", logx.Err(err))
	return err
}

// Ready is closed once the server first accepts connections.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// Stop shuts the server down gracefully within ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil {
		err = werr
	}
	s.mu.Lock()
	s.ln = nil
	s.srv = nil
	s.mu.Unlock()
	s.log.Info("http api stopped")
	return err
}
