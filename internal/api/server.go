// Package api exposes the admin and reporting HTTP surface and the Telegram
// webhook endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"noticebot/internal/registration"
	"noticebot/internal/scan"
	"noticebot/internal/storage"
	"noticebot/pkg/logx"
)

type Scanner interface {
	Run(ctx context.Context) (scan.Report, error)
}

type NoticeLister interface {
	ListRecent(ctx context.Context, limit int) ([]storage.Notice, error)
}

type Registrar interface {
	Register(ctx context.Context, name, address string) (registration.Result, error)
	HandleCallback(ctx context.Context, ev registration.Event) (registration.Result, error)
	Remove(ctx context.Context, id int64) (registration.RemoveResult, error)
	List(ctx context.Context) ([]storage.Subscriber, error)
}

type WebhookRegistrar interface {
	SetWebhook(ctx context.Context, publicURL, secret string) error
}

type HTTPObserver interface {
	ObserveHTTP(method, route string, code int, took time.Duration)
}

// Deps are the domain services behind the routes. Webhook may be nil when
// the bot runs without a Telegram connection.
type Deps struct {
	Scanner   Scanner
	Notices   NoticeLister
	Registrar Registrar
	Webhook   WebhookRegistrar
	Ping      func(ctx context.Context) error
	Status    func() any
}

type Options struct {
	APIKey         string
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration // bounds one inbound update; 0 means 30s
	Pprof          bool
	Metrics        http.Handler
	Observer       HTTPObserver
}

const latestLimit = 10

// Server wires HTTP handlers to the domain services.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	log    logx.Logger
}

func NewServer(deps Deps, opts Options, log logx.Logger) *Server {
	if opts.WebhookTimeout <= 0 {
		opts.WebhookTimeout = 30 * time.Second
	}
	s := &Server{deps: deps, opts: opts, log: log}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	if opts.Observer != nil {
		r.Use(metricsMiddleware(opts.Observer))
	}

	// Open routes: probes, scraping and Telegram's own callback.
	r.Get("/healthz", s.healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Post("/webhook", s.webhook)

	r.Group(func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/status", s.status)
		r.Get("/scan", s.scan)
		r.Post("/scan", s.scan)
		r.Get("/notices", s.listNotices)
		r.Get("/latest-notices", s.latestNotices)
		r.Route("/subscribers", func(r chi.Router) {
			r.Get("/", s.listSubscribers)
			r.Post("/", s.addSubscriber)
			r.Delete("/{id}", s.deleteSubscriber)
		})
		r.Post("/webhook/register", s.registerWebhook)
		s.mountLegacy(r)
		if opts.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}
