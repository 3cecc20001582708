// Package registration enrolls and removes subscribers.
//
// Two entry points exist: direct registration from the admin API, and the
// inbound callback driven by messages the bot receives. Only a fresh inbound
// registration triggers the welcome message and the admin alert.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"noticebot/internal/notifier"
	"noticebot/internal/storage"
	"noticebot/internal/transport"
	"noticebot/pkg/logx"
)

var ErrInvalidAddress = errors.New("registration: address is required")

const (
	StatusRegistered    = "registered"
	StatusAlreadyExists = "already exists"
	StatusDeleted       = "deleted"
	StatusNotFound      = "not found"
)

// DefaultName is used when the provider does not supply a display name.
const DefaultName = "Unknown"

type Store interface {
	InsertIfAbsent(ctx context.Context, name, address string) (storage.Subscriber, bool, error)
	DeleteByID(ctx context.Context, id int64) (bool, error)
	ListAll(ctx context.Context) ([]storage.Subscriber, error)
}

// Messenger sends a single message; *notifier.Notifier satisfies it.
type Messenger interface {
	Send(ctx context.Context, address, text string) error
}

// Observer is told about every registration attempt.
type Observer interface {
	ObserveRegistration(source, status string)
}

type Result struct {
	Status     string             `json:"status"`
	Subscriber storage.Subscriber `json:"subscriber"`
}

func (r Result) Created() bool { return r.Status == StatusRegistered }

type RemoveResult struct {
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// Event is an inbound registration request.
type Event struct {
	Name    string
	Address string
}

type Config struct {
	AdminAddress string
	WelcomeText  string
}

type Handler struct {
	store     Store
	messenger Messenger
	observer  Observer
	log       logx.Logger

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, store Store, messenger Messenger, log logx.Logger) *Handler {
	return &Handler{store: store, messenger: messenger, cfg: cfg, log: log}
}

func (h *Handler) SetObserver(o Observer) { h.observer = o }

// Apply replaces the admin address and welcome text.
func (h *Handler) Apply(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *Handler) config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Register enrolls address directly. No message is sent.
func (h *Handler) Register(ctx context.Context, name, address string) (Result, error) {
	res, err := h.insert(ctx, name, address)
	h.observe("direct", res, err)
	return res, err
}

// HandleCallback enrolls the sender of an inbound message. A fresh
// registration is greeted, and the admin is alerted when configured.
// Notification failures are logged and do not fail the registration.
func (h *Handler) HandleCallback(ctx context.Context, ev Event) (Result, error) {
	res, err := h.insert(ctx, ev.Name, ev.Address)
	h.observe("callback", res, err)
	if err != nil || !res.Created() {
		return res, err
	}

	sub := res.Subscriber
	cfg := h.config()
	h.log.Info("subscriber registered", logx.String("name", sub.Name), logx.String("address", sub.Address))
	if h.messenger == nil {
		return res, nil
	}
	if err := h.messenger.Send(ctx, sub.Address, notifier.FormatWelcome(cfg.WelcomeText)); err != nil {
		h.log.Warn("welcome message failed", logx.String("address", sub.Address), logx.Err(err))
	}
	if admin := strings.TrimSpace(cfg.AdminAddress); admin != "" {
		if err := h.messenger.Send(ctx, admin, notifier.FormatAdminAlert(sub.Name, sub.Address)); err != nil {
			h.log.Warn("admin alert failed", logx.String("admin", admin), logx.Err(err))
		}
	}
	return res, nil
}

func (h *Handler) insert(ctx context.Context, name, address string) (Result, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Result{}, ErrInvalidAddress
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	sub, created, err := h.store.InsertIfAbsent(ctx, name, address)
	if err != nil {
		return Result{}, fmt.Errorf("register %s: %w", address, err)
	}
	if !created {
		return Result{Status: StatusAlreadyExists, Subscriber: sub}, nil
	}
	return Result{Status: StatusRegistered, Subscriber: sub}, nil
}

func (h *Handler) observe(source string, res Result, err error) {
	if h.observer == nil {
		return
	}
	status := res.Status
	switch {
	case errors.Is(err, ErrInvalidAddress):
		status = "invalid"
	case err != nil:
		status = "error"
	}
	h.observer.ObserveRegistration(source, status)
}

func (h *Handler) Remove(ctx context.Context, id int64) (RemoveResult, error) {
	ok, err := h.store.DeleteByID(ctx, id)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("remove subscriber %d: %w", id, err)
	}
	if !ok {
		return RemoveResult{Status: StatusNotFound, ID: id}, nil
	}
	h.log.Info("subscriber removed", logx.Int64("id", id))
	return RemoveResult{Status: StatusDeleted, ID: id}, nil
}

// List returns subscribers, most recent first.
func (h *Handler) List(ctx context.Context) ([]storage.Subscriber, error) {
	return h.store.ListAll(ctx)
}

// EventFromUpdate extracts a registration request from an inbound update.
// It reports false when the update carries no chat.
func EventFromUpdate(up transport.Update) (Event, bool) {
	m := up.Message
	if m == nil || m.ChatID == 0 {
		return Event{}, false
	}
	name := strings.TrimSpace(m.FirstName)
	if name == "" {
		name = strings.TrimSpace(m.ChatTitle)
	}
	if name == "" {
		name = DefaultName
	}
	return Event{Name: name, Address: strconv.FormatInt(m.ChatID, 10)}, true
}
