package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"noticebot/internal/registration"
	"noticebot/internal/storage"
	"noticebot/pkg/logx"
)

// scan runs synchronously. The scan is detached from the request so a
// client hanging up does not leave a half-delivered batch.
func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Scanner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":      "failed",
			"scan_id":     rep.ID,
			"error":       err.Error(),
			"new_notices": rep.NewNotices,
		})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listNotices(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	s.writeNotices(w, r, limit)
}

func (s *Server) latestNotices(w http.ResponseWriter, r *http.Request) {
	s.writeNotices(w, r, latestLimit)
}

func (s *Server) writeNotices(w http.ResponseWriter, r *http.Request, limit int) {
	notices, err := s.deps.Notices.ListRecent(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list notices", err)
		return
	}
	if notices == nil {
		notices = []storage.Notice{}
	}
	writeJSON(w, http.StatusOK, notices)
}

func (s *Server) listSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Registrar.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list subscribers", err)
		return
	}
	if subs == nil {
		subs = []storage.Subscriber{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type subscriberRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	ChatID  any    `json:"chat_id"`
}

// decodeSubscriber accepts JSON or form bodies. chat_id is an alias of
// address and may be a JSON number.
func decodeSubscriber(r *http.Request) (string, string, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var req subscriberRequest
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			return "", "", errors.New("invalid JSON")
		}
		addr := req.Address
		if addr == "" && req.ChatID != nil {
			switch v := req.ChatID.(type) {
			case string:
				addr = v
			case json.Number:
				addr = v.String()
			}
		}
		return req.Name, addr, nil
	}
	if err := r.ParseForm(); err != nil {
		return "", "", errors.New("invalid form body")
	}
	addr := r.PostForm.Get("address")
	if addr == "" {
		addr = r.PostForm.Get("chat_id")
	}
	return r.PostForm.Get("name"), addr, nil
}

func (s *Server) addSubscriber(w http.ResponseWriter, r *http.Request) {
	name, addr, err := decodeSubscriber(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Registrar.Register(r.Context(), name, addr)
	switch {
	case errors.Is(err, registration.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "address (or chat_id) is required")
	case err != nil:
		s.internalError(w, r, "register subscriber", err)
	case res.Created():
		writeJSON(w, http.StatusCreated, res)
	default:
		writeJSON(w, http.StatusConflict, res)
	}
}

func (s *Server) deleteSubscriber(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	res, err := s.deps.Registrar.Remove(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "remove subscriber", err)
		return
	}
	if res.Status == registration.StatusNotFound {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) registerWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.Webhook == nil {
		writeError(w, http.StatusConflict, "telegram is not connected in this mode")
		return
	}
	if strings.TrimSpace(s.opts.WebhookURL) == "" {
		writeError(w, http.StatusBadRequest, "telegram.webhook_url is not configured")
		return
	}
	if err := s.deps.Webhook.SetWebhook(r.Context(), s.opts.WebhookURL, s.opts.WebhookSecret); err != nil {
		s.log.Warn("set webhook failed", logx.String("url", s.opts.WebhookURL), logx.Err(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "url": s.opts.WebhookURL})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op+" failed", logx.String("request_id", requestID(r.Context())), logx.Err(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
