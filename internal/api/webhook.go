package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	tele "gopkg.in/telebot.v4"

	"noticebot/internal/registration"
	"noticebot/internal/transport/telegram/adapter"
	"noticebot/pkg/logx"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// webhook accepts a Telegram update and treats its sender as a registration.
// Telegram only needs a 2xx, so every decodable request is acknowledged;
// malformed or irrelevant updates are logged and dropped.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.opts.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.WebhookSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "bad webhook secret")
			return
		}
	}

	var u tele.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
		s.log.Warn("webhook: undecodable update", logx.Err(err))
		writeOK(w)
		return
	}
	up, ok := adapter.ToUpdate(u)
	if !ok {
		s.log.Debug("webhook: update without message ignored", logx.Int("update_id", u.ID))
		writeOK(w)
		return
	}
	ev, ok := registration.EventFromUpdate(up)
	if !ok {
		writeOK(w)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.WebhookTimeout)
	defer cancel()
	if _, err := s.deps.Registrar.HandleCallback(ctx, ev); err != nil {
		s.log.Warn("webhook: registration failed", logx.String("address", ev.Address), logx.Err(err))
	}
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
