package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// mountLegacy keeps the route names earlier clients of the bot call.
func (s *Server) mountLegacy(r chi.Router) {
	r.Post("/register", s.addSubscriber)
	r.Get("/setWebhook", s.registerWebhook)
	r.Get("/students", s.listSubscribers)
	r.Get("/students-info", s.listSubscribers)
	r.Post("/add-student", s.addSubscriber)
	r.Delete("/delete-student/{id}", s.deleteSubscriber)
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "noticebot", "status": "ok"})
	})
}
