package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/trunov/pdfpress/internal/config"
	"github.com/trunov/pdfpress/internal/transport/handler"
)

// NewRouter wires the HTTP surface. Every file and conversion route sits
// behind basic auth; a bad credential is rejected with a 401 challenge
// before any file I/O happens.
func NewRouter(h *handler.Handler, auth config.AuthConfig) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.Healthz)
	r.Get("/queue-stats", h.QueueStats)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth("pdfpress", map[string]string{auth.User: auth.Password}))

		r.Post("/queue-job", h.QueueJob)
		r.Post("/convert", h.ConvertSync)
		r.Post("/convert-in-shared-dir", h.ConvertStaged)
		r.Get("/check-pdf/{filename}", h.CheckPDF)
		r.Get("/files/{filename}", h.GetFile)
		r.Post("/delete-file", h.DeleteFile)
	})

	return r
}
