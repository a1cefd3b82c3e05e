package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the enqueue, status-read and trigger endpoints.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/emails", h.Enqueue)
		r.Get("/emails", h.ListEntries)
		r.Get("/emails/{id}", h.GetEntry)
		r.Get("/emails/{id}/audit", h.GetEntryAudit)
		r.Post("/broadcasts", h.Broadcast)
		r.Post("/process", h.Process)
	})

	return r
}
