package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zerverless/studio/internal/session"
	"github.com/zerverless/studio/internal/storage"
	"github.com/zerverless/studio/internal/ws"
)

func NewRouter(sess *session.Session, hub *ws.Server, exports *storage.Store, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(logger))
	r.Use(middleware.Recoverer)

	h := NewHandlers(sess, hub, exports)

	// Health & Info
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.State)

		// Reference image staging
		r.Get("/staging", h.ListStaging)
		r.Post("/staging", h.StageImages)
		r.Delete("/staging", h.ClearStaging)
		r.Delete("/staging/{index}", h.RemoveStagedImage)

		// Jobs API
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Delete("/jobs/{id}", h.DeleteJob)

		// Gallery API
		r.Get("/gallery", h.ListGallery)
		r.Get("/gallery/{id}", h.GetGalleryItem)
		r.Get("/gallery/{id}/image", h.DownloadImage)
		r.Post("/gallery/{id}/upscale", h.Upscale)
		r.Post("/gallery/{id}/export", h.Export)
	})

	// Exported files
	if exports != nil {
		storageHandlers := storage.NewHandlers(exports)
		r.Get("/exports", storageHandlers.List)
		r.Get("/exports/*", storageHandlers.Download)
	}

	// WebSocket
	if hub != nil {
		r.Get("/ws/state", hub.HandleState)
	}

	return r
}
