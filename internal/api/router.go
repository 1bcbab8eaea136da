package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/roster/internal/recordservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recordservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Records CRUD.
	r.Get("/records", h.ListRecords)
	r.Post("/records", h.CreateRecord)
	r.Route("/records/{id}", func(r chi.Router) {
		r.Get("/", h.GetRecord)
		r.Patch("/", h.UpdateRecord)
		r.Delete("/", h.DeleteRecord)
		r.Post("/fetch", h.RefetchImage)
		r.Get("/stale", h.CheckStale)
		r.Get("/image", h.ServeImage)
	})

	// Cache.
	r.Get("/cache", h.CacheInfo)
	r.Get("/cache/entries", h.CacheEntries)
	r.Delete("/cache", h.ClearCache)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
