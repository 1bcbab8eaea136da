package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/roster/internal/recordservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *recordservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *recordservice.Service) *Handler {
	return &Handler{svc: svc}
}

// recordID parses the {id} URL parameter, writing a 400 when it is not a
// positive integer.
func recordID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid record id"))
		return 0, false
	}
	return id, true
}

// ListRecords handles GET /api/records.
//
//	@Summary		List all records in insertion order
//	@Tags			records
//	@Produce		json
//	@Success		200	{object}	RecordListResponse
//	@Security		BearerAuth
//	@Router			/records [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records := h.svc.List(r.Context())
	writeJSON(w, http.StatusOK, RecordListResponse{
		Records: records,
		Total:   len(records),
	})
}

// GetRecord handles GET /api/records/{id}.
//
//	@Summary		Get a single record
//	@Tags			records
//	@Produce		json
//	@Param			id	path		int	true	"Record id"
//	@Success		200	{object}	Record
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CreateRecord handles POST /api/records. The image is fetched in the
// background; the response carries is_image_downloading=true when a fetch
// was scheduled.
//
//	@Summary		Create a new record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRecordRequest	true	"Record to create"
//	@Success		201		{object}	Record
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records [post]
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	rec, err := h.svc.Add(r.Context(), req)
	if err != nil {
		writeServiceError(w, "create record", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// UpdateRecord handles PATCH /api/records/{id}.
//
//	@Summary		Change fields of a record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			id		path		int					true	"Record id"
//	@Param			body	body		UpdateRecordRequest	true	"Fields to change"
//	@Success		200		{object}	Record
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id} [patch]
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req UpdateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	rec, err := h.svc.Update(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, "update record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteRecord handles DELETE /api/records/{id}. Deleting an unknown id
// succeeds.
//
//	@Summary		Delete a record and its cached image
//	@Tags			records
//	@Param			id	path	int	true	"Record id"
//	@Success		204	"Record deleted"
//	@Security		BearerAuth
//	@Router			/records/{id} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, "delete record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefetchImage handles POST /api/records/{id}/fetch.
//
//	@Summary		Drop the cached image and download it again
//	@Tags			records
//	@Produce		json
//	@Param			id	path		int	true	"Record id"
//	@Success		202	{object}	Record
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/fetch [post]
func (h *Handler) RefetchImage(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.Refetch(r.Context(), id)
	if err != nil {
		writeServiceError(w, "refetch image", err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// CheckStale handles GET /api/records/{id}/stale.
//
//	@Summary		Compare the cached image size with the remote source
//	@Tags			records
//	@Produce		json
//	@Param			id	path		int	true	"Record id"
//	@Success		200	{object}	StaleResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/stale [get]
func (h *Handler) CheckStale(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	stale, err := h.svc.CheckStale(r.Context(), id)
	if err != nil {
		writeServiceError(w, "check stale", err)
		return
	}
	writeJSON(w, http.StatusOK, StaleResponse{ID: id, Stale: stale})
}

// CacheInfo handles GET /api/cache.
//
//	@Summary		Cache directory summary
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	CacheInfoResponse
//	@Security		BearerAuth
//	@Router			/cache [get]
func (h *Handler) CacheInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheInfo(r.Context()))
}

// CacheEntries handles GET /api/cache/entries.
//
//	@Summary		Cached files with size and digest
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	CacheEntriesResponse
//	@Security		BearerAuth
//	@Router			/cache/entries [get]
func (h *Handler) CacheEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.CacheEntries(r.Context())
	if err != nil {
		writeServiceError(w, "cache entries", err)
		return
	}
	writeJSON(w, http.StatusOK, CacheEntriesResponse{Entries: entries})
}

// ClearCache handles DELETE /api/cache.
//
//	@Summary		Remove every cached image
//	@Tags			cache
//	@Success		204	"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeServiceError(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
