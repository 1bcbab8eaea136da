package api

import (
	"net/http"
)

// ServeImage handles GET /api/records/{id}/image.
//
//	@Summary		Serve the cached image of a record
//	@Tags			records
//	@Produce		png
//	@Param			id	path	int	true	"Record id"
//	@Success		200	"Image bytes"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{id}/image [get]
func (h *Handler) ServeImage(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.ImagePath(r.Context(), id)
	if err != nil {
		writeServiceError(w, "serve image", err)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	http.ServeFile(w, r, p)
}
