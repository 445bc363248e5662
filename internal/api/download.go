package api

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/imagedata"
	"github.com/zerverless/studio/internal/storage"
)

// DownloadImage streams a gallery item's decoded image as an attachment.
func (h *Handlers) DownloadImage(w http.ResponseWriter, r *http.Request) {
	item, ok := h.sess.Gallery.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, gallery.ErrItemNotFound)
		return
	}

	mimeType, data, err := imagedata.Decode(item.Src)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{
		"filename": storage.FileName(item, mimeType),
	})
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", disposition)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
