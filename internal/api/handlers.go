package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zerverless/studio/internal/gallery"
	"github.com/zerverless/studio/internal/job"
	"github.com/zerverless/studio/internal/session"
	"github.com/zerverless/studio/internal/staging"
	"github.com/zerverless/studio/internal/storage"
	"github.com/zerverless/studio/internal/ws"
)

// maxBodyBytes bounds request bodies carrying data-URL images.
const maxBodyBytes = 64 << 20

var startTime = time.Now()

type Handlers struct {
	sess    *session.Session
	hub     *ws.Server
	exports *storage.Store
}

func NewHandlers(sess *session.Session, hub *ws.Server, exports *storage.Store) *Handlers {
	return &Handlers{sess: sess, hub: hub, exports: exports}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	pending, processing, failed := h.sess.Queue.Stats()
	clients := 0
	if h.hub != nil {
		clients = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"processing":     h.sess.Processing(),
		"jobs": map[string]int{
			"pending":    pending,
			"processing": processing,
			"failed":     failed,
		},
		"gallery": map[string]int{
			"items": h.sess.Gallery.Len(),
		},
		"staging": map[string]int{
			"images": h.sess.Staging.Len(),
		},
		"clients": clients,
	})
}

func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Snapshot())
}

// Staging

type StageRequest struct {
	Images []string `json:"images"`
}

func (h *Handlers) ListStaging(w http.ResponseWriter, r *http.Request) {
	images := h.sess.Staging.Images()
	writeJSON(w, http.StatusOK, map[string]any{
		"images": images,
		"count":  len(images),
		"max":    staging.MaxImages,
	})
}

func (h *Handlers) StageImages(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Images) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "images are required"})
		return
	}

	accepted, dropped, err := h.sess.StageImages(req.Images...)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"accepted": accepted,
		"dropped":  dropped,
		"count":    h.sess.Staging.Len(),
	}
	if dropped > 0 {
		resp["warning"] = "only " + strconv.Itoa(staging.MaxImages) + " reference images are kept; " +
			strconv.Itoa(dropped) + " dropped"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) RemoveStagedImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "index must be an integer"})
		return
	}
	if err := h.sess.RemoveStagedImage(index); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ClearStaging(w http.ResponseWriter, r *http.Request) {
	h.sess.ClearStaging()
	w.WriteHeader(http.StatusNoContent)
}

// Jobs

type JobRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	j, err := h.sess.Enqueue(req.Prompt, req.AspectRatio)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.sess.Queue.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, job.ErrJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	jobs := h.sess.Queue.List()
	if status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": len(jobs),
	})
}

func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.RemoveJob(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Gallery

func (h *Handlers) ListGallery(w http.ResponseWriter, r *http.Request) {
	items := h.sess.Gallery.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (h *Handlers) GetGalleryItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.sess.Select(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) Upscale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sess.UpscaleAsync(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"item_id": id,
		"status":  "upscaling",
	})
}

func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "export is not configured"})
		return
	}
	item, ok := h.sess.Gallery.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, gallery.ErrItemNotFound)
		return
	}

	path, err := h.exports.Export(item)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"item_id": item.ID,
		"path":    path,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, job.ErrEmptyPrompt),
		errors.Is(err, job.ErrInvalidAspectRatio),
		errors.Is(err, session.ErrInvalidImage):
		status = http.StatusBadRequest
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, gallery.ErrItemNotFound),
		errors.Is(err, staging.ErrIndexOutOfRange):
		status = http.StatusNotFound
	case errors.Is(err, job.ErrJobProcessing):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
