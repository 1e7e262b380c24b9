package handler

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/localhub/internal/blob"
	"github.com/localhub/internal/logger"
)

// multipartOverhead: запас на заголовки multipart сверх размера самого файла.
const multipartOverhead = 1 << 20

// MediaHandler загружает и отдаёт вложения сообщений.
type MediaHandler struct {
	store *blob.Store
}

func NewMediaHandler(store *blob.Store) *MediaHandler {
	return &MediaHandler{store: store}
}

// Upload: POST /api/media (multipart, поле "file"). Ответ {url, type} используется в send/edit;
// прикрепить блоб может только тот, кто его загрузил.
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	uploader, ok := actor(w, r)
	if !ok {
		return
	}
	if h.store.MaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxSize+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file field required")
		return
	}
	defer file.Close()

	ref, err := h.store.Put(r.Context(), uploader.Key(), header.Filename, file)
	switch {
	case errors.Is(err, blob.ErrTypeNotAllowed):
		writeError(w, http.StatusUnsupportedMediaType, "only images and videos are allowed")
		return
	case errors.Is(err, blob.ErrContentMismatch):
		writeError(w, http.StatusBadRequest, "file content does not match its extension")
		return
	case errors.Is(err, blob.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	case err != nil:
		logger.Errorf("media upload %q: %v", header.Filename, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// Serve: GET /api/media/{filename}.
func (h *MediaHandler) Serve(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if _, ok := blob.TypeOf(filename); !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if err := h.store.Serve(w, filename); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			w.Header().Del("Cache-Control")
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		logger.Errorf("media serve %s: %v", filename, err)
	}
}
