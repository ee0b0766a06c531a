package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
)

type MediaHandler struct {
	mediaService *service.MediaService
	log          *zap.Logger
}

func NewMediaHandler(mediaService *service.MediaService, log *zap.Logger) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, log: log.Named("media")}
}

// POST /api/v1/media
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxMediaSize+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Expected a multipart file field")
		return
	}
	defer file.Close()

	url, err := h.mediaService.Upload(r.Context(), file, header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedMedia):
			writeError(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", err.Error())
		case errors.Is(err, service.ErrMediaTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "MEDIA_TOO_LARGE", err.Error())
		default:
			h.log.Error("upload", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// GET /media/{key}
func (h *MediaHandler) Get(w http.ResponseWriter, r *http.Request) {
	obj, err := h.mediaService.Open(r.Context(), r.PathValue("key"))
	if err != nil {
		if errors.Is(err, service.ErrMediaNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Media not found")
			return
		}
		h.log.Error("get media", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Data)
}
