package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/internal/storage"
	"go.uber.org/zap"
)

const (
	maxAvatarBytes     = 5 << 20
	maxMultipartMemory = 8 << 20
	formFieldFile      = "file"
)

// AvatarStore is the avatar use-case surface the HTTP layer depends on.
type AvatarStore interface {
	Upload(ctx context.Context, ownerID string, data []byte) (string, error)
	Open(ctx context.Context, path string) (storage.Object, error)
}

// AvatarHandler accepts avatar uploads and serves them back.
type AvatarHandler struct {
	avatars AvatarStore
	logger  *zap.Logger
}

func NewAvatarHandler(avatars AvatarStore, logger *zap.Logger) *AvatarHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvatarHandler{avatars: avatars, logger: logger}
}

// AvatarRouter registers avatar routes. Uploading requires auth, reading does not.
func AvatarRouter(r chi.Router, handler *AvatarHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Post("/", handler.Upload)
	r.Get("/{path}", handler.Download)
}

type UploadResponse struct {
	Path string `json:"path"`
}

// Upload stores the multipart "file" field for the caller and returns its
// storage path.
func (h *AvatarHandler) Upload(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartMemory)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errUploadTooLarge.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile(formFieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar file is required")
		return
	}
	data, err := readFileLimited(file, maxAvatarBytes)
	_ = file.Close()
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := h.avatars.Upload(r.Context(), principal.User.ID, data)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUnsupportedAvatar), errors.Is(err, services.ErrEmptyAvatar):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("store avatar failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to store avatar")
		}
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{Path: path})
}

// Download streams a stored avatar with its content type.
func (h *AvatarHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "path")

	obj, err := h.avatars.Open(r.Context(), path)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAvatarPath), errors.Is(err, storage.ErrObjectNotFound):
			writeError(w, http.StatusNotFound, "avatar not found")
		default:
			h.logger.Error("open avatar failed", zap.String("path", path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load avatar")
		}
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		h.logger.Warn("stream avatar interrupted", zap.String("path", path), zap.Error(err))
	}
}
