package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/internal/store"
	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

// ProfileStore is the profile use-case surface the HTTP layer depends on.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (types.Profile, error)
	Upsert(ctx context.Context, userID string, update types.ProfileUpdate) (types.Profile, error)
}

// ProfileHandler serves the signed-in user's profile row.
type ProfileHandler struct {
	profiles ProfileStore
	logger   *zap.Logger
}

func NewProfileHandler(profiles ProfileStore, logger *zap.Logger) *ProfileHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// ProfileRouter registers profile routes. Every route requires auth.
func ProfileRouter(r chi.Router, handler *ProfileHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/me", handler.GetMine)
	r.Put("/me", handler.PutMine)
}

// GetMine returns the caller's profile, or 404 when none has been saved.
func (h *ProfileHandler) GetMine(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	profile, err := h.profiles.Get(r.Context(), principal.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("load profile failed", zap.String("user_id", principal.User.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// PutMine upserts the caller's profile.
func (h *ProfileHandler) PutMine(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var update types.ProfileUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	saved, err := h.profiles.Upsert(r.Context(), principal.User.ID, update)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrForeignProfileID), errors.Is(err, services.ErrForeignAvatar):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, services.ErrInvalidProfile):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("save profile failed", zap.String("user_id", principal.User.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save profile")
		}
		return
	}

	writeJSON(w, http.StatusOK, saved)
}
