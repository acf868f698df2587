package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/profilekit/accounts/internal/services"
	"github.com/profilekit/accounts/types"
	"go.uber.org/zap"
)

const maxJSONBodyBytes = 1 << 20

// Authenticator is the auth use-case surface the HTTP layer depends on.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (types.Session, error)
	SignIn(ctx context.Context, email, password string) (types.Session, error)
	Authenticate(ctx context.Context, token string) (services.Principal, error)
	SignOut(ctx context.Context, sessionID string) error
}

// AuthHandler provides session endpoints.
type AuthHandler struct {
	auth   Authenticator
	logger *zap.Logger
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(auth Authenticator, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/signup", handler.SignUp)
	r.Post("/token", handler.Token)
	r.With(handler.RequireAuth).Get("/session", handler.Session)
	r.With(handler.RequireAuth).Post("/logout", handler.Logout)
}

// RequireAuth enforces bearer authentication and injects the principal into context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		principal, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, services.ErrUnauthenticated) {
				h.logger.Error("authenticate request failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "failed to authenticate")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// SignUp creates a new user and returns its first session.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.auth.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, services.ErrInvalidSignUp):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("sign up failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// Token verifies credentials and returns a new session.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("sign in failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Session returns the session the request was authenticated with.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, principal.Session())
}

// Logout revokes the session the request was authenticated with.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	principal, err := principalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.auth.SignOut(r.Context(), principal.SessionID); err != nil {
		h.logger.Error("sign out failed", zap.String("session_id", principal.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return req, false
	}
	return req, true
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
