package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/pkg/validator"
	"go.uber.org/zap"
)

// AuthHandler signs devices in. Both routes answer with a session; a push
// token in the body moves the user's notifications to this device.
type AuthHandler struct {
	authService *service.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log.Named("auth")}
}

// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	sess, err := h.authService.Register(r.Context(), input)
	if err != nil {
		h.handleError(w, "register", err)
		return
	}
	h.log.Debug("registered", zap.String("user", sess.User.ID), zap.Bool("device_bound", sess.User.PushToken != ""))
	writeJSON(w, http.StatusCreated, sess)
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	sess, err := h.authService.Login(r.Context(), input)
	if err != nil {
		h.handleError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeValidationErrors(w, verrs)
	case errors.Is(err, service.ErrEmailTaken):
		writeError(w, http.StatusConflict, "EMAIL_TAKEN", "Email is already registered")
	case errors.Is(err, service.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "USERNAME_TAKEN", "Username is already taken")
	case errors.Is(err, service.ErrInvalidCreds):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
