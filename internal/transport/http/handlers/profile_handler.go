package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/internal/transport/http/middleware"
	"github.com/vedran77/chatsync/pkg/validator"
	"go.uber.org/zap"
)

type ProfileHandler struct {
	profileService *service.ProfileService
	log            *zap.Logger
}

func NewProfileHandler(profileService *service.ProfileService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, log: log.Named("profile")}
}

// GET /api/v1/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.profileService.Get(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		h.handleError(w, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PUT /api/v1/me/profile
func (h *ProfileHandler) Save(w http.ResponseWriter, r *http.Request) {
	var input service.SaveProfileInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	user, err := h.profileService.SaveProfile(r.Context(), middleware.GetUserID(r.Context()), input)
	if err != nil {
		h.handleError(w, "save profile", err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// PUT /api/v1/me/push-token
func (h *ProfileHandler) PushToken(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	if err := h.profileService.RegisterPushToken(r.Context(), middleware.GetUserID(r.Context()), input.Token); err != nil {
		h.handleError(w, "register push token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProfileHandler) handleError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeValidationErrors(w, verrs)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrUsernameTaken):
		writeError(w, http.StatusConflict, "USERNAME_TAKEN", "Username is already taken")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
