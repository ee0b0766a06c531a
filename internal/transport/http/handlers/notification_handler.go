package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/internal/transport/http/middleware"
	"github.com/vedran77/chatsync/pkg/validator"
	"go.uber.org/zap"
)

// NotificationHandler serves the actions a user can take straight from a
// push notification, without opening the room.
type NotificationHandler struct {
	chatService *service.ChatService
	log         *zap.Logger
}

func NewNotificationHandler(chatService *service.ChatService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{chatService: chatService, log: log.Named("notifications")}
}

type notificationActionRequest struct {
	Data map[string]string `json:"data"`
	Text string            `json:"text,omitempty"`
}

// POST /api/v1/notifications/reply
func (h *NotificationHandler) Reply(w http.ResponseWriter, r *http.Request) {
	req, payload, ok := h.decode(w, r)
	if !ok {
		return
	}

	msg, err := h.chatService.ReplyFromNotification(r.Context(), middleware.GetUserID(r.Context()), payload, req.Text)
	if err != nil {
		h.handleError(w, "reply", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// POST /api/v1/notifications/read
func (h *NotificationHandler) Read(w http.ResponseWriter, r *http.Request) {
	_, payload, ok := h.decode(w, r)
	if !ok {
		return
	}

	n, err := h.chatService.ReadFromNotification(r.Context(), middleware.GetUserID(r.Context()), payload)
	if err != nil {
		h.handleError(w, "read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *NotificationHandler) decode(w http.ResponseWriter, r *http.Request) (notificationActionRequest, domain.NotificationPayload, bool) {
	var req notificationActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return req, domain.NotificationPayload{}, false
	}

	payload, err := domain.ParseNotificationPayload(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Notification payload is incomplete")
		return req, domain.NotificationPayload{}, false
	}
	return req, payload, true
}

func (h *NotificationHandler) handleError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeValidationErrors(w, verrs)
	case errors.Is(err, domain.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "Notification payload is incomplete")
	case errors.Is(err, domain.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Notification was not sent to you")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
