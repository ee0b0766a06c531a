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

// RoomHandler is the request/response surface over the chat writes, for
// clients that do not keep a WebSocket open. Rooms are addressed by the
// peer's user id; the room id is derived from it.
type RoomHandler struct {
	chatService    *service.ChatService
	profileService *service.ProfileService
	log            *zap.Logger
}

func NewRoomHandler(chatService *service.ChatService, profileService *service.ProfileService, log *zap.Logger) *RoomHandler {
	return &RoomHandler{chatService: chatService, profileService: profileService, log: log.Named("rooms")}
}

// POST /api/v1/rooms/{peer}
func (h *RoomHandler) Open(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	room, err := h.chatService.EnsureRoom(r.Context(), userID, r.PathValue("peer"))
	if err != nil {
		h.handleError(w, "open room", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

type sendMessageRequest struct {
	ClientID string           `json:"client_id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Text     string           `json:"text,omitempty"`
	ImageURL string           `json:"image_url,omitempty"`
	AudioURL string           `json:"audio_url,omitempty"`
	Duration string           `json:"duration,omitempty"`
	Location *domain.Location `json:"location,omitempty"`
}

// POST /api/v1/rooms/{peer}/messages
func (h *RoomHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	peerID := r.PathValue("peer")

	var input sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	sender, err := h.profileService.Get(r.Context(), userID)
	if err != nil {
		h.handleError(w, "send message", err)
		return
	}

	msg, err := h.chatService.SendMessage(r.Context(), service.SendMessageInput{
		RoomID: domain.RoomID(userID, peerID),
		Sender: sender.Author(),
		PeerID: peerID,
		Draft: domain.Draft{
			Type:     domain.MessageType(input.Type),
			Text:     input.Text,
			ImageURL: input.ImageURL,
			AudioURL: input.AudioURL,
			Duration: input.Duration,
			Location: input.Location,
		},
		ClientID: input.ClientID,
	})
	if err != nil {
		h.handleError(w, "send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// PATCH /api/v1/rooms/{peer}/messages/{id}
func (h *RoomHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	roomID := domain.RoomID(userID, r.PathValue("peer"))
	msg, err := h.chatService.EditMessage(r.Context(), roomID, userID, r.PathValue("id"), input.Text)
	if err != nil {
		h.handleError(w, "edit message", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// DELETE /api/v1/rooms/{peer}/messages/{id}
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	roomID := domain.RoomID(userID, r.PathValue("peer"))
	if err := h.chatService.DeleteMessage(r.Context(), roomID, userID, r.PathValue("id")); err != nil {
		h.handleError(w, "delete message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/rooms/{peer}/read
func (h *RoomHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	roomID := domain.RoomID(userID, r.PathValue("peer"))
	n, err := h.chatService.MarkAsRead(r.Context(), roomID, userID)
	if err != nil {
		h.handleError(w, "mark read", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (h *RoomHandler) handleError(w http.ResponseWriter, op string, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeValidationErrors(w, verrs)
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "User not found")
	case errors.Is(err, service.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Room not found")
	case errors.Is(err, service.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Message not found")
	case errors.Is(err, service.ErrNotMessageOwner):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You can only change your own messages")
	case errors.Is(err, service.ErrMessageNotEditable):
		writeError(w, http.StatusBadRequest, "NOT_EDITABLE", "Only text messages can be edited")
	default:
		h.log.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}
