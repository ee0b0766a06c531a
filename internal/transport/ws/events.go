package ws

import (
	"encoding/json"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeRoomSubscribe   = "room.subscribe"
	EventTypeRoomUnsubscribe = "room.unsubscribe"
	EventTypeRoomsSubscribe  = "rooms.subscribe"
	EventTypeMessageSend     = "message.send"
	EventTypeMessageRetry    = "message.retry"
	EventTypeMessageRead     = "message.read"
	EventTypeMessageEdit     = "message.edit"
	EventTypeMessageDelete   = "message.delete"
	EventTypePing            = "ping"
)

// Event types - Server → Client
const (
	EventTypeRoomSnapshot  = "room.snapshot"
	EventTypeRoomsSnapshot = "rooms.snapshot"
	EventTypeUnreadBadge   = "unread.badge"
	EventTypeNotification  = "notification"
	EventTypePong          = "pong"
	EventTypeError         = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"room_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type RoomSubscribePayload struct {
	RoomID string `json:"room_id"`
	PeerID string `json:"peer_id"`
}

type RoomPayload struct {
	RoomID string `json:"room_id"`
}

type MessageSendPayload struct {
	RoomID    string           `json:"room_id"`
	Type      string           `json:"type,omitempty"`
	Text      string           `json:"text,omitempty"`
	ImageURL  string           `json:"image_url,omitempty"`
	AudioURL  string           `json:"audio_url,omitempty"`
	Duration  string           `json:"duration,omitempty"`
	Location  *domain.Location `json:"location,omitempty"`
	ReplyToID string           `json:"reply_to_id,omitempty"`
}

type MessageRetryPayload struct {
	RoomID   string `json:"room_id"`
	ClientID string `json:"client_id"`
	// Discard drops the failed message instead of sending it again.
	Discard bool `json:"discard,omitempty"`
}

type MessageEditPayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

type MessageDeletePayload struct {
	RoomID    string `json:"room_id"`
	MessageID string `json:"message_id"`
	// Confirmed must be true: the client asks the user before sending it.
	Confirmed bool `json:"confirmed"`
}

// --- Server → Client payloads ---

type RoomSnapshotPayload struct {
	RoomID   string           `json:"room_id"`
	Messages []domain.Message `json:"messages"`
}

type RoomsSnapshotPayload struct {
	Rooms []domain.RoomSummary `json:"rooms"`
}

type UnreadBadgePayload struct {
	Count int `json:"count"`
}

type NotificationPayload struct {
	Title string                     `json:"title"`
	Body  string                     `json:"body"`
	Data  domain.NotificationPayload `json:"data"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType, roomID string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		RoomID:    roomID,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
