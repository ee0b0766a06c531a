package domain

import (
	"errors"
)

var ErrInvalidPayload = errors.New("notification payload is missing routing fields")

const DefaultNotificationBodyLimit = 100

// NotificationPayload is carried by a push so that an action taken from the
// notification surface (reply, mark as read) can be routed back without the
// app in the foreground. ForwardID is the recipient of the push, ReverseID
// the author of the message that triggered it.
type NotificationPayload struct {
	RoomID    string `json:"roomId"`
	ForwardID string `json:"forwardId"`
	ReverseID string `json:"reverseId"`
	AvatarURL string `json:"avatar,omitempty"`
}

func (p NotificationPayload) Map() map[string]string {
	m := map[string]string{
		"roomId":    p.RoomID,
		"forwardId": p.ForwardID,
		"reverseId": p.ReverseID,
	}
	if p.AvatarURL != "" {
		m["avatar"] = p.AvatarURL
	}
	return m
}

// ParseNotificationPayload reads the routing payload of an inbound push.
func ParseNotificationPayload(data map[string]string) (NotificationPayload, error) {
	p := NotificationPayload{
		RoomID:    data["roomId"],
		ForwardID: data["forwardId"],
		ReverseID: data["reverseId"],
		AvatarURL: data["avatar"],
	}
	if err := p.Validate(); err != nil {
		return NotificationPayload{}, err
	}
	return p, nil
}

func (p NotificationPayload) Validate() error {
	if p.RoomID == "" || p.ForwardID == "" || p.ReverseID == "" {
		return ErrInvalidPayload
	}
	if RoomID(p.ForwardID, p.ReverseID) != p.RoomID {
		return ErrInvalidPayload
	}
	return nil
}

type Notification struct {
	RecipientID string              `json:"recipient_id"`
	Token       string              `json:"token,omitempty"`
	Title       string              `json:"title"`
	Body        string              `json:"body"`
	Data        NotificationPayload `json:"data"`
}

// NewNotification builds the push for a message sent by sender to recipient
// in roomID. The body is the message preview cut to limit runes.
func NewNotification(roomID string, sender Author, recipient *User, preview string, limit int) Notification {
	return Notification{
		RecipientID: recipient.ID,
		Token:       recipient.PushToken,
		Title:       sender.Name,
		Body:        Truncate(preview, limit),
		Data: NotificationPayload{
			RoomID:    roomID,
			ForwardID: recipient.ID,
			ReverseID: sender.ID,
			AvatarURL: sender.Avatar,
		},
	}
}

// Truncate cuts s to at most limit runes, marking the cut with an ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultNotificationBodyLimit
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
