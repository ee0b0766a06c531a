package ws

import (
	"context"
	"errors"

	"github.com/vedran77/chatsync/internal/domain"
)

var ErrHubStopped = errors.New("websocket hub stopped")

// HubNotifier implements service.Notifier by pushing the notification to the
// recipient's open connections, for clients that are in the foreground.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) Notify(ctx context.Context, note domain.Notification) error {
	evt, err := NewEvent(EventTypeNotification, note.Data.RoomID, NotificationPayload{
		Title: note.Title,
		Body:  note.Body,
		Data:  note.Data,
	})
	if err != nil {
		return err
	}
	if !n.hub.SendToUser(note.RecipientID, evt) {
		return ErrHubStopped
	}
	return nil
}
