package domain

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var ErrNotParticipant = errors.New("user is not a participant of this room")

// Room is a two-party conversation. Its id is derived from the participants,
// so either side can compute it without a lookup.
type Room struct {
	ID                   string     `json:"id"`
	Participants         []string   `json:"participants"`
	LastMessage          string     `json:"last_message"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp,omitempty"`
	LastMessageSenderID  string     `json:"last_message_sender_id"`
	CreatedAt            time.Time  `json:"created_at"`
}

// RoomID sorts the two participant ids and joins them, so
// RoomID(a, b) == RoomID(b, a).
func RoomID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// NewRoom returns an empty room for the pair, with participants in the
// canonical order.
func NewRoom(a, b string, now time.Time) *Room {
	ids := []string{a, b}
	sort.Strings(ids)
	return &Room{
		ID:           RoomID(a, b),
		Participants: ids,
		CreatedAt:    now,
	}
}

func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not viewerID.
func (r *Room) OtherParticipant(viewerID string) (string, error) {
	if !r.HasParticipant(viewerID) {
		return "", ErrNotParticipant
	}
	for _, p := range r.Participants {
		if p != viewerID {
			return p, nil
		}
	}
	// Both slots hold the viewer: a room with yourself.
	return viewerID, nil
}

// RoomSummary is the room-list projection: a room joined with the profile of
// the other participant.
type RoomSummary struct {
	Room
	PeerID        string  `json:"peer_id"`
	PeerUsername  string  `json:"peer_username"`
	PeerAvatarURL *string `json:"peer_avatar_url,omitempty"`
	PeerPushToken string  `json:"peer_push_token,omitempty"`
}

func NewRoomSummary(room Room, peer *User) RoomSummary {
	return RoomSummary{
		Room:          room,
		PeerID:        peer.ID,
		PeerUsername:  peer.Username,
		PeerAvatarURL: peer.AvatarURL,
		PeerPushToken: peer.PushToken,
	}
}
