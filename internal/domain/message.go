package domain

import (
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageLocation MessageType = "location"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageLocation:
		return true
	}
	return false
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// ReplySnapshot is a frozen copy of the message being replied to. Later edits
// or deletion of the original do not touch it.
type ReplySnapshot struct {
	ID         string      `json:"id"`
	Body       *string     `json:"body"`
	Type       MessageType `json:"type"`
	AuthorID   string      `json:"author_id"`
	AuthorName string      `json:"author_name"`
	ImageURL   *string     `json:"image_url"`
	AudioURL   *string     `json:"audio_url"`
	Location   *Location   `json:"location"`
}

type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusFailed    DeliveryStatus = "failed"
)

// DeliveryState tags a message with where it is in the send pipeline.
// Reason is set only for StatusFailed.
type DeliveryState struct {
	Status DeliveryStatus `json:"status"`
	Reason string         `json:"reason,omitempty"`
}

func Pending() DeliveryState   { return DeliveryState{Status: StatusPending} }
func Confirmed() DeliveryState { return DeliveryState{Status: StatusConfirmed} }
func Failed(reason string) DeliveryState {
	return DeliveryState{Status: StatusFailed, Reason: reason}
}

type Message struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"client_id,omitempty"`
	RoomID     string         `json:"room_id,omitempty"`
	AuthorID   string         `json:"author_id"`
	AuthorName string         `json:"author_name"`
	Body       *string        `json:"body"`
	CreatedAt  time.Time      `json:"created_at"`
	EditedAt   *time.Time     `json:"edited_at,omitempty"`
	Type       MessageType    `json:"type"`
	ImageURL   *string        `json:"image_url"`
	AudioURL   *string        `json:"audio_url"`
	Duration   *string        `json:"duration"`
	Location   *Location      `json:"location"`
	ReplyTo    *ReplySnapshot `json:"reply_to"`
	Delivered  bool           `json:"delivered"`
	Read       bool           `json:"read"`
	State      DeliveryState  `json:"state"`
}

// Snapshot freezes m for use as a reply target.
func (m Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{
		ID:         m.ID,
		Body:       copyString(m.Body),
		Type:       m.Type,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		ImageURL:   copyString(m.ImageURL),
		AudioURL:   copyString(m.AudioURL),
		Location:   copyLocation(m.Location),
	}
}

// Preview renders the short text stored as a room's lastMessage.
func (m Message) Preview() string {
	body := ""
	if m.Body != nil {
		body = *m.Body
	}
	return Preview(m.Type, body)
}

// Preview renders the denormalized lastMessage text for a message of type t.
// Non-text types never expose their payload URL.
func Preview(t MessageType, body string) string {
	switch t {
	case MessageImage:
		return "📷 Sent an image"
	case MessageAudio:
		return "🎤 Sent a voice message"
	case MessageLocation:
		return "📍 Sent a location"
	default:
		return body
	}
}

// Draft is what a sender composes before the store assigns an id and a
// timestamp.
type Draft struct {
	Type     MessageType
	Text     string
	ImageURL string
	AudioURL string
	Duration string
	Location *Location
	ReplyTo  *Message
}

// Kind returns the draft's type, defaulting to text.
func (d Draft) Kind() MessageType {
	if d.Type == "" {
		return MessageText
	}
	return d.Type
}

// NewRecord builds the authoritative document for a draft. The store adds
// the id, room id and server timestamp on write.
func NewRecord(d Draft, sender Author, receiverID, clientID string) Document {
	doc := Document{
		FieldClientID:   clientID,
		FieldSenderID:   sender.ID,
		FieldReceiverID: receiverID,
		FieldUser: map[string]any{
			FieldID:  sender.ID,
			"name":   sender.Name,
			"avatar": sender.Avatar,
		},
		FieldType:      string(d.Kind()),
		FieldDelivered: true,
		FieldRead:      false,
	}

	switch d.Kind() {
	case MessageText:
		doc[FieldText] = d.Text
	case MessageImage:
		doc[FieldImage] = d.ImageURL
	case MessageAudio:
		doc[FieldAudio] = d.AudioURL
		if d.Duration != "" {
			doc[FieldDuration] = d.Duration
		}
	case MessageLocation:
		if d.Location != nil {
			doc[FieldLocation] = locationDocument(*d.Location)
		}
	}

	if d.ReplyTo != nil {
		doc[FieldReplyTo] = replyDocument(d.ReplyTo.Snapshot())
	}

	return doc
}

// DraftMessage is the optimistic local copy of a draft shown before the
// store acknowledges it.
func DraftMessage(d Draft, sender Author, roomID, clientID string, now time.Time) Message {
	m := Message{
		ID:         clientID,
		ClientID:   clientID,
		RoomID:     roomID,
		AuthorID:   sender.ID,
		AuthorName: sender.Name,
		CreatedAt:  now,
		Type:       d.Kind(),
		Delivered:  true,
		State:      Pending(),
	}

	switch d.Kind() {
	case MessageText:
		m.Body = stringPtr(d.Text)
	case MessageImage:
		m.ImageURL = stringPtr(d.ImageURL)
	case MessageAudio:
		m.AudioURL = stringPtr(d.AudioURL)
		if d.Duration != "" {
			m.Duration = stringPtr(d.Duration)
		}
	case MessageLocation:
		m.Location = copyLocation(d.Location)
	}

	if d.ReplyTo != nil {
		m.ReplyTo = d.ReplyTo.Snapshot()
	}
	return m
}

func locationDocument(l Location) map[string]any {
	return map[string]any{"latitude": l.Latitude, "longitude": l.Longitude}
}

func replyDocument(r *ReplySnapshot) map[string]any {
	doc := map[string]any{
		FieldID:   r.ID,
		FieldType: string(r.Type),
		FieldUser: map[string]any{FieldID: r.AuthorID, "name": r.AuthorName},
	}
	if r.Body != nil {
		doc[FieldText] = *r.Body
	}
	if r.ImageURL != nil {
		doc[FieldImage] = *r.ImageURL
	}
	if r.AudioURL != nil {
		doc[FieldAudio] = *r.AudioURL
	}
	if r.Location != nil {
		doc[FieldLocation] = locationDocument(*r.Location)
	}
	return doc
}

func stringPtr(s string) *string { return &s }

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyLocation(l *Location) *Location {
	if l == nil {
		return nil
	}
	v := *l
	return &v
}
