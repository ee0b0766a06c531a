package domain

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMissingPayload     = errors.New("message payload missing for its type")
)

type rawAuthor struct {
	ID     string `mapstructure:"_id"`
	Name   string `mapstructure:"name"`
	Avatar string `mapstructure:"avatar"`
}

type rawLocation struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

type rawReply struct {
	ID       string       `mapstructure:"_id"`
	Text     *string      `mapstructure:"text"`
	Type     string       `mapstructure:"type"`
	Image    *string      `mapstructure:"image"`
	Audio    *string      `mapstructure:"audio"`
	Location *rawLocation `mapstructure:"location"`
	User     rawAuthor    `mapstructure:"user"`
}

type rawMessage struct {
	ID        string       `mapstructure:"_id"`
	ClientID  string       `mapstructure:"clientId"`
	RoomID    string       `mapstructure:"roomId"`
	Text      *string      `mapstructure:"text"`
	CreatedAt time.Time    `mapstructure:"createdAt"`
	EditedAt  *time.Time   `mapstructure:"editedAt"`
	User      rawAuthor    `mapstructure:"user"`
	SenderID  string       `mapstructure:"senderId"`
	Type      string       `mapstructure:"type"`
	Image     *string      `mapstructure:"image"`
	Audio     *string      `mapstructure:"audio"`
	Duration  *string      `mapstructure:"duration"`
	Location  *rawLocation `mapstructure:"location"`
	ReplyTo   *rawReply    `mapstructure:"replyTo"`
	Delivered *bool        `mapstructure:"delivered"`
	Sent      *bool        `mapstructure:"sent"`
	Read      bool         `mapstructure:"read"`
}

// TranslateMessage turns a raw message document into a Message. The type tag
// decides which payload fields are kept; the rest are dropped so that only
// the payload of the message's type is ever set. A missing tag is inferred
// from the payload present.
func TranslateMessage(doc Document) (Message, error) {
	var raw rawMessage
	if err := decodeDocument(doc, &raw); err != nil {
		return Message{}, fmt.Errorf("decoding message %v: %w", doc[FieldID], err)
	}

	typ, err := resolveType(raw.Type, raw.Image, raw.Audio, raw.Location)
	if err != nil {
		return Message{}, fmt.Errorf("message %s: %w", raw.ID, err)
	}

	authorID := raw.User.ID
	if authorID == "" {
		authorID = raw.SenderID
	}

	m := Message{
		ID:         raw.ID,
		ClientID:   raw.ClientID,
		RoomID:     raw.RoomID,
		AuthorID:   authorID,
		AuthorName: raw.User.Name,
		CreatedAt:  raw.CreatedAt,
		EditedAt:   raw.EditedAt,
		Type:       typ,
		Read:       raw.Read,
		State:      Confirmed(),
	}

	switch {
	case raw.Delivered != nil:
		m.Delivered = *raw.Delivered
	case raw.Sent != nil:
		m.Delivered = *raw.Sent
	}

	switch typ {
	case MessageText:
		body := ""
		if raw.Text != nil {
			body = *raw.Text
		}
		m.Body = &body
	case MessageImage:
		if raw.Image == nil || *raw.Image == "" {
			return Message{}, fmt.Errorf("message %s: %w", raw.ID, ErrMissingPayload)
		}
		m.ImageURL = raw.Image
	case MessageAudio:
		if raw.Audio == nil || *raw.Audio == "" {
			return Message{}, fmt.Errorf("message %s: %w", raw.ID, ErrMissingPayload)
		}
		m.AudioURL = raw.Audio
		m.Duration = raw.Duration
	case MessageLocation:
		if raw.Location == nil {
			return Message{}, fmt.Errorf("message %s: %w", raw.ID, ErrMissingPayload)
		}
		m.Location = &Location{Latitude: raw.Location.Latitude, Longitude: raw.Location.Longitude}
	}

	if raw.ReplyTo != nil && raw.ReplyTo.ID != "" {
		m.ReplyTo = translateReply(raw.ReplyTo)
	}

	return m, nil
}

// TranslateSnapshot translates a full snapshot in order. Documents that fail
// translation are left out and reported in errs.
func TranslateSnapshot(docs []Document) (msgs []Message, errs []error) {
	msgs = make([]Message, 0, len(docs))
	for _, doc := range docs {
		m, err := TranslateMessage(doc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, errs
}

func translateReply(r *rawReply) *ReplySnapshot {
	typ, err := resolveType(r.Type, r.Image, r.Audio, r.Location)
	if err != nil {
		typ = MessageText
	}

	snap := &ReplySnapshot{
		ID:         r.ID,
		Type:       typ,
		AuthorID:   r.User.ID,
		AuthorName: r.User.Name,
	}
	switch typ {
	case MessageText:
		snap.Body = r.Text
	case MessageImage:
		snap.ImageURL = r.Image
	case MessageAudio:
		snap.AudioURL = r.Audio
	case MessageLocation:
		if r.Location != nil {
			snap.Location = &Location{Latitude: r.Location.Latitude, Longitude: r.Location.Longitude}
		}
	}
	return snap
}

func resolveType(tag string, image, audio *string, loc *rawLocation) (MessageType, error) {
	if tag != "" {
		t := MessageType(tag)
		if !t.Valid() {
			return "", fmt.Errorf("%w: %q", ErrUnknownMessageType, tag)
		}
		return t, nil
	}
	switch {
	case image != nil:
		return MessageImage, nil
	case audio != nil:
		return MessageAudio, nil
	case loc != nil:
		return MessageLocation, nil
	default:
		return MessageText, nil
	}
}

func decodeDocument(doc Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			epochMillisToTimeHook(),
		),
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	return dec.Decode(map[string]any(doc))
}

// epochMillisToTimeHook accepts timestamps stored as milliseconds since the
// epoch, as some exported documents carry them.
func epochMillisToTimeHook() mapstructure.DecodeHookFuncType {
	timeType := reflect.TypeOf(time.Time{})
	return func(from, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case int64:
			return time.UnixMilli(v).UTC(), nil
		case int:
			return time.UnixMilli(int64(v)).UTC(), nil
		case float64:
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		return data, nil
	}
}
