package domain

import (
	"errors"
	"testing"
	"time"
)

func TestTranslateTextMessage(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	doc := Document{
		FieldID:        "m1",
		FieldClientID:  "c1",
		FieldRoomID:    "alice_bob",
		FieldText:      "hello",
		FieldCreatedAt: created,
		FieldUser:      map[string]any{FieldID: "alice", "name": "Alice"},
		FieldType:      "text",
		FieldDelivered: true,
		FieldRead:      true,
		"unknownField": 42,
	}

	m, err := TranslateMessage(doc)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if m.ID != "m1" || m.ClientID != "c1" || m.RoomID != "alice_bob" {
		t.Errorf("ids = %q %q %q", m.ID, m.ClientID, m.RoomID)
	}
	if m.Body == nil || *m.Body != "hello" {
		t.Errorf("Body = %v", m.Body)
	}
	if m.AuthorID != "alice" || m.AuthorName != "Alice" {
		t.Errorf("author = %q %q", m.AuthorID, m.AuthorName)
	}
	if !m.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v", m.CreatedAt)
	}
	if !m.Delivered || !m.Read {
		t.Errorf("Delivered = %v, Read = %v", m.Delivered, m.Read)
	}
	if m.State.Status != StatusConfirmed {
		t.Errorf("State = %v", m.State)
	}
}

func TestTranslateKeepsOnlyTypedPayload(t *testing.T) {
	doc := Document{
		FieldID:    "m2",
		FieldType:  "image",
		FieldImage: "https://cdn/x.jpg",
		FieldText:  "stray text",
		FieldAudio: "https://cdn/y.m4a",
		FieldUser:  map[string]any{FieldID: "bob", "name": "Bob"},
	}

	m, err := TranslateMessage(doc)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if m.Type != MessageImage {
		t.Fatalf("Type = %q", m.Type)
	}
	if m.ImageURL == nil || *m.ImageURL != "https://cdn/x.jpg" {
		t.Errorf("ImageURL = %v", m.ImageURL)
	}
	if m.Body != nil || m.AudioURL != nil || m.Location != nil {
		t.Error("payload of other types must be dropped")
	}
}

func TestTranslateInfersTypeAndFallsBackToSenderID(t *testing.T) {
	doc := Document{
		FieldID:        "m3",
		FieldSenderID:  "bob",
		FieldLocation:  map[string]any{"latitude": 45.8, "longitude": 15.97},
		FieldCreatedAt: int64(1700000000000),
		"sent":         true,
	}

	m, err := TranslateMessage(doc)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if m.Type != MessageLocation || m.Location == nil || m.Location.Latitude != 45.8 {
		t.Errorf("location = %v %v", m.Type, m.Location)
	}
	if m.AuthorID != "bob" {
		t.Errorf("AuthorID = %q", m.AuthorID)
	}
	if !m.Delivered {
		t.Error("legacy sent flag should mark the message delivered")
	}
	if m.CreatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("CreatedAt = %v", m.CreatedAt)
	}
}

func TestTranslateRejectsBrokenDocuments(t *testing.T) {
	_, err := TranslateMessage(Document{FieldID: "x", FieldType: "sticker"})
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Errorf("unknown type err = %v", err)
	}

	_, err = TranslateMessage(Document{FieldID: "y", FieldType: "audio"})
	if !errors.Is(err, ErrMissingPayload) {
		t.Errorf("missing payload err = %v", err)
	}
}

func TestTranslateSnapshotSkipsBadDocuments(t *testing.T) {
	docs := []Document{
		{FieldID: "a", FieldText: "one"},
		{FieldID: "b", FieldType: "image"},
		{FieldID: "c", FieldText: "three"},
	}

	msgs, errs := TranslateSnapshot(docs)
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "c" {
		t.Errorf("msgs = %+v", msgs)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v", errs)
	}
}

func TestReplySnapshotSurvivesTranslation(t *testing.T) {
	body := "original"
	target := Message{ID: "m0", AuthorID: "alice", AuthorName: "Alice", Type: MessageText, Body: &body}
	sender := Author{ID: "bob", Name: "Bob"}

	doc := NewRecord(Draft{Text: "reply", ReplyTo: &target}, sender, "alice", "c9")
	doc[FieldID] = "m1"

	body = "edited later"

	m, err := TranslateMessage(doc)
	if err != nil {
		t.Fatalf("TranslateMessage: %v", err)
	}
	if m.ReplyTo == nil {
		t.Fatal("ReplyTo missing")
	}
	if m.ReplyTo.ID != "m0" || m.ReplyTo.AuthorName != "Alice" {
		t.Errorf("ReplyTo = %+v", m.ReplyTo)
	}
	if m.ReplyTo.Body == nil || *m.ReplyTo.Body != "original" {
		t.Errorf("reply body = %v, want the text frozen at send time", m.ReplyTo.Body)
	}
}
