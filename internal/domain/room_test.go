package domain

import (
	"testing"
	"time"
)

func TestRoomIDIsSymmetric(t *testing.T) {
	cases := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"u1", "u1"},
		{"Zed", "adam"},
	}
	for _, c := range cases {
		if RoomID(c[0], c[1]) != RoomID(c[1], c[0]) {
			t.Errorf("RoomID(%q, %q) != RoomID(%q, %q)", c[0], c[1], c[1], c[0])
		}
	}

	if got := RoomID("bob", "alice"); got != "alice_bob" {
		t.Errorf("RoomID = %q, want alice_bob", got)
	}
}

func TestNewRoomSortsParticipants(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	room := NewRoom("bob", "alice", now)

	if room.ID != "alice_bob" {
		t.Errorf("ID = %q", room.ID)
	}
	if len(room.Participants) != 2 || room.Participants[0] != "alice" || room.Participants[1] != "bob" {
		t.Errorf("Participants = %v", room.Participants)
	}
	if room.LastMessage != "" || room.LastMessageTimestamp != nil {
		t.Error("new room should have an empty summary")
	}
	if !room.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v", room.CreatedAt)
	}
}

func TestOtherParticipant(t *testing.T) {
	room := NewRoom("alice", "bob", time.Now())

	peer, err := room.OtherParticipant("alice")
	if err != nil || peer != "bob" {
		t.Errorf("OtherParticipant(alice) = %q, %v", peer, err)
	}
	peer, err = room.OtherParticipant("bob")
	if err != nil || peer != "alice" {
		t.Errorf("OtherParticipant(bob) = %q, %v", peer, err)
	}
	if _, err := room.OtherParticipant("carol"); err != ErrNotParticipant {
		t.Errorf("OtherParticipant(carol) err = %v", err)
	}

	self := NewRoom("alice", "alice", time.Now())
	peer, err = self.OtherParticipant("alice")
	if err != nil || peer != "alice" {
		t.Errorf("self room OtherParticipant = %q, %v", peer, err)
	}
}
