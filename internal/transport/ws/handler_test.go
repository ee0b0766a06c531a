package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository/memory"
	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type wsEnv struct {
	srv   *httptest.Server
	hub   *Hub
	chat  *service.ChatService
	users map[string]string // username -> token
	ids   map[string]string // username -> id
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	log := zap.NewNop()
	store := memory.NewStore()
	auth := service.NewAuthService(store.Users(), service.NewProfileService(store.Users()), "test-secret", time.Hour)
	chat := service.NewChatService(store.Rooms(), store.Messages(), store.Users(), log, 100)
	hub := startHub(t)

	env := &wsEnv{hub: hub, chat: chat, users: map[string]string{}, ids: map[string]string{}}
	for _, name := range []string{"alice", "bob"} {
		resp, err := auth.Register(context.Background(), service.RegisterInput{
			Email: name + "@example.com", Username: name, Password: "Secret123",
		})
		if err != nil {
			t.Fatal(err)
		}
		env.users[name] = resp.AccessToken
		env.ids[name] = resp.User.ID
	}

	env.srv = httptest.NewServer(ServeWS(hub, auth, Deps{
		Chat:     chat,
		Rooms:    store.Rooms(),
		Messages: store.Messages(),
		Users:    store.Users(),
		Cache:    cache.NewMemory(),
		Log:      log,
	}))
	t.Cleanup(env.srv.Close)
	return env
}

func (e *wsEnv) dial(t *testing.T, name string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "?token=" + e.users[name]
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetReadLimit(1 << 20)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	evt := Event{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		evt.Payload = data
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, evt); err != nil {
		t.Fatal(err)
	}
}

// readUntil reads events until done returns true.
func readUntil(t *testing.T, conn *websocket.Conn, done func(Event) bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			t.Fatalf("reading events: %v", err)
		}
		if done(evt) {
			return
		}
	}
}

// await reads events until match accepts one of eventType and returns its
// decoded payload.
func await[T any](t *testing.T, conn *websocket.Conn, eventType string, match func(T) bool) T {
	t.Helper()
	var v T
	readUntil(t, conn, func(evt Event) bool {
		if evt.Type != eventType {
			return false
		}
		var p T
		if len(evt.Payload) > 0 {
			if err := json.Unmarshal(evt.Payload, &p); err != nil {
				t.Fatal(err)
			}
		}
		if match != nil && !match(p) {
			return false
		}
		v = p
		return true
	})
	return v
}

func errorCode(code string) func(ErrorPayload) bool {
	return func(p ErrorPayload) bool { return p.Code == code }
}

func TestServeWSNeedsToken(t *testing.T) {
	env := newWSEnv(t)

	for _, query := range []string{"", "?token=garbage"} {
		resp, err := http.Get(env.srv.URL + query)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %q = %d, want 401", query, resp.StatusCode)
		}
	}
}

func TestClientRoomSync(t *testing.T) {
	env := newWSEnv(t)
	alice, bob := env.ids["alice"], env.ids["bob"]
	roomID := domain.RoomID(alice, bob)
	conn := env.dial(t, "alice")

	emit(t, conn, EventTypePing, nil)
	await[struct{}](t, conn, EventTypePong, nil)

	emit(t, conn, "bogus", nil)
	await(t, conn, EventTypeError, errorCode("UNKNOWN_EVENT"))

	emit(t, conn, EventTypeMessageSend, MessageSendPayload{RoomID: roomID, Text: "too early"})
	await(t, conn, EventTypeError, errorCode("NOT_SUBSCRIBED"))

	emit(t, conn, EventTypeRoomSubscribe, RoomSubscribePayload{RoomID: "someone_else", PeerID: bob})
	await(t, conn, EventTypeError, errorCode("FORBIDDEN"))

	emit(t, conn, EventTypeRoomSubscribe, RoomSubscribePayload{RoomID: roomID, PeerID: bob})
	await[RoomSnapshotPayload](t, conn, EventTypeRoomSnapshot, nil)

	emit(t, conn, EventTypeMessageSend, MessageSendPayload{RoomID: roomID, Text: "hi bob"})
	snap := await(t, conn, EventTypeRoomSnapshot, func(p RoomSnapshotPayload) bool {
		return len(p.Messages) == 1 && p.Messages[0].State.Status == domain.StatusConfirmed && p.Messages[0].ID != p.Messages[0].ClientID
	})
	sent := snap.Messages[0]
	if sent.Body == nil || *sent.Body != "hi bob" || sent.AuthorID != alice {
		t.Errorf("sent = %+v", sent)
	}

	emit(t, conn, EventTypeMessageSend, MessageSendPayload{RoomID: roomID, Text: " "})
	await(t, conn, EventTypeError, errorCode("VALIDATION_ERROR"))

	emit(t, conn, EventTypeMessageEdit, MessageEditPayload{RoomID: roomID, MessageID: sent.ID, Text: "hi bob!"})
	await(t, conn, EventTypeRoomSnapshot, func(p RoomSnapshotPayload) bool {
		return len(p.Messages) == 1 && p.Messages[0].Body != nil && *p.Messages[0].Body == "hi bob!"
	})

	emit(t, conn, EventTypeMessageDelete, MessageDeletePayload{RoomID: roomID, MessageID: sent.ID})
	await(t, conn, EventTypeError, errorCode("NOT_CONFIRMED"))

	emit(t, conn, EventTypeMessageDelete, MessageDeletePayload{RoomID: roomID, MessageID: sent.ID, Confirmed: true})
	await(t, conn, EventTypeRoomSnapshot, func(p RoomSnapshotPayload) bool { return len(p.Messages) == 0 })

	emit(t, conn, EventTypeRoomUnsubscribe, RoomPayload{RoomID: roomID})
	emit(t, conn, EventTypeMessageRead, RoomPayload{RoomID: roomID})
	await(t, conn, EventTypeError, errorCode("NOT_SUBSCRIBED"))
}

func TestClientRoomListAndBadge(t *testing.T) {
	env := newWSEnv(t)
	alice, bob := env.ids["alice"], env.ids["bob"]
	roomID := domain.RoomID(alice, bob)
	conn := env.dial(t, "alice")

	emit(t, conn, EventTypeRoomsSubscribe, nil)

	ctx := context.Background()
	if _, err := env.chat.EnsureRoom(ctx, bob, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := env.chat.SendMessage(ctx, service.SendMessageInput{
		RoomID: roomID,
		Sender: domain.Author{ID: bob, Name: "bob"},
		PeerID: alice,
		Draft:  domain.Draft{Text: "you up?"},
	}); err != nil {
		t.Fatal(err)
	}

	// The badge and the list arrive from different feeds, in either order.
	var room *domain.RoomSummary
	badge := -1
	readUntil(t, conn, func(evt Event) bool {
		switch evt.Type {
		case EventTypeRoomsSnapshot:
			var p RoomsSnapshotPayload
			json.Unmarshal(evt.Payload, &p)
			if len(p.Rooms) == 1 && p.Rooms[0].LastMessage == "you up?" {
				room = &p.Rooms[0]
			}
		case EventTypeUnreadBadge:
			var p UnreadBadgePayload
			json.Unmarshal(evt.Payload, &p)
			badge = p.Count
		}
		return room != nil && badge == 1
	})
	if room.PeerUsername != "bob" || room.ID != roomID {
		t.Errorf("room = %+v", room)
	}

	emit(t, conn, EventTypeRoomSubscribe, RoomSubscribePayload{RoomID: roomID, PeerID: bob})
	emit(t, conn, EventTypeMessageRead, RoomPayload{RoomID: roomID})
	await(t, conn, EventTypeUnreadBadge, func(p UnreadBadgePayload) bool { return p.Count == 0 })
}

func TestHubNotifierOverWebSocket(t *testing.T) {
	env := newWSEnv(t)
	conn := env.dial(t, "bob")

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Connections(ctx) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	note := domain.Notification{
		RecipientID: env.ids["bob"],
		Title:       "alice",
		Body:        "ping",
		Data:        domain.NotificationPayload{RoomID: "r", ForwardID: env.ids["bob"], ReverseID: env.ids["alice"]},
	}
	if err := NewHubNotifier(env.hub).Notify(ctx, note); err != nil {
		t.Fatal(err)
	}
	got := await[NotificationPayload](t, conn, EventTypeNotification, nil)
	if got.Body != "ping" || got.Data != note.Data {
		t.Errorf("notification = %+v", got)
	}
}
