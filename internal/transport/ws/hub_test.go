package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"go.uber.org/zap"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// detachedClient is a client with no socket behind it; tests read its send
// buffer directly.
func detachedClient(hub *Hub, userID string) *Client {
	c := NewClient(hub, nil, userID, Deps{Log: zap.NewNop()})
	hub.register <- c
	return c
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.send:
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatal(err)
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	return Event{}
}

func TestHubNotifierReachesEveryConnection(t *testing.T) {
	hub := startHub(t)
	phone := detachedClient(hub, "bob")
	laptop := detachedClient(hub, "bob")
	other := detachedClient(hub, "carol")

	if n := hub.Connections(context.Background()); n != 3 {
		t.Fatalf("connections = %d, want 3", n)
	}

	note := domain.Notification{
		RecipientID: "bob",
		Title:       "alice",
		Body:        "hi bob",
		Data:        domain.NotificationPayload{RoomID: "alice_bob", ForwardID: "bob", ReverseID: "alice"},
	}
	if err := NewHubNotifier(hub).Notify(context.Background(), note); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{phone, laptop} {
		evt := nextEvent(t, c)
		if evt.Type != EventTypeNotification || evt.RoomID != "alice_bob" {
			t.Fatalf("event = %+v", evt)
		}
		var p NotificationPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.Title != "alice" || p.Body != "hi bob" || p.Data != note.Data {
			t.Errorf("payload = %+v", p)
		}
	}

	select {
	case <-other.send:
		t.Error("notification reached another user")
	default:
	}
}

func TestHubUnregisterStopsClient(t *testing.T) {
	hub := startHub(t)
	c := detachedClient(hub, "bob")

	hub.unregister <- c
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("client not stopped")
	}
	if n := hub.Connections(context.Background()); n != 0 {
		t.Errorf("connections = %d, want 0", n)
	}
	if !c.enqueue([]byte("late")) {
		t.Error("enqueue on a stopped client reported a full buffer")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := startHub(t)
	slow := detachedClient(hub, "bob")
	for i := 0; i < sendBufSize; i++ {
		slow.send <- []byte("{}")
	}

	hub.SendToUser("bob", &Event{Type: EventTypePong})
	select {
	case <-slow.done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow client was kept")
	}
	if n := hub.Connections(context.Background()); n != 0 {
		t.Errorf("connections = %d, want 0", n)
	}
}

func TestSendToStoppedHubReturns(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// More sends than the direct buffer holds; none may block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < cap(hub.direct)+10; i++ {
			hub.SendToUser("bob", &Event{Type: EventTypePong})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendToUser blocked after the hub stopped")
	}

	err := NewHubNotifier(hub).Notify(context.Background(), domain.Notification{RecipientID: "bob"})
	if !errors.Is(err, ErrHubStopped) {
		t.Errorf("notify after stop = %v, want ErrHubStopped", err)
	}
	if n := hub.Connections(context.Background()); n != 0 {
		t.Errorf("connections = %d", n)
	}
}
