// Package storetest checks a set of repositories against the behaviour the
// sync engines rely on. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
)

// Backend is the store under test. Listen, when set, drives live queries
// and runs for the whole suite.
type Backend struct {
	Rooms    repository.RoomRepository
	Messages repository.MessageRepository
	Users    repository.UserRepository
	Listen   func(ctx context.Context) error
}

const waitFor = 5 * time.Second

// Run runs every check against b. Users and rooms are created under fresh
// ids, so a shared database can be reused between runs.
func Run(t *testing.T, b Backend) {
	if b.Listen != nil {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := b.Listen(ctx); err != nil {
				t.Errorf("listener stopped: %v", err)
			}
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
		waitListening(t, b)
	}

	t.Run("MessagesNewestFirst", func(t *testing.T) { testMessagesNewestFirst(t, b) })
	t.Run("RoomsByActivity", func(t *testing.T) { testRoomsByActivity(t, b) })
	t.Run("EditStampsDocument", func(t *testing.T) { testEditStampsDocument(t, b) })
	t.Run("MarkReadTwice", func(t *testing.T) { testMarkReadTwice(t, b) })
	t.Run("DeleteReachesWatcher", func(t *testing.T) { testDeleteReachesWatcher(t, b) })
	t.Run("UnreadCountDropsToZero", func(t *testing.T) { testUnreadCountDropsToZero(t, b) })
}

type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) fn(v T, err error) {
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, v)
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vals)
}

func (r *recorder[T]) last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.vals) == 0 {
		return zero, false
	}
	return r.vals[len(r.vals)-1], true
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// waitListening writes to a scratch room until a watcher sees the write
// arrive through the listener.
func waitListening(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()
	owner := "listener-check-" + uuid.NewString()
	room := domain.NewRoom(owner, owner+"-peer", time.Now())
	if _, err := b.Rooms.CreateIfAbsent(ctx, room); err != nil {
		t.Fatal(err)
	}

	rec := &recorder[[]domain.Room]{}
	sub, err := b.Rooms.WatchByParticipant(ctx, owner, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()
	eventually(t, "initial room snapshot", func() bool { return rec.count() > 0 })

	deadline := time.Now().Add(2 * waitFor)
	for time.Now().Before(deadline) {
		seen := rec.count()
		if err := b.Rooms.UpdateLastMessage(ctx, room.ID, "ping", owner); err != nil {
			t.Fatal(err)
		}
		time.Sleep(100 * time.Millisecond)
		if rec.count() > seen {
			return
		}
	}
	t.Fatal("listener never delivered a change")
}

type fixture struct {
	b     Backend
	chat  *service.ChatService
	alice domain.Author
	bob   domain.Author
	room  string
}

func newFixture(t *testing.T, b Backend) *fixture {
	t.Helper()
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	user := func(name string) domain.Author {
		t.Helper()
		u := &domain.User{
			ID:           name + "-" + suffix,
			Email:        name + "-" + suffix + "@example.com",
			Username:     name + "-" + suffix,
			PasswordHash: "x",
			CreatedAt:    time.Now().UTC(),
			UpdatedAt:    time.Now().UTC(),
		}
		if err := b.Users.Create(ctx, u); err != nil {
			t.Fatal(err)
		}
		return u.Author()
	}

	f := &fixture{
		b:     b,
		chat:  service.NewChatService(b.Rooms, b.Messages, b.Users, zap.NewNop(), 100),
		alice: user("alice"),
		bob:   user("bob"),
	}
	f.room = domain.RoomID(f.alice.ID, f.bob.ID)
	return f
}

func (f *fixture) peerOf(a domain.Author) string {
	if a.ID == f.alice.ID {
		return f.bob.ID
	}
	return f.alice.ID
}

// send writes through the service. Stores with millisecond timestamps need
// the pause to keep sends ordered.
func (f *fixture) send(t *testing.T, from domain.Author, text string) *domain.Message {
	t.Helper()
	peer := f.peerOf(from)
	msg, err := f.chat.SendMessage(context.Background(), service.SendMessageInput{
		RoomID: domain.RoomID(from.ID, peer),
		Sender: from,
		PeerID: peer,
		Draft:  domain.Draft{Text: text},
	})
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	time.Sleep(5 * time.Millisecond)
	return msg
}

func (f *fixture) watch(t *testing.T) *recorder[[]domain.Document] {
	t.Helper()
	rec := &recorder[[]domain.Document]{}
	sub, err := f.b.Messages.Watch(context.Background(), f.room, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Unsubscribe)
	return rec
}

func texts(docs []domain.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.String(domain.FieldText)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testMessagesNewestFirst(t *testing.T, b Backend) {
	f := newFixture(t, b)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		f.send(t, f.alice, text)
	}

	rec := f.watch(t)
	want := []string{"three", "two", "one"}
	eventually(t, "three messages", func() bool {
		docs, _ := rec.last()
		return equal(texts(docs), want)
	})

	docs, _ := rec.last()
	var prev time.Time
	for i, d := range docs {
		at, ok := d[domain.FieldCreatedAt].(time.Time)
		if !ok {
			t.Fatalf("createdAt of %q is %T", d.String(domain.FieldText), d[domain.FieldCreatedAt])
		}
		if i > 0 && at.After(prev) {
			t.Errorf("%q is newer than the message before it", d.String(domain.FieldText))
		}
		prev = at
	}

	msgs, skipped := domain.TranslateSnapshot(docs)
	if len(skipped) != 0 || len(msgs) != 3 {
		t.Errorf("translated %d, skipped %v", len(msgs), skipped)
	}

	latest, err := b.Messages.Latest(ctx, f.room)
	if err != nil || latest.String(domain.FieldText) != "three" {
		t.Errorf("latest = %v, %v", latest, err)
	}
}

func testRoomsByActivity(t *testing.T, b Backend) {
	f := newFixture(t, b)
	g := newFixture(t, b)
	ctx := context.Background()

	// alice of f also talks to bob of g.
	other := domain.RoomID(f.alice.ID, g.bob.ID)
	sendTo := func(peer, text string) {
		t.Helper()
		if _, err := f.chat.SendMessage(ctx, service.SendMessageInput{
			RoomID: domain.RoomID(f.alice.ID, peer), Sender: f.alice, PeerID: peer, Draft: domain.Draft{Text: text},
		}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	sendTo(f.bob.ID, "first")
	sendTo(g.bob.ID, "second")

	rec := &recorder[[]domain.Room]{}
	sub, err := b.Rooms.WatchByParticipant(ctx, f.alice.ID, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Unsubscribe)

	order := func(ids ...string) func() bool {
		return func() bool {
			rooms, _ := rec.last()
			if len(rooms) != len(ids) {
				return false
			}
			for i, id := range ids {
				if rooms[i].ID != id {
					return false
				}
			}
			return true
		}
	}
	eventually(t, "most recent room first", order(other, f.room))

	sendTo(f.bob.ID, "third")
	eventually(t, "room moved to the top", order(f.room, other))

	rooms, _ := rec.last()
	if rooms[0].LastMessage != "third" || rooms[0].LastMessageSenderID != f.alice.ID || rooms[0].LastMessageTimestamp == nil {
		t.Errorf("summary = %+v", rooms[0])
	}
}

func testEditStampsDocument(t *testing.T, b Backend) {
	f := newFixture(t, b)
	msg := f.send(t, f.alice, "draft")

	edited, err := f.chat.EditMessage(context.Background(), f.room, f.alice.ID, msg.ID, "final")
	if err != nil {
		t.Fatal(err)
	}
	if edited.Body == nil || *edited.Body != "final" || edited.EditedAt == nil {
		t.Errorf("edited = %+v", edited)
	}
	if edited.EditedAt != nil && edited.EditedAt.Before(msg.CreatedAt) {
		t.Errorf("editedAt %v before createdAt %v", edited.EditedAt, msg.CreatedAt)
	}
}

type countingMessages struct {
	repository.MessageRepository
	mu     sync.Mutex
	writes int
}

func (c *countingMessages) MarkRead(ctx context.Context, roomID string, ids []string) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.MessageRepository.MarkRead(ctx, roomID, ids)
}

func testMarkReadTwice(t *testing.T, b Backend) {
	f := newFixture(t, b)
	ctx := context.Background()
	one := f.send(t, f.bob, "one")
	two := f.send(t, f.bob, "two")
	mine := f.send(t, f.alice, "mine")

	msgs := &countingMessages{MessageRepository: b.Messages}
	chat := service.NewChatService(b.Rooms, msgs, b.Users, zap.NewNop(), 100)

	n, err := chat.MarkAsRead(ctx, f.room, f.alice.ID)
	if err != nil || n != 2 {
		t.Fatalf("first MarkAsRead = %d, %v", n, err)
	}
	n, err = chat.MarkAsRead(ctx, f.room, f.alice.ID)
	if err != nil || n != 0 {
		t.Fatalf("second MarkAsRead = %d, %v", n, err)
	}
	if msgs.writes != 1 {
		t.Errorf("MarkRead writes = %d, want 1", msgs.writes)
	}

	for _, m := range []*domain.Message{one, two, mine} {
		doc, err := b.Messages.Get(ctx, f.room, m.ID)
		if err != nil || doc == nil {
			t.Fatalf("get %s = %v, %v", m.ID, doc, err)
		}
		read, _ := doc[domain.FieldRead].(bool)
		if want := m.AuthorID == f.bob.ID; read != want {
			t.Errorf("%q read = %v, want %v", doc.String(domain.FieldText), read, want)
		}
	}
}

func testDeleteReachesWatcher(t *testing.T, b Backend) {
	f := newFixture(t, b)
	ctx := context.Background()
	f.send(t, f.bob, "keep")
	gone := f.send(t, f.alice, "gone")

	rec := f.watch(t)
	eventually(t, "both messages", func() bool {
		docs, _ := rec.last()
		return len(docs) == 2
	})

	if err := f.chat.DeleteMessage(ctx, f.room, f.alice.ID, gone.ID); err != nil {
		t.Fatal(err)
	}
	eventually(t, "delete in the watched snapshot", func() bool {
		docs, _ := rec.last()
		return equal(texts(docs), []string{"keep"})
	})

	room, err := b.Rooms.Get(ctx, f.room)
	if err != nil || room == nil {
		t.Fatalf("room = %v, %v", room, err)
	}
	if room.LastMessage != "keep" || room.LastMessageSenderID != f.bob.ID {
		t.Errorf("summary after delete = %+v", room)
	}
}

func testUnreadCountDropsToZero(t *testing.T, b Backend) {
	f := newFixture(t, b)
	ctx := context.Background()
	if _, err := f.chat.EnsureRoom(ctx, f.alice.ID, f.bob.ID); err != nil {
		t.Fatal(err)
	}

	rec := &recorder[int]{}
	sub, err := b.Messages.WatchUnreadCount(ctx, f.room, f.bob.ID, rec.fn)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sub.Unsubscribe)
	count := func(want int) func() bool {
		return func() bool {
			n, ok := rec.last()
			return ok && n == want
		}
	}
	eventually(t, "no unread", count(0))

	f.send(t, f.bob, "one")
	f.send(t, f.bob, "two")
	f.send(t, f.alice, "not counted")
	eventually(t, "two unread", count(2))

	if _, err := f.chat.MarkAsRead(ctx, f.room, f.alice.ID); err != nil {
		t.Fatal(err)
	}
	eventually(t, "unread back to zero", count(0))
}
