package chatsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/internal/repository/memory"
	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store unavailable")

type testEnv struct {
	store    *memory.Store
	messages *flakyMessages
	chat     *service.ChatService
	cache    *cache.Memory
	alice    domain.Author
	bob      domain.Author
}

func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore(memory.WithClock(stepClock()))

	for _, u := range []*domain.User{
		{ID: "alice", Email: "alice@example.com", Username: "alice"},
		{ID: "bob", Email: "bob@example.com", Username: "bob"},
		{ID: "carol", Email: "carol@example.com", Username: "carol"},
	} {
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	messages := &flakyMessages{MessageRepository: store.Messages()}
	return &testEnv{
		store:    store,
		messages: messages,
		chat:     service.NewChatService(store.Rooms(), messages, store.Users(), zap.NewNop(), 100),
		cache:    cache.NewMemory(),
		alice:    domain.Author{ID: "alice", Name: "alice"},
		bob:      domain.Author{ID: "bob", Name: "bob"},
	}
}

// send writes a text message from one user to another through the service,
// the way another device would.
func (e *testEnv) send(t *testing.T, from, to, text string) *domain.Message {
	t.Helper()
	ctx := context.Background()
	if _, err := e.chat.EnsureRoom(ctx, from, to); err != nil {
		t.Fatal(err)
	}
	msg, err := e.chat.SendMessage(ctx, service.SendMessageInput{
		RoomID: domain.RoomID(from, to),
		Sender: domain.Author{ID: from, Name: from},
		PeerID: to,
		Draft:  domain.Draft{Text: text},
	})
	if err != nil {
		t.Fatalf("SendMessage(%q): %v", text, err)
	}
	return msg
}

func (e *testEnv) messageEngine(t *testing.T, viewer, peer string, opts ...func(*MessageEngineConfig)) (*MessageEngine, *recorder[[]domain.Message]) {
	t.Helper()
	rec := &recorder[[]domain.Message]{}
	cfg := MessageEngineConfig{
		Chat:     e.chat,
		Messages: e.messages,
		Users:    e.store.Users(),
		Cache:    e.cache,
		OnChange: rec.record,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	engine := NewMessageEngine(cfg)
	if _, err := engine.Initialize(context.Background(), domain.RoomID(viewer, peer), viewer, peer); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, rec
}

// flakyMessages fails selected writes on demand and counts batch reads.
type flakyMessages struct {
	repository.MessageRepository

	failCreate atomic.Bool
	failUpdate atomic.Bool
	failDelete atomic.Bool
	markReads  atomic.Int32
}

func (f *flakyMessages) Create(ctx context.Context, roomID string, doc domain.Document) (string, time.Time, error) {
	if f.failCreate.Load() {
		return "", time.Time{}, errStoreDown
	}
	return f.MessageRepository.Create(ctx, roomID, doc)
}

func (f *flakyMessages) UpdateText(ctx context.Context, roomID, id, text string) error {
	if f.failUpdate.Load() {
		return errStoreDown
	}
	return f.MessageRepository.UpdateText(ctx, roomID, id, text)
}

func (f *flakyMessages) Delete(ctx context.Context, roomID, id string) error {
	if f.failDelete.Load() {
		return errStoreDown
	}
	return f.MessageRepository.Delete(ctx, roomID, id)
}

func (f *flakyMessages) MarkRead(ctx context.Context, roomID string, ids []string) error {
	f.markReads.Add(1)
	return f.MessageRepository.MarkRead(ctx, roomID, ids)
}

// scriptedMessages hands the live callback to the test instead of running a
// query, so snapshots arrive exactly when the test sends them.
type scriptedMessages struct {
	repository.MessageRepository

	mu sync.Mutex
	fn repository.MessageSnapshotFunc
}

func (s *scriptedMessages) Watch(ctx context.Context, roomID string, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return nopSubscription{}, nil
}

func (s *scriptedMessages) emit(docs []domain.Document, err error) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(docs, err)
}

type scriptedRooms struct {
	repository.RoomRepository

	mu sync.Mutex
	fn repository.RoomSnapshotFunc
}

func (s *scriptedRooms) WatchByParticipant(ctx context.Context, userID string, fn repository.RoomSnapshotFunc) (repository.Subscription, error) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	return nopSubscription{}, nil
}

func (s *scriptedRooms) emit(rooms []domain.Room, err error) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(rooms, err)
}

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}

type recorder[T any] struct {
	mu   sync.Mutex
	seen []T
}

func (r *recorder[T]) record(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, v)
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *recorder[T]) last() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.seen) == 0 {
		return zero, false
	}
	return r.seen[len(r.seen)-1], true
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func textDoc(id, sender, text string, at time.Time) domain.Document {
	return domain.Document{
		domain.FieldID:        id,
		domain.FieldSenderID:  sender,
		domain.FieldText:      text,
		domain.FieldType:      string(domain.MessageText),
		domain.FieldCreatedAt: at,
		domain.FieldUser:      map[string]any{domain.FieldID: sender, "name": sender},
	}
}

func hasMessage(msgs []domain.Message, match func(domain.Message) bool) bool {
	for _, m := range msgs {
		if match(m) {
			return true
		}
	}
	return false
}

func bodyOf(m domain.Message) string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}
