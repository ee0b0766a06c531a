// Package memory is an in-process document store. It backs tests, the CLI's
// offline mode and STORE_DRIVER=memory, and follows the same live-query
// contract as the postgres and mongo stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/live"
	"github.com/vedran77/chatsync/internal/repository"
)

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	rooms    map[string]*domain.Room
	messages map[string]map[string]domain.Document
	users    map[string]*domain.User
	media    map[string]*domain.MediaObject

	feeds *live.Registry
}

type Option func(*Store)

// WithClock replaces the store clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		rooms:    make(map[string]*domain.Room),
		messages: make(map[string]map[string]domain.Document),
		users:    make(map[string]*domain.User),
		media:    make(map[string]*domain.MediaObject),
		feeds:    live.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Rooms() *RoomRepo       { return &RoomRepo{s: s} }
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }
func (s *Store) Users() *UserRepo       { return &UserRepo{s: s} }
func (s *Store) Media() *MediaRepo      { return &MediaRepo{s: s} }

// ActiveSubscriptions returns the number of live queries still attached.
func (s *Store) ActiveSubscriptions() int {
	return s.feeds.Len()
}

func roomKey(roomID string) string { return "room:" + roomID }
func userKey(userID string) string { return "user:" + userID }

// subscribe registers a feed under key and removes it again on Unsubscribe.
func subscribe[T any](s *Store, key string, fetch live.FetchFunc[T], fn func(T, error)) repository.Subscription {
	var feed *live.Feed[T]
	feed = live.Start(fetch, fn, func() { s.feeds.Remove(key, feed) })
	s.feeds.Add(key, feed)
	// A write may have landed between the first fetch and registration.
	feed.Refresh()
	return feed
}

// RoomRepo

type RoomRepo struct {
	s *Store
}

func (r *RoomRepo) Get(ctx context.Context, id string) (*domain.Room, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	room, ok := r.s.rooms[id]
	if !ok {
		return nil, nil
	}
	return copyRoom(room), nil
}

func (r *RoomRepo) CreateIfAbsent(ctx context.Context, room *domain.Room) (bool, error) {
	r.s.mu.Lock()
	if _, ok := r.s.rooms[room.ID]; ok {
		r.s.mu.Unlock()
		return false, nil
	}
	stored := copyRoom(room)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.s.now()
	}
	r.s.rooms[room.ID] = stored
	r.s.mu.Unlock()

	r.s.notifyParticipants(stored.Participants)
	return true, nil
}

func (r *RoomRepo) UpdateLastMessage(ctx context.Context, id, text, senderID string) error {
	r.s.mu.Lock()
	room, ok := r.s.rooms[id]
	if !ok {
		r.s.mu.Unlock()
		return repository.ErrNotFound
	}
	now := r.s.now()
	room.LastMessage = text
	room.LastMessageSenderID = senderID
	room.LastMessageTimestamp = &now
	participants := append([]string(nil), room.Participants...)
	r.s.mu.Unlock()

	r.s.notifyParticipants(participants)
	return nil
}

func (r *RoomRepo) WatchByParticipant(ctx context.Context, userID string, fn repository.RoomSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Room, error) {
		return r.listByParticipant(userID), nil
	}
	return subscribe(r.s, userKey(userID), fetch, fn), nil
}

func (r *RoomRepo) listByParticipant(userID string) []domain.Room {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rooms := make([]domain.Room, 0)
	for _, room := range r.s.rooms {
		if room.HasParticipant(userID) {
			rooms = append(rooms, *copyRoom(room))
		}
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		ti, tj := rooms[i].LastMessageTimestamp, rooms[j].LastMessageTimestamp
		switch {
		case ti == nil && tj == nil:
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		case ti == nil:
			return false
		case tj == nil:
			return true
		case !ti.Equal(*tj):
			return ti.After(*tj)
		}
		return rooms[i].ID > rooms[j].ID
	})
	return rooms
}

func (s *Store) notifyParticipants(participants []string) {
	keys := make([]string, 0, len(participants))
	for _, p := range participants {
		keys = append(keys, userKey(p))
	}
	s.feeds.Notify(keys...)
}

func copyRoom(r *domain.Room) *domain.Room {
	cp := *r
	cp.Participants = append([]string(nil), r.Participants...)
	if r.LastMessageTimestamp != nil {
		ts := *r.LastMessageTimestamp
		cp.LastMessageTimestamp = &ts
	}
	return &cp
}

// MessageRepo

type MessageRepo struct {
	s *Store
}

func (r *MessageRepo) Create(ctx context.Context, roomID string, doc domain.Document) (string, time.Time, error) {
	id := uuid.NewString()

	r.s.mu.Lock()
	stored := doc.Clone()
	now := r.s.now()
	stored[domain.FieldID] = id
	stored[domain.FieldRoomID] = roomID
	stored[domain.FieldCreatedAt] = now
	if _, ok := r.s.messages[roomID]; !ok {
		r.s.messages[roomID] = make(map[string]domain.Document)
	}
	r.s.messages[roomID][id] = stored
	r.s.mu.Unlock()

	r.s.feeds.Notify(roomKey(roomID))
	return id, now, nil
}

func (r *MessageRepo) Get(ctx context.Context, roomID, id string) (domain.Document, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	doc, ok := r.s.messages[roomID][id]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (r *MessageRepo) Latest(ctx context.Context, roomID string) (domain.Document, error) {
	docs := r.list(roomID)
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

func (r *MessageRepo) UpdateText(ctx context.Context, roomID, id, text string) error {
	r.s.mu.Lock()
	doc, ok := r.s.messages[roomID][id]
	if !ok {
		r.s.mu.Unlock()
		return repository.ErrNotFound
	}
	doc[domain.FieldText] = text
	doc[domain.FieldEditedAt] = r.s.now()
	r.s.mu.Unlock()

	r.s.feeds.Notify(roomKey(roomID))
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, roomID, id string) error {
	r.s.mu.Lock()
	if _, ok := r.s.messages[roomID][id]; !ok {
		r.s.mu.Unlock()
		return repository.ErrNotFound
	}
	delete(r.s.messages[roomID], id)
	r.s.mu.Unlock()

	r.s.feeds.Notify(roomKey(roomID))
	return nil
}

func (r *MessageRepo) ListUnreadIDs(ctx context.Context, roomID, viewerID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var ids []string
	for id, doc := range r.s.messages[roomID] {
		if doc.String(domain.FieldSenderID) != viewerID && !isRead(doc) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, roomID string, ids []string) error {
	r.s.mu.Lock()
	for _, id := range ids {
		if doc, ok := r.s.messages[roomID][id]; ok {
			doc[domain.FieldRead] = true
		}
	}
	r.s.mu.Unlock()

	r.s.feeds.Notify(roomKey(roomID))
	return nil
}

func (r *MessageRepo) Watch(ctx context.Context, roomID string, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Document, error) {
		return r.list(roomID), nil
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

func (r *MessageRepo) WatchUnreadCount(ctx context.Context, roomID, senderID string, fn repository.CountFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) (int, error) {
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()

		n := 0
		for _, doc := range r.s.messages[roomID] {
			if doc.String(domain.FieldSenderID) == senderID && !isRead(doc) {
				n++
			}
		}
		return n, nil
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

// list returns copies of every message in roomID, newest first. Equal
// timestamps fall back to id order so snapshots are deterministic.
func (r *MessageRepo) list(roomID string) []domain.Document {
	r.s.mu.RLock()
	docs := make([]domain.Document, 0, len(r.s.messages[roomID]))
	for _, doc := range r.s.messages[roomID] {
		docs = append(docs, doc.Clone())
	}
	r.s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		ti, _ := docs[i][domain.FieldCreatedAt].(time.Time)
		tj, _ := docs[j][domain.FieldCreatedAt].(time.Time)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return docs[i].String(domain.FieldID) > docs[j].String(domain.FieldID)
	})
	return docs
}

func isRead(doc domain.Document) bool {
	read, _ := doc[domain.FieldRead].(bool)
	return read
}

// UserRepo

type UserRepo struct {
	s *Store
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.users[user.ID]; ok {
		return repository.ErrConflict
	}
	for _, u := range r.s.users {
		if u.Email == user.Email || u.Username == user.Username {
			return repository.ErrConflict
		}
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }), nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Email == email }), nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == username }), nil
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Username = username
	u.AvatarURL = avatarURL
	u.UpdatedAt = r.s.now()
	return nil
}

func (r *UserRepo) SetPushToken(ctx context.Context, id, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PushToken = token
	u.UpdatedAt = r.s.now()
	return nil
}

func (r *UserRepo) find(match func(*domain.User) bool) *domain.User {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

// MediaRepo

type MediaRepo struct {
	s *Store
}

func (r *MediaRepo) Put(ctx context.Context, obj *domain.MediaObject) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cp := *obj
	cp.Data = append([]byte(nil), obj.Data...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = r.s.now()
	}
	r.s.media[obj.Key] = &cp
	return nil
}

func (r *MediaRepo) Get(ctx context.Context, key string) (*domain.MediaObject, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	obj, ok := r.s.media[key]
	if !ok {
		return nil, nil
	}
	cp := *obj
	return &cp, nil
}
