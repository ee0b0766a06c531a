package repository

import (
	"context"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
)

// Subscription is a live query. Every emission carries the full current
// result set. A failed query is reported as a non-nil error with a nil
// result, never as an empty one.
type Subscription interface {
	Unsubscribe()
}

type MessageSnapshotFunc func(docs []domain.Document, err error)
type RoomSnapshotFunc func(rooms []domain.Room, err error)
type CountFunc func(count int, err error)

type RoomRepository interface {
	Get(ctx context.Context, id string) (*domain.Room, error)
	// CreateIfAbsent creates room unless a room with its id exists. It
	// reports whether a new room was written.
	CreateIfAbsent(ctx context.Context, room *domain.Room) (bool, error)
	// UpdateLastMessage refreshes the denormalized summary; the timestamp
	// comes from the store's clock.
	UpdateLastMessage(ctx context.Context, id, text, senderID string) error
	// WatchByParticipant emits the rooms containing userID, most recent
	// lastMessageTimestamp first.
	WatchByParticipant(ctx context.Context, userID string, fn RoomSnapshotFunc) (Subscription, error)
}

type MessageRepository interface {
	// Create stores doc in roomID. The store assigns the id and createdAt.
	Create(ctx context.Context, roomID string, doc domain.Document) (id string, createdAt time.Time, err error)
	Get(ctx context.Context, roomID, id string) (domain.Document, error)
	// Latest returns the newest message in roomID, or nil when it is empty.
	Latest(ctx context.Context, roomID string) (domain.Document, error)
	UpdateText(ctx context.Context, roomID, id, text string) error
	Delete(ctx context.Context, roomID, id string) error
	// ListUnreadIDs returns the unread messages in roomID not authored by
	// viewerID.
	ListUnreadIDs(ctx context.Context, roomID, viewerID string) ([]string, error)
	// MarkRead sets read=true on ids in one atomic batch.
	MarkRead(ctx context.Context, roomID string, ids []string) error
	// Watch emits every message in roomID, newest first.
	Watch(ctx context.Context, roomID string, fn MessageSnapshotFunc) (Subscription, error)
	// WatchUnreadCount emits the number of unread messages from senderID.
	WatchUnreadCount(ctx context.Context, roomID, senderID string, fn CountFunc) (Subscription, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error
	SetPushToken(ctx context.Context, id, token string) error
}

type MediaRepository interface {
	Put(ctx context.Context, obj *domain.MediaObject) error
	Get(ctx context.Context, key string) (*domain.MediaObject, error)
}
