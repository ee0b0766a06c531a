// Package mongo stores rooms, messages and users as documents and drives
// live queries from change streams. Change streams need a replica set.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/live"
	"github.com/vedran77/chatsync/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	roomsCollection    = "rooms"
	messagesCollection = "messages"
	usersCollection    = "users"
)

type Store struct {
	db     *mongo.Database
	bucket *gridfs.Bucket
	log    *zap.Logger
	feeds  *live.Registry
}

// Connect dials uri and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

func NewStore(db *mongo.Database, log *zap.Logger) (*Store, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("media"))
	if err != nil {
		return nil, fmt.Errorf("opening media bucket: %w", err)
	}
	return &Store{db: db, bucket: bucket, log: log, feeds: live.NewRegistry()}, nil
}

// EnsureIndexes creates the indexes the queries below rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "roomId", Value: 1}, {Key: "senderId", Value: 1}, {Key: "read", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating message indexes: %w", err)
	}
	_, err = s.db.Collection(roomsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating room indexes: %w", err)
	}
	_, err = s.db.Collection(usersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("creating user indexes: %w", err)
	}
	return nil
}

func (s *Store) Rooms() *RoomRepo { return &RoomRepo{s: s, coll: s.db.Collection(roomsCollection)} }
func (s *Store) Messages() *MessageRepo {
	return &MessageRepo{s: s, coll: s.db.Collection(messagesCollection)}
}
func (s *Store) Users() *UserRepo  { return &UserRepo{coll: s.db.Collection(usersCollection)} }
func (s *Store) Media() *MediaRepo { return &MediaRepo{bucket: s.bucket} }

// Listen tails the message and room collections and wakes the feeds whose
// result set the change touches.
func (s *Store) Listen(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.tail(ctx, messagesCollection, s.messageKeys) })
	g.Go(func() error { return s.tail(ctx, roomsCollection, s.roomKeys) })
	return g.Wait()
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
}

func (s *Store) tail(ctx context.Context, coll string, keys func(changeEvent) []string) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.db.Collection(coll).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return fmt.Errorf("watching %s: %w", coll, err)
	}
	defer cs.Close(context.Background())
	s.log.Info("mongo change stream started", zap.String("collection", coll))

	for cs.Next(ctx) {
		var ev changeEvent
		if err := cs.Decode(&ev); err != nil {
			s.log.Warn("decoding change event", zap.String("collection", coll), zap.Error(err))
			continue
		}
		if k := keys(ev); len(k) > 0 {
			s.feeds.Notify(k...)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return cs.Err()
}

// messageKeys reads the room from the full document, or from the id prefix
// for deletes, which carry no document.
func (s *Store) messageKeys(ev changeEvent) []string {
	roomID, _ := ev.FullDocument[domain.FieldRoomID].(string)
	if roomID == "" {
		if id, ok := ev.DocumentKey.ID.(string); ok {
			roomID = roomOfMessage(id)
		}
	}
	if roomID == "" {
		return nil
	}
	return []string{roomKey(roomID)}
}

func (s *Store) roomKeys(ev changeEvent) []string {
	parts, _ := ev.FullDocument["participants"].(bson.A)
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if id, ok := p.(string); ok {
			keys = append(keys, userKey(id))
		}
	}
	return keys
}

func roomKey(roomID string) string { return "room:" + roomID }
func userKey(userID string) string { return "user:" + userID }

func subscribe[T any](s *Store, key string, fetch live.FetchFunc[T], fn func(T, error)) repository.Subscription {
	var feed *live.Feed[T]
	feed = live.Start(fetch, fn, func() { s.feeds.Remove(key, feed) })
	s.feeds.Add(key, feed)
	feed.Refresh()
	return feed
}
