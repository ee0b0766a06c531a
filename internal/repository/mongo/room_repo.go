package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RoomRepo struct {
	s    *Store
	coll *mongo.Collection
}

func (r *RoomRepo) Get(ctx context.Context, id string) (*domain.Room, error) {
	var m bson.M
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	room := decodeRoom(m)
	return &room, nil
}

// CreateIfAbsent upserts with $setOnInsert so two clients opening the same
// room at once end up with a single record.
func (r *RoomRepo) CreateIfAbsent(ctx context.Context, room *domain.Room) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": room.ID},
		bson.M{
			"$setOnInsert": bson.M{
				"participants":        room.Participants,
				"lastMessage":         "",
				"lastMessageSenderId": "",
				"createdAt":           room.CreatedAt,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, fmt.Errorf("creating room: %w", err)
	}
	return res.UpsertedCount > 0, nil
}

func (r *RoomRepo) UpdateLastMessage(ctx context.Context, id, text, senderID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":         bson.M{"lastMessage": text, "lastMessageSenderId": senderID},
			"$currentDate": bson.M{"lastMessageTimestamp": true},
		},
	)
	if err != nil {
		return fmt.Errorf("updating room summary: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *RoomRepo) WatchByParticipant(ctx context.Context, userID string, fn repository.RoomSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Room, error) {
		return r.listByParticipant(ctx, userID)
	}
	return subscribe(r.s, userKey(userID), fetch, fn), nil
}

func (r *RoomRepo) listByParticipant(ctx context.Context, userID string) ([]domain.Room, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "lastMessageTimestamp", Value: -1},
		{Key: "createdAt", Value: -1},
		{Key: "_id", Value: -1},
	})
	cur, err := r.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	rooms := make([]domain.Room, 0)
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		rooms = append(rooms, decodeRoom(m))
	}
	return rooms, cur.Err()
}

func decodeRoom(m bson.M) domain.Room {
	doc := toDocument(m)
	room := domain.Room{
		ID:                  doc.String("_id"),
		LastMessage:         doc.String("lastMessage"),
		LastMessageSenderID: doc.String("lastMessageSenderId"),
	}
	if parts, ok := doc["participants"].([]any); ok {
		for _, p := range parts {
			if s, ok := p.(string); ok {
				room.Participants = append(room.Participants, s)
			}
		}
	}
	if ts, ok := doc["lastMessageTimestamp"].(time.Time); ok {
		room.LastMessageTimestamp = &ts
	}
	if ts, ok := doc["createdAt"].(time.Time); ok {
		room.CreatedAt = ts
	}
	return room
}
