package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo struct {
	s    *Store
	coll *mongo.Collection
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

// Create writes doc with a server-side createdAt and reads the timestamp
// back, so ordering never depends on a client clock.
func (r *MessageRepo) Create(ctx context.Context, roomID string, doc domain.Document) (string, time.Time, error) {
	id := messageID(roomID)
	body := doc.Clone()
	delete(body, domain.FieldID)
	delete(body, domain.FieldCreatedAt)
	body[domain.FieldRoomID] = roomID

	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$setOnInsert": map[string]any(body),
			"$currentDate": bson.M{domain.FieldCreatedAt: true},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating message: %w", err)
	}

	stored, err := r.Get(ctx, roomID, id)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading created message: %w", err)
	}
	createdAt, _ := stored[domain.FieldCreatedAt].(time.Time)
	return id, createdAt, nil
}

func (r *MessageRepo) Get(ctx context.Context, roomID, id string) (domain.Document, error) {
	return r.findOne(ctx, bson.M{"_id": id, domain.FieldRoomID: roomID})
}

func (r *MessageRepo) Latest(ctx context.Context, roomID string) (domain.Document, error) {
	return r.findOne(ctx, bson.M{domain.FieldRoomID: roomID}, options.FindOne().SetSort(newestFirst))
}

func (r *MessageRepo) UpdateText(ctx context.Context, roomID, id, text string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, domain.FieldRoomID: roomID},
		bson.M{
			"$set":         bson.M{domain.FieldText: text},
			"$currentDate": bson.M{domain.FieldEditedAt: true},
		},
	)
	if err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, roomID, id string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, domain.FieldRoomID: roomID})
	if err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) ListUnreadIDs(ctx context.Context, roomID, viewerID string) ([]string, error) {
	filter := bson.M{
		domain.FieldRoomID:   roomID,
		domain.FieldSenderID: bson.M{"$ne": viewerID},
		domain.FieldRead:     bson.M{"$ne": true},
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var row struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cur.Err()
}

// MarkRead runs the batch inside a transaction so the read flags land
// together.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID string, ids []string) error {
	sess, err := r.coll.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return r.coll.UpdateMany(sc,
			bson.M{domain.FieldRoomID: roomID, "_id": bson.M{"$in": ids}},
			bson.M{"$set": bson.M{domain.FieldRead: true}},
		)
	})
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}

func (r *MessageRepo) Watch(ctx context.Context, roomID string, fn repository.MessageSnapshotFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) ([]domain.Document, error) {
		return r.list(ctx, roomID)
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

func (r *MessageRepo) WatchUnreadCount(ctx context.Context, roomID, senderID string, fn repository.CountFunc) (repository.Subscription, error) {
	fetch := func(ctx context.Context) (int, error) {
		n, err := r.coll.CountDocuments(ctx, bson.M{
			domain.FieldRoomID:   roomID,
			domain.FieldSenderID: senderID,
			domain.FieldRead:     bson.M{"$ne": true},
		})
		return int(n), err
	}
	return subscribe(r.s, roomKey(roomID), fetch, fn), nil
}

func (r *MessageRepo) list(ctx context.Context, roomID string) ([]domain.Document, error) {
	cur, err := r.coll.Find(ctx, bson.M{domain.FieldRoomID: roomID}, options.Find().SetSort(newestFirst))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := make([]domain.Document, 0)
	for cur.Next(ctx) {
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		docs = append(docs, toDocument(m))
	}
	return docs, cur.Err()
}

// messageID prefixes the id with its room so that delete events, which only
// carry the document key, still name the room.
func messageID(roomID string) string {
	return roomID + ":" + uuid.NewString()
}

func roomOfMessage(id string) string {
	roomID, _, ok := strings.Cut(id, ":")
	if !ok {
		return ""
	}
	return roomID
}

func (r *MessageRepo) findOne(ctx context.Context, filter bson.M, opts ...*options.FindOneOptions) (domain.Document, error) {
	var m bson.M
	err := r.coll.FindOne(ctx, filter, opts...).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toDocument(m), nil
}
