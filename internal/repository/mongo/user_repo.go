package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type UserRepo struct {
	coll *mongo.Collection
}

type userRecord struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"passwordHash"`
	AvatarURL    *string   `bson:"avatar,omitempty"`
	PushToken    string    `bson:"expoPushToken"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	_, err := r.coll.InsertOne(ctx, userRecord(*user))
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrConflict
	}
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepo) UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error {
	set := bson.M{"username": username, "updatedAt": time.Now().UTC()}
	update := bson.M{"$set": set}
	if avatarURL != nil {
		set["avatar"] = *avatarURL
	} else {
		update["$unset"] = bson.M{"avatar": ""}
	}
	return r.update(ctx, id, update)
}

func (r *UserRepo) SetPushToken(ctx context.Context, id, token string) error {
	return r.update(ctx, id, bson.M{"$set": bson.M{"expoPushToken": token, "updatedAt": time.Now().UTC()}})
}

func (r *UserRepo) update(ctx context.Context, id string, update bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepo) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var rec userRecord
	err := r.coll.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u := domain.User(rec)
	return &u, nil
}
