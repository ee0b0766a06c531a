package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vedran77/chatsync/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MediaRepo keeps uploaded images and voice notes in GridFS, keyed by the
// object key.
type MediaRepo struct {
	bucket *gridfs.Bucket
}

type mediaFile struct {
	ID         string    `bson:"_id"`
	UploadDate time.Time `bson:"uploadDate"`
	Metadata   struct {
		ContentType string `bson:"contentType"`
	} `bson:"metadata"`
}

func (r *MediaRepo) Put(ctx context.Context, obj *domain.MediaObject) error {
	if err := r.bucket.Delete(obj.Key); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("replacing media: %w", err)
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"contentType": obj.ContentType})
	if err := r.bucket.UploadFromStreamWithID(obj.Key, obj.Key, bytes.NewReader(obj.Data), opts); err != nil {
		return fmt.Errorf("uploading media: %w", err)
	}
	return nil
}

func (r *MediaRepo) Get(ctx context.Context, key string) (*domain.MediaObject, error) {
	cur, err := r.bucket.Find(bson.M{"_id": key})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return nil, cur.Err()
	}
	var file mediaFile
	if err := cur.Decode(&file); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := r.bucket.DownloadToStream(key, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &domain.MediaObject{
		Key:         key,
		ContentType: file.Metadata.ContentType,
		Data:        buf.Bytes(),
		CreatedAt:   file.UploadDate,
	}, nil
}
