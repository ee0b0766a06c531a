// Package cache is the local cache the sync engines render from before the
// first live snapshot arrives. Values are opaque JSON blobs; every write is a
// full overwrite and the last one wins.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("cache is closed")

type Store interface {
	// Get returns the blob under key. ok is false when nothing is stored.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

func MessagesKey(roomID string) string { return "messages:" + roomID }
func RoomsKey(userID string) string    { return "rooms:" + userID }

// Load decodes the blob under key into v. A missing key leaves v untouched
// and returns false.
func Load(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Save encodes v and stores it under key, returning the stored bytes.
func Save(ctx context.Context, s Store, key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.Set(ctx, key, data); err != nil {
		return nil, err
	}
	return data, nil
}
