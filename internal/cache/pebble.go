package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Pebble is the on-device cache: one pebble directory per client.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens or creates the cache at path. fs may be nil for the real
// filesystem; tests pass vfs.NewMem().
func OpenPebble(path string, fs vfs.FS) (*Pebble, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble cache: %w", err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (p *Pebble) Set(ctx context.Context, key string, value []byte) error {
	return p.db.Set([]byte(key), value, pebble.Sync)
}

func (p *Pebble) Delete(ctx context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
