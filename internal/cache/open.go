package cache

import (
	"context"
	"fmt"

	"github.com/vedran77/chatsync/internal/config"
)

// Open builds the cache selected by cfg.CacheDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.CacheDriver {
	case "pebble":
		return OpenPebble(cfg.CachePath, nil)
	case "redis":
		client, err := DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, "chatsync:"), nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
}
