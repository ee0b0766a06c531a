// Package app wires the configured backends together for the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/vedran77/chatsync/internal/config"
	"github.com/vedran77/chatsync/internal/database"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/internal/repository/memory"
	mongorepo "github.com/vedran77/chatsync/internal/repository/mongo"
	postgresrepo "github.com/vedran77/chatsync/internal/repository/postgres"
	"go.uber.org/zap"
)

// Stores is the set of repositories backed by one driver. Listen drives the
// driver's live queries and blocks until ctx is done; Close releases the
// connection.
type Stores struct {
	Rooms    repository.RoomRepository
	Messages repository.MessageRepository
	Users    repository.UserRepository
	Media    repository.MediaRepository

	Listen func(ctx context.Context) error
	Close  func()
}

// OpenStores connects the driver named by cfg.StoreDriver.
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("connected to postgres", zap.String("db", cfg.DBName))

		store := postgresrepo.NewStore(pool, log.Named("postgres"))
		return &Stores{
			Rooms:    store.Rooms(),
			Messages: store.Messages(),
			Users:    store.Users(),
			Media:    store.Media(),
			Listen:   store.Listen,
			Close:    pool.Close,
		}, nil

	case "mongo":
		client, err := mongorepo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		closeClient := func() { _ = client.Disconnect(context.Background()) }

		store, err := mongorepo.NewStore(client.Database(cfg.MongoDB), log.Named("mongo"))
		if err != nil {
			closeClient()
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			closeClient()
			return nil, err
		}
		log.Info("connected to mongo", zap.String("db", cfg.MongoDB))

		return &Stores{
			Rooms:    store.Rooms(),
			Messages: store.Messages(),
			Users:    store.Users(),
			Media:    store.Media(),
			Listen:   store.Listen,
			Close:    closeClient,
		}, nil

	case "memory":
		store := memory.NewStore()
		return &Stores{
			Rooms:    store.Rooms(),
			Messages: store.Messages(),
			Users:    store.Users(),
			Media:    store.Media(),
			Listen: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			},
			Close: func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
