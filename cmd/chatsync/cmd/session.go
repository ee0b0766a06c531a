package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/vedran77/chatsync/internal/app"
	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/chatsync"
	"github.com/vedran77/chatsync/internal/config"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/logger"
	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
)

const settleTimeout = 5 * time.Second

// session is one CLI invocation's view of the backends.
type session struct {
	viewerID string
	log      *zap.Logger
	stores   *app.Stores
	cache    cache.Store
	chat     *service.ChatService
	media    *service.MediaService

	cancel     context.CancelFunc
	closeRelay func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	viewerID, _ := cmd.Flags().GetString("as")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg := config.Load()
	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(level)

	ctx := cmd.Context()
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(ctx, cfg)
	if err != nil {
		stores.Close()
		return nil, err
	}

	viewer, err := stores.Users.GetByID(ctx, viewerID)
	if err != nil || viewer == nil {
		store.Close()
		stores.Close()
		if err == nil {
			err = service.ErrUserNotFound
		}
		return nil, fmt.Errorf("user %s: %w", viewerID, err)
	}

	s := &session{
		viewerID: viewerID,
		log:      log,
		stores:   stores,
		cache:    store,
		chat:     service.NewChatService(stores.Rooms, stores.Messages, stores.Users, log, cfg.NotificationBodyLimit),
		media:    service.NewMediaService(stores.Media, cfg.PublicBaseURL),

		closeRelay: func() {},
	}

	relay, closeRelay, err := app.OpenRelay(cfg)
	if err != nil {
		log.Warn("push relay unavailable", zap.Error(err))
	} else {
		s.closeRelay = closeRelay
		if relay != nil {
			s.chat.SetNotifier(relay)
		}
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := stores.Listen(listenCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("change listener stopped", zap.Error(err))
		}
	}()

	return s, nil
}

func (s *session) Close() {
	s.cancel()
	s.chat.Flush()
	s.closeRelay()
	s.cache.Close()
	s.stores.Close()
	s.log.Sync()
}

// openRoom starts a message engine on the room between the viewer and
// peerID. changed receives a signal after every emitted view.
func (s *session) openRoom(ctx context.Context, peerID string, changed chan<- []domain.Message) (*chatsync.MessageEngine, error) {
	engine := chatsync.NewMessageEngine(chatsync.MessageEngineConfig{
		Chat:     s.chat,
		Messages: s.stores.Messages,
		Users:    s.stores.Users,
		Cache:    s.cache,
		Media:    s.media,
		Log:      s.log,
		OnChange: func(view []domain.Message) {
			if changed != nil {
				select {
				case changed <- view:
				default:
				}
			}
		},
	})

	roomID := domain.RoomID(s.viewerID, peerID)
	if _, err := engine.Initialize(ctx, roomID, s.viewerID, peerID); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

// settle waits until updates has been quiet for a short while after its
// first value, or until settleTimeout.
func settle[T any](ctx context.Context, updates <-chan T) {
	deadline := time.NewTimer(settleTimeout)
	defer deadline.Stop()

	var quiet <-chan time.Time
	for {
		select {
		case <-updates:
			quiet = time.After(200 * time.Millisecond)
		case <-quiet:
			return
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}
