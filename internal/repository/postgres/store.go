package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vedran77/chatsync/internal/live"
	"github.com/vedran77/chatsync/internal/repository"
	"go.uber.org/zap"
)

const (
	messageChannel = "message_changes"
	roomChannel    = "room_changes"
)

// Store bundles the postgres repositories with the LISTEN connection that
// drives their live queries. Triggers in the schema publish the room id on
// message writes and the participant list on room writes.
type Store struct {
	pool  *pgxpool.Pool
	log   *zap.Logger
	feeds *live.Registry
}

func NewStore(pool *pgxpool.Pool, log *zap.Logger) *Store {
	return &Store{pool: pool, log: log, feeds: live.NewRegistry()}
}

func (s *Store) Rooms() *RoomRepo       { return &RoomRepo{s: s} }
func (s *Store) Messages() *MessageRepo { return &MessageRepo{s: s} }
func (s *Store) Users() *UserRepo       { return &UserRepo{pool: s.pool} }
func (s *Store) Media() *MediaRepo      { return &MediaRepo{pool: s.pool} }

// Listen holds one connection in LISTEN mode and wakes the matching feeds on
// every notification. It returns when ctx is cancelled or the connection
// fails.
func (s *Store) Listen(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring listener connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range []string{messageChannel, roomChannel} {
		if _, err := conn.Exec(ctx, "LISTEN "+ch); err != nil {
			return fmt.Errorf("listening on %s: %w", ch, err)
		}
	}
	s.log.Info("postgres listener started")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("waiting for notification: %w", err)
		}

		switch n.Channel {
		case messageChannel:
			s.feeds.Notify(roomKey(n.Payload))
		case roomChannel:
			var keys []string
			for _, p := range strings.Split(n.Payload, ",") {
				keys = append(keys, userKey(p))
			}
			s.feeds.Notify(keys...)
		}
	}
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
