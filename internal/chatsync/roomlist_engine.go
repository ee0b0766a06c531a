package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
	"github.com/vedran77/chatsync/internal/repository"
	"go.uber.org/zap"
)

type RoomListEngineConfig struct {
	Rooms repository.RoomRepository
	Users repository.UserRepository
	Cache cache.Store
	Log   *zap.Logger
	// Policy defaults to EmptyKeep so a transient empty read never clobbers
	// a good cached list.
	Policy EmptySnapshotPolicy
	// Unread, when set, is kept tracking exactly the rooms in the list.
	Unread   *UnreadTracker
	OnChange func(rooms []domain.RoomSummary)
}

// RoomListEngine holds the signed-in user's conversations, most recently
// active first, each joined with the other participant's profile.
type RoomListEngine struct {
	cfg    RoomListEngineConfig
	log    *zap.Logger
	policy EmptySnapshotPolicy

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	viewerID  string
	summaries []domain.RoomSummary
	sub       repository.Subscription
	started   bool
	closed    bool
}

func NewRoomListEngine(cfg RoomListEngineConfig) *RoomListEngine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return &RoomListEngine{
		cfg:    cfg,
		log:    cfg.Log.Named("chatsync.rooms"),
		policy: cfg.Policy.resolve(EmptyKeep),
	}
}

func (e *RoomListEngine) Initialize(ctx context.Context, viewerID string) (repository.Subscription, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("room list engine already initialized for %s", e.viewerID)
	}
	e.started = true
	e.viewerID = viewerID
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	log := e.log.With(zap.String("viewer", viewerID))

	var cached []domain.RoomSummary
	ok, err := cache.Load(ctx, e.cfg.Cache, cache.RoomsKey(viewerID), &cached)
	if err != nil {
		log.Warn("reading room cache", zap.Error(err))
	}
	if ok {
		e.mu.Lock()
		e.summaries = cached
		e.mu.Unlock()
		e.emit(ctx, cached)
	}

	sub, err := e.cfg.Rooms.WatchByParticipant(ctx, viewerID, e.onSnapshot)
	if err != nil {
		log.Error("attaching room subscription", zap.Error(err))
		return nil, fmt.Errorf("watching rooms of %s: %w", viewerID, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		sub.Unsubscribe()
		return nil, ErrClosed
	}
	e.sub = sub
	e.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	return sub, nil
}

func (e *RoomListEngine) onSnapshot(rooms []domain.Room, err error) {
	e.mu.Lock()
	closed, ctx, viewerID := e.closed, e.ctx, e.viewerID
	e.mu.Unlock()
	if closed {
		return
	}

	if err != nil {
		e.log.Warn("room snapshot failed", zap.String("viewer", viewerID), zap.Error(err))
		metrics.SnapshotsSkipped.WithLabelValues("rooms", "error").Inc()
		return
	}

	summaries := e.resolve(ctx, viewerID, rooms)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if len(summaries) == 0 && e.policy == EmptyKeep {
		e.mu.Unlock()
		metrics.SnapshotsSkipped.WithLabelValues("rooms", "empty").Inc()
		return
	}
	e.summaries = summaries
	if _, err := cache.Save(ctx, e.cfg.Cache, cache.RoomsKey(viewerID), summaries); err != nil {
		e.log.Warn("writing room cache", zap.String("viewer", viewerID), zap.Error(err))
	}
	e.mu.Unlock()

	metrics.SnapshotsApplied.WithLabelValues("rooms").Inc()
	e.emit(ctx, summaries)
}

// resolve joins each room with its peer's profile, one lookup at a time. A
// room whose peer cannot be loaded is left out of this pass only.
func (e *RoomListEngine) resolve(ctx context.Context, viewerID string, rooms []domain.Room) []domain.RoomSummary {
	summaries := make([]domain.RoomSummary, 0, len(rooms))
	for i := range rooms {
		room := rooms[i]

		peerID, err := room.OtherParticipant(viewerID)
		if err != nil {
			e.log.Warn("skipping room", zap.String("room", room.ID), zap.Error(err))
			continue
		}

		peer, err := e.cfg.Users.GetByID(ctx, peerID)
		if err != nil {
			e.log.Warn("resolving room peer", zap.String("room", room.ID), zap.String("peer", peerID), zap.Error(err))
			continue
		}
		if peer == nil {
			e.log.Warn("room peer not found", zap.String("room", room.ID), zap.String("peer", peerID))
			continue
		}

		summaries = append(summaries, domain.NewRoomSummary(room, peer))
	}
	return summaries
}

func (e *RoomListEngine) emit(ctx context.Context, summaries []domain.RoomSummary) {
	if e.cfg.Unread != nil {
		e.cfg.Unread.Sync(ctx, summaries)
	}
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(append([]domain.RoomSummary(nil), summaries...))
	}
}

// Summaries returns the current list, most recent first.
func (e *RoomListEngine) Summaries() []domain.RoomSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.RoomSummary(nil), e.summaries...)
}

func (e *RoomListEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sub := e.sub
	e.sub = nil
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		metrics.ActiveSubscriptions.Dec()
	}
}
