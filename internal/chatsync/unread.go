package chatsync

import (
	"context"
	"sort"
	"sync"

	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
	"github.com/vedran77/chatsync/internal/repository"
	"go.uber.org/zap"
)

// UnreadTracker watches, per room, how many of the peer's messages are still
// unread. The badge is the number of rooms with anything unread, not the
// number of messages.
type UnreadTracker struct {
	messages repository.MessageRepository
	log      *zap.Logger
	onChange func(badge int)

	mu     sync.Mutex
	unread map[string]struct{}
	rooms  map[string]*trackedRoom
	closed bool
}

type trackedRoom struct {
	peerID string
	sub    repository.Subscription
}

func NewUnreadTracker(messages repository.MessageRepository, log *zap.Logger, onChange func(badge int)) *UnreadTracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnreadTracker{
		messages: messages,
		log:      log.Named("chatsync.unread"),
		onChange: onChange,
		unread:   make(map[string]struct{}),
		rooms:    make(map[string]*trackedRoom),
	}
}

// Track attaches a count subscription for the room. Tracking a room twice
// is a no-op.
func (t *UnreadTracker) Track(ctx context.Context, s domain.RoomSummary) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if _, ok := t.rooms[s.ID]; ok {
		t.mu.Unlock()
		return nil
	}
	tr := &trackedRoom{peerID: s.PeerID}
	t.rooms[s.ID] = tr
	t.mu.Unlock()

	roomID := s.ID
	sub, err := t.messages.WatchUnreadCount(ctx, roomID, s.PeerID, func(n int, err error) {
		t.onCount(tr, roomID, n, err)
	})

	t.mu.Lock()
	if err != nil {
		if t.rooms[roomID] == tr {
			delete(t.rooms, roomID)
		}
		t.mu.Unlock()
		t.log.Warn("attaching unread subscription", zap.String("room", roomID), zap.Error(err))
		return err
	}
	if t.closed || t.rooms[roomID] != tr {
		// Untracked while attaching.
		t.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	tr.sub = sub
	t.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()
	return nil
}

func (t *UnreadTracker) onCount(tr *trackedRoom, roomID string, n int, err error) {
	t.mu.Lock()
	current := !t.closed && t.rooms[roomID] == tr
	t.mu.Unlock()
	if !current {
		return
	}

	if err != nil {
		t.log.Warn("unread count failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	if n > 0 {
		t.Add(roomID)
	} else {
		t.Remove(roomID)
	}
}

// Untrack detaches the room's subscription and clears its unread mark.
func (t *UnreadTracker) Untrack(roomID string) {
	t.mu.Lock()
	tr, ok := t.rooms[roomID]
	delete(t.rooms, roomID)
	t.mu.Unlock()

	if ok && tr.sub != nil {
		tr.sub.Unsubscribe()
		metrics.ActiveSubscriptions.Dec()
	}
	t.Remove(roomID)
}

// Sync tracks every room in summaries and untracks rooms no longer listed.
func (t *UnreadTracker) Sync(ctx context.Context, summaries []domain.RoomSummary) {
	want := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		want[s.ID] = struct{}{}
	}

	t.mu.Lock()
	var stale []string
	for roomID := range t.rooms {
		if _, ok := want[roomID]; !ok {
			stale = append(stale, roomID)
		}
	}
	t.mu.Unlock()

	for _, roomID := range stale {
		t.Untrack(roomID)
	}
	for _, s := range summaries {
		if err := t.Track(ctx, s); err != nil {
			t.log.Warn("tracking room", zap.String("room", s.ID), zap.Error(err))
		}
	}
}

// Add marks roomID as having unread messages. It reports whether the set
// changed; adding a present id does nothing.
func (t *UnreadTracker) Add(roomID string) bool {
	t.mu.Lock()
	if _, ok := t.unread[roomID]; ok {
		t.mu.Unlock()
		return false
	}
	t.unread[roomID] = struct{}{}
	badge := len(t.unread)
	t.mu.Unlock()

	t.emit(badge)
	return true
}

// Remove clears roomID's unread mark. Removing an absent id does nothing.
func (t *UnreadTracker) Remove(roomID string) bool {
	t.mu.Lock()
	if _, ok := t.unread[roomID]; !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.unread, roomID)
	badge := len(t.unread)
	t.mu.Unlock()

	t.emit(badge)
	return true
}

func (t *UnreadTracker) emit(badge int) {
	if t.onChange != nil {
		t.onChange(badge)
	}
}

// Badge returns the number of rooms with unread messages.
func (t *UnreadTracker) Badge() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.unread)
}

func (t *UnreadTracker) HasUnread(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.unread[roomID]
	return ok
}

// UnreadRooms returns the ids of rooms with unread messages, sorted.
func (t *UnreadTracker) UnreadRooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.unread))
	for id := range t.unread {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close detaches every subscription. The unread set is kept as it was.
func (t *UnreadTracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	rooms := t.rooms
	t.rooms = make(map[string]*trackedRoom)
	t.mu.Unlock()

	for _, tr := range rooms {
		if tr.sub != nil {
			tr.sub.Unsubscribe()
			metrics.ActiveSubscriptions.Dec()
		}
	}
}
