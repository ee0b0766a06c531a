package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/pkg/validator"
	"go.uber.org/zap"
)

const deletePrompt = "Delete this message? This cannot be undone."

type MessageEngineConfig struct {
	Chat     *service.ChatService
	Messages repository.MessageRepository
	Users    repository.UserRepository
	Cache    cache.Store
	Media    Uploader
	Log      *zap.Logger
	// Policy defaults to EmptyReplace: a room whose messages were all
	// deleted is legitimately empty.
	Policy EmptySnapshotPolicy
	// OnChange receives View() after every state change.
	OnChange func(view []domain.Message)
	Now      func() time.Time
}

// MessageEngine holds the message list of one room. Confirmed messages come
// only from live snapshots; messages the viewer is sending live in the
// outbox until a snapshot carries them.
type MessageEngine struct {
	cfg    MessageEngineConfig
	log    *zap.Logger
	policy EmptySnapshotPolicy

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	roomID    string
	peerID    string
	viewer    domain.Author
	confirmed []domain.Message
	outbox    map[string]*outboxEntry
	sub       repository.Subscription
	started   bool
	closed    bool
}

type outboxEntry struct {
	msg   domain.Message
	draft domain.Draft
}

func NewMessageEngine(cfg MessageEngineConfig) *MessageEngine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MessageEngine{
		cfg:    cfg,
		log:    cfg.Log.Named("chatsync.messages"),
		policy: cfg.Policy.resolve(EmptyReplace),
		outbox: make(map[string]*outboxEntry),
	}
}

// Initialize makes sure the room exists, renders the cached list and attaches
// the live query. The returned subscription is the same one Close releases.
func (e *MessageEngine) Initialize(ctx context.Context, roomID, viewerID, peerID string) (repository.Subscription, error) {
	if roomID != domain.RoomID(viewerID, peerID) {
		return nil, service.ErrRoomMismatch
	}

	viewer := e.resolveViewer(ctx, viewerID)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("message engine already initialized for room %s", e.roomID)
	}
	e.started = true
	e.roomID, e.peerID = roomID, peerID
	e.viewer = viewer
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	log := e.log.With(zap.String("room", roomID))

	if _, err := e.cfg.Chat.EnsureRoom(ctx, viewerID, peerID); err != nil {
		log.Warn("ensuring room", zap.Error(err))
	}

	var cached []domain.Message
	ok, err := cache.Load(ctx, e.cfg.Cache, cache.MessagesKey(roomID), &cached)
	if err != nil {
		log.Warn("reading message cache", zap.Error(err))
	}
	if ok {
		e.mu.Lock()
		e.confirmed = cached
		view := e.viewLocked()
		e.mu.Unlock()
		e.emit(view)
	}

	sub, err := e.cfg.Messages.Watch(ctx, roomID, e.onSnapshot)
	if err != nil {
		log.Error("attaching message subscription", zap.Error(err))
		return nil, fmt.Errorf("watching room %s: %w", roomID, err)
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

func (e *MessageEngine) resolveViewer(ctx context.Context, viewerID string) domain.Author {
	if e.cfg.Users != nil {
		user, err := e.cfg.Users.GetByID(ctx, viewerID)
		if err != nil {
			e.log.Warn("loading viewer profile", zap.String("user", viewerID), zap.Error(err))
		}
		if user != nil {
			return user.Author()
		}
	}
	return domain.Author{ID: viewerID}
}

func (e *MessageEngine) onSnapshot(docs []domain.Document, err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	if err != nil {
		e.mu.Unlock()
		e.log.Warn("message snapshot failed", zap.String("room", e.roomID), zap.Error(err))
		metrics.SnapshotsSkipped.WithLabelValues("messages", "error").Inc()
		return
	}
	if len(docs) == 0 && e.policy == EmptyKeep {
		e.mu.Unlock()
		metrics.SnapshotsSkipped.WithLabelValues("messages", "empty").Inc()
		return
	}

	msgs, errs := domain.TranslateSnapshot(docs)
	for _, terr := range errs {
		e.log.Warn("skipping malformed message", zap.String("room", e.roomID), zap.Error(terr))
	}

	e.confirmed = msgs
	e.settleOutboxLocked()
	e.persistLocked()
	view := e.viewLocked()
	e.mu.Unlock()

	metrics.SnapshotsApplied.WithLabelValues("messages").Inc()
	e.emit(view)
}

// settleOutboxLocked drops outgoing entries the snapshot now carries.
func (e *MessageEngine) settleOutboxLocked() {
	if len(e.outbox) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(e.confirmed))
	for _, m := range e.confirmed {
		if m.ClientID != "" {
			seen[m.ClientID] = struct{}{}
		}
	}
	for clientID := range e.outbox {
		if _, ok := seen[clientID]; ok {
			delete(e.outbox, clientID)
		}
	}
}

// persistLocked writes the confirmed list to the cache. A failed write is
// logged; the next snapshot overwrites the entry anyway.
func (e *MessageEngine) persistLocked() {
	list := e.confirmed
	if list == nil {
		list = []domain.Message{}
	}
	if _, err := cache.Save(e.ctx, e.cfg.Cache, cache.MessagesKey(e.roomID), list); err != nil {
		e.log.Warn("writing message cache", zap.String("room", e.roomID), zap.Error(err))
	}
}

// Send appends an optimistic entry and writes the message. An invalid draft
// is rejected before anything is shown or written.
func (e *MessageEngine) Send(ctx context.Context, draft domain.Draft) (domain.Message, error) {
	if errs := validator.ValidateDraft(draft); errs.HasErrors() {
		return domain.Message{}, errs
	}

	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return domain.Message{}, err
	}
	clientID := uuid.NewString()
	msg := domain.DraftMessage(draft, e.viewer, e.roomID, clientID, e.cfg.Now())
	e.outbox[clientID] = &outboxEntry{msg: msg, draft: draft}
	view := e.viewLocked()
	e.mu.Unlock()

	e.emit(view)
	return e.deliver(ctx, clientID)
}

// SendImage uploads the image and sends it as an image message.
func (e *MessageEngine) SendImage(ctx context.Context, r io.Reader, contentType string, replyTo *domain.Message) (domain.Message, error) {
	url, err := e.upload(ctx, r, contentType)
	if err != nil {
		return domain.Message{}, err
	}
	return e.Send(ctx, domain.Draft{Type: domain.MessageImage, ImageURL: url, ReplyTo: replyTo})
}

// SendAudio uploads a voice note and sends it with its display duration.
func (e *MessageEngine) SendAudio(ctx context.Context, r io.Reader, contentType, duration string, replyTo *domain.Message) (domain.Message, error) {
	url, err := e.upload(ctx, r, contentType)
	if err != nil {
		return domain.Message{}, err
	}
	return e.Send(ctx, domain.Draft{Type: domain.MessageAudio, AudioURL: url, Duration: duration, ReplyTo: replyTo})
}

func (e *MessageEngine) upload(ctx context.Context, r io.Reader, contentType string) (string, error) {
	if e.cfg.Media == nil {
		return "", ErrNoUploader
	}
	url, err := e.cfg.Media.Upload(ctx, r, contentType)
	if err != nil {
		e.log.Warn("uploading attachment", zap.String("room", e.roomID), zap.Error(err))
		return "", fmt.Errorf("uploading attachment: %w", err)
	}
	return url, nil
}

// Retry sends a failed outgoing message again.
func (e *MessageEngine) Retry(ctx context.Context, clientID string) (domain.Message, error) {
	e.mu.Lock()
	entry, err := e.failedEntryLocked(clientID)
	if err != nil {
		e.mu.Unlock()
		return domain.Message{}, err
	}
	entry.msg.State = domain.Pending()
	view := e.viewLocked()
	e.mu.Unlock()

	e.emit(view)
	return e.deliver(ctx, clientID)
}

// Discard drops a failed outgoing message.
func (e *MessageEngine) Discard(clientID string) error {
	e.mu.Lock()
	if _, err := e.failedEntryLocked(clientID); err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.outbox, clientID)
	view := e.viewLocked()
	e.mu.Unlock()

	e.emit(view)
	return nil
}

func (e *MessageEngine) failedEntryLocked(clientID string) (*outboxEntry, error) {
	if err := e.usableLocked(); err != nil {
		return nil, err
	}
	entry, ok := e.outbox[clientID]
	if !ok {
		return nil, ErrOutboxNotFound
	}
	if entry.msg.State.Status != domain.StatusFailed {
		return nil, ErrNotRetryable
	}
	return entry, nil
}

func (e *MessageEngine) deliver(ctx context.Context, clientID string) (domain.Message, error) {
	e.mu.Lock()
	entry, ok := e.outbox[clientID]
	if !ok {
		e.mu.Unlock()
		return domain.Message{}, ErrOutboxNotFound
	}
	input := service.SendMessageInput{
		RoomID:   e.roomID,
		Sender:   e.viewer,
		PeerID:   e.peerID,
		Draft:    entry.draft,
		ClientID: clientID,
	}
	e.mu.Unlock()

	stored, sendErr := e.cfg.Chat.SendMessage(ctx, input)

	e.mu.Lock()
	var result domain.Message
	entry, ok = e.outbox[clientID]
	switch {
	case sendErr != nil:
		e.log.Error("sending message", zap.String("room", e.roomID), zap.String("client_id", clientID), zap.Error(sendErr))
		if ok {
			entry.msg.State = domain.Failed(sendErr.Error())
			result = entry.msg
		}
	case ok:
		// Keep the entry, now confirmed, until a snapshot carries it.
		entry.msg.ID = stored.ID
		entry.msg.CreatedAt = stored.CreatedAt
		entry.msg.State = domain.Confirmed()
		result = entry.msg
	default:
		result = *stored
	}
	view := e.viewLocked()
	e.mu.Unlock()

	e.emit(view)
	if sendErr != nil {
		return result, sendErr
	}
	return result, nil
}

// MarkAsRead marks the peer's unread messages as read in one batch. Local
// copies are flipped to read right away; nothing is ever flipped back.
func (e *MessageEngine) MarkAsRead(ctx context.Context) (int, error) {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	roomID, viewerID := e.roomID, e.viewer.ID
	e.mu.Unlock()

	n, err := e.cfg.Chat.MarkAsRead(ctx, roomID, viewerID)
	if err != nil {
		e.log.Error("marking room read", zap.String("room", roomID), zap.Error(err))
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	e.mu.Lock()
	changed := false
	for i := range e.confirmed {
		if e.confirmed[i].AuthorID != viewerID && !e.confirmed[i].Read {
			e.confirmed[i].Read = true
			changed = true
		}
	}
	var view []domain.Message
	if changed {
		e.persistLocked()
		view = e.viewLocked()
	}
	e.mu.Unlock()

	if changed {
		e.emit(view)
	}
	return n, nil
}

// Edit replaces the body of one of the viewer's own text messages. The
// local copy is patched first and restored if the write fails.
func (e *MessageEngine) Edit(ctx context.Context, messageID, body string) error {
	if errs := validator.ValidateEdit(body); errs.HasErrors() {
		return errs
	}

	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	i, err := e.ownedLocked(messageID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if e.confirmed[i].Type != domain.MessageText {
		e.mu.Unlock()
		return service.ErrMessageNotEditable
	}
	prev := e.confirmed[i]
	now := e.cfg.Now()
	patched := prev
	patched.Body = &body
	patched.EditedAt = &now
	e.confirmed[i] = patched
	e.persistLocked()
	view := e.viewLocked()
	roomID, viewerID := e.roomID, e.viewer.ID
	e.mu.Unlock()
	e.emit(view)

	if _, err := e.cfg.Chat.EditMessage(ctx, roomID, viewerID, messageID, body); err != nil {
		e.log.Error("editing message", zap.String("room", roomID), zap.String("message", messageID), zap.Error(err))
		e.restore(prev, -1)
		return err
	}
	return nil
}

// Delete removes one of the viewer's own messages after confirm approves.
// The deletion is permanent; the local copy is restored only if the write
// fails.
func (e *MessageEngine) Delete(ctx context.Context, messageID string, confirm Confirmer) error {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	if _, err := e.ownedLocked(messageID); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if confirm == nil || !confirm.Confirm(ctx, deletePrompt) {
		return ErrDeleteNotConfirmed
	}

	e.mu.Lock()
	i, err := e.ownedLocked(messageID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	prev := e.confirmed[i]
	e.confirmed = append(e.confirmed[:i:i], e.confirmed[i+1:]...)
	e.persistLocked()
	view := e.viewLocked()
	roomID, viewerID := e.roomID, e.viewer.ID
	e.mu.Unlock()
	e.emit(view)

	if err := e.cfg.Chat.DeleteMessage(ctx, roomID, viewerID, messageID); err != nil {
		e.log.Error("deleting message", zap.String("room", roomID), zap.String("message", messageID), zap.Error(err))
		e.restore(prev, i)
		return err
	}
	return nil
}

// restore puts prev back after a failed write. An entry with the same id is
// overwritten; otherwise prev is re-inserted at index at, or in timestamp
// order when at is out of range.
func (e *MessageEngine) restore(prev domain.Message, at int) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}

	replaced := false
	for i := range e.confirmed {
		if e.confirmed[i].ID == prev.ID {
			e.confirmed[i] = prev
			replaced = true
			break
		}
	}
	if !replaced {
		if at < 0 || at > len(e.confirmed) {
			at = sort.Search(len(e.confirmed), func(i int) bool {
				return newerFirst(prev, e.confirmed[i])
			})
		}
		e.confirmed = append(e.confirmed, domain.Message{})
		copy(e.confirmed[at+1:], e.confirmed[at:])
		e.confirmed[at] = prev
	}
	e.persistLocked()
	view := e.viewLocked()
	e.mu.Unlock()

	e.emit(view)
}

func (e *MessageEngine) ownedLocked(messageID string) (int, error) {
	for i, m := range e.confirmed {
		if m.ID != messageID {
			continue
		}
		if m.AuthorID != e.viewer.ID {
			return -1, service.ErrNotMessageOwner
		}
		return i, nil
	}
	return -1, service.ErrMessageNotFound
}

func (e *MessageEngine) usableLocked() error {
	if e.closed {
		return ErrClosed
	}
	if !e.started {
		return ErrNotInitialized
	}
	return nil
}

// Messages returns the confirmed list, newest first. It always matches the
// cached entry for the room.
func (e *MessageEngine) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Message(nil), e.confirmed...)
}

// Outbox returns the outgoing messages not yet carried by a snapshot,
// newest first.
func (e *MessageEngine) Outbox() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outboxLocked()
}

// View is what the screen renders: the outbox above the confirmed list.
func (e *MessageEngine) View() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *MessageEngine) outboxLocked() []domain.Message {
	out := make([]domain.Message, 0, len(e.outbox))
	for _, entry := range e.outbox {
		out = append(out, entry.msg)
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	return out
}

func (e *MessageEngine) viewLocked() []domain.Message {
	view := e.outboxLocked()
	return append(view, e.confirmed...)
}

func (e *MessageEngine) emit(view []domain.Message) {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(view)
	}
}

// Close detaches the live query. Callbacks that arrive afterwards are
// ignored.
func (e *MessageEngine) Close() {
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

// RoomID returns the room the engine was initialized for.
func (e *MessageEngine) RoomID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomID
}

func newerFirst(a, b domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// IsValidation reports whether err is a user-facing validation advisory.
func IsValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
