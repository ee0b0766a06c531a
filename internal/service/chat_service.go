package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/pkg/validator"
	"go.uber.org/zap"
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomMismatch       = errors.New("room id does not match its participants")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotMessageOwner    = errors.New("only the message sender can perform this action")
	ErrMessageNotEditable = errors.New("only text messages can be edited")
	ErrUserNotFound       = errors.New("user not found")
)

// ChatService performs every authoritative chat write. The sync engines and
// the notification-action endpoints both go through it.
type ChatService struct {
	rooms     repository.RoomRepository
	messages  repository.MessageRepository
	users     repository.UserRepository
	notifier  Notifier
	log       *zap.Logger
	bodyLimit int
	now       func() time.Time

	pushes sync.WaitGroup
}

func NewChatService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	log *zap.Logger,
	bodyLimit int,
) *ChatService {
	return &ChatService{
		rooms:     rooms,
		messages:  messages,
		users:     users,
		log:       log.Named("chat"),
		bodyLimit: bodyLimit,
		now:       time.Now,
	}
}

// SetNotifier sets the push notifier (optional dependency).
func (s *ChatService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Flush blocks until every push dispatched by SendMessage has finished.
func (s *ChatService) Flush() {
	s.pushes.Wait()
}

// EnsureRoom returns the room between viewerID and peerID, creating it with an
// empty summary when it does not exist yet. The peer must be a known user.
func (s *ChatService) EnsureRoom(ctx context.Context, viewerID, peerID string) (*domain.Room, error) {
	if _, err := s.peer(ctx, viewerID, peerID); err != nil {
		return nil, err
	}
	return s.ensureRoom(ctx, viewerID, peerID)
}

func (s *ChatService) peer(ctx context.Context, viewerID, peerID string) (*domain.User, error) {
	if viewerID == "" || peerID == "" {
		return nil, ErrUserNotFound
	}
	peer, err := s.users.GetByID(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("loading peer: %w", err)
	}
	if peer == nil {
		return nil, ErrUserNotFound
	}
	return peer, nil
}

func (s *ChatService) ensureRoom(ctx context.Context, viewerID, peerID string) (*domain.Room, error) {
	room := domain.NewRoom(viewerID, peerID, s.now())
	created, err := s.rooms.CreateIfAbsent(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("ensuring room: %w", err)
	}
	if created {
		s.log.Debug("room created", zap.String("room", room.ID))
		return room, nil
	}

	existing, err := s.rooms.Get(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrRoomNotFound
	}
	return existing, nil
}

type SendMessageInput struct {
	RoomID   string
	Sender   domain.Author
	PeerID   string
	Draft    domain.Draft
	ClientID string
}

// SendMessage opens the room if needed, writes the record, then the room
// summary, then dispatches the push in the background. Only the record write
// decides success: once it lands, a failed summary update or push is logged
// and the message is still returned.
func (s *ChatService) SendMessage(ctx context.Context, input SendMessageInput) (*domain.Message, error) {
	if errs := validator.ValidateDraft(input.Draft); errs.HasErrors() {
		return nil, errs
	}
	if input.RoomID != domain.RoomID(input.Sender.ID, input.PeerID) {
		return nil, ErrRoomMismatch
	}
	peer, err := s.peer(ctx, input.Sender.ID, input.PeerID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureRoom(ctx, input.Sender.ID, input.PeerID); err != nil {
		return nil, err
	}
	if input.ClientID == "" {
		input.ClientID = uuid.NewString()
	}

	doc := domain.NewRecord(input.Draft, input.Sender, input.PeerID, input.ClientID)
	id, createdAt, err := s.messages.Create(ctx, input.RoomID, doc)
	if err != nil {
		metrics.SendFailures.Inc()
		return nil, fmt.Errorf("creating message: %w", err)
	}
	metrics.MessagesSent.WithLabelValues(string(input.Draft.Kind())).Inc()

	doc[domain.FieldID] = id
	doc[domain.FieldRoomID] = input.RoomID
	doc[domain.FieldCreatedAt] = createdAt
	msg, err := domain.TranslateMessage(doc)
	if err != nil {
		return nil, fmt.Errorf("translating created message: %w", err)
	}
	msg.State = domain.Confirmed()

	preview := domain.Preview(input.Draft.Kind(), input.Draft.Text)
	if err := s.rooms.UpdateLastMessage(ctx, input.RoomID, preview, input.Sender.ID); err != nil {
		s.log.Warn("updating room summary",
			zap.String("room", input.RoomID), zap.String("message", id), zap.Error(err))
	}

	s.notifyPeer(ctx, input.RoomID, input.Sender, peer, preview)

	return &msg, nil
}

// notifyPeer dispatches the push without holding up the sender. The request
// context may end before the relay answers.
func (s *ChatService) notifyPeer(ctx context.Context, roomID string, sender domain.Author, peer *domain.User, preview string) {
	if s.notifier == nil {
		return
	}

	n := domain.NewNotification(roomID, sender, peer, preview, s.bodyLimit)
	ctx = context.WithoutCancel(ctx)
	s.pushes.Add(1)
	go func() {
		defer s.pushes.Done()
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn("dispatching push", zap.String("room", roomID), zap.String("recipient", peer.ID), zap.Error(err))
		}
	}()
}

// MarkAsRead marks every unread message from the other participant as read
// in one batch and returns how many were flipped. Nothing unread means no
// write at all.
func (s *ChatService) MarkAsRead(ctx context.Context, roomID, viewerID string) (int, error) {
	ids, err := s.messages.ListUnreadIDs(ctx, roomID, viewerID)
	if err != nil {
		return 0, fmt.Errorf("listing unread messages: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.messages.MarkRead(ctx, roomID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *ChatService) EditMessage(ctx context.Context, roomID, userID, messageID, body string) (*domain.Message, error) {
	if errs := validator.ValidateEdit(body); errs.HasErrors() {
		return nil, errs
	}

	doc, err := s.ownedMessage(ctx, roomID, userID, messageID)
	if err != nil {
		return nil, err
	}
	if t := doc.String(domain.FieldType); t != "" && t != string(domain.MessageText) {
		return nil, ErrMessageNotEditable
	}

	if err := s.messages.UpdateText(ctx, roomID, messageID, body); err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}

	latest, err := s.messages.Latest(ctx, roomID)
	if err != nil {
		s.log.Warn("loading latest message", zap.String("room", roomID), zap.Error(err))
	} else if latest != nil && latest.String(domain.FieldID) == messageID {
		s.refreshSummary(ctx, roomID, latest)
	}

	updated, err := s.messages.Get(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, ErrMessageNotFound
	}
	msg, err := domain.TranslateMessage(updated)
	if err != nil {
		return nil, err
	}
	msg.State = domain.Confirmed()
	return &msg, nil
}

// DeleteMessage hard-deletes a message. When it was the newest one the room
// summary moves to the message before it.
func (s *ChatService) DeleteMessage(ctx context.Context, roomID, userID, messageID string) error {
	if _, err := s.ownedMessage(ctx, roomID, userID, messageID); err != nil {
		return err
	}

	latest, err := s.messages.Latest(ctx, roomID)
	if err != nil {
		return err
	}
	wasLatest := latest != nil && latest.String(domain.FieldID) == messageID

	if err := s.messages.Delete(ctx, roomID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("deleting message: %w", err)
	}

	if !wasLatest {
		return nil
	}

	next, err := s.messages.Latest(ctx, roomID)
	if err != nil {
		s.log.Warn("loading latest message", zap.String("room", roomID), zap.Error(err))
		return nil
	}
	s.refreshSummary(ctx, roomID, next)
	return nil
}

// refreshSummary rewrites the room's last message from doc, or clears it
// when the room is now empty.
func (s *ChatService) refreshSummary(ctx context.Context, roomID string, doc domain.Document) {
	text, sender := "", ""
	if doc != nil {
		msg, err := domain.TranslateMessage(doc)
		if err != nil {
			s.log.Warn("translating latest message", zap.String("room", roomID), zap.Error(err))
			return
		}
		text, sender = msg.Preview(), msg.AuthorID
	}
	if err := s.rooms.UpdateLastMessage(ctx, roomID, text, sender); err != nil {
		s.log.Warn("refreshing room summary", zap.String("room", roomID), zap.Error(err))
	}
}

func (s *ChatService) ownedMessage(ctx context.Context, roomID, userID, messageID string) (domain.Document, error) {
	doc, err := s.messages.Get(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrMessageNotFound
	}
	if doc.String(domain.FieldSenderID) != userID {
		return nil, ErrNotMessageOwner
	}
	return doc, nil
}

// ReplyFromNotification sends text back to the author of the message a push
// was raised for. The caller must be the push's recipient.
func (s *ChatService) ReplyFromNotification(ctx context.Context, callerID string, p domain.NotificationPayload, text string) (*domain.Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if callerID != p.ForwardID {
		return nil, domain.ErrNotParticipant
	}

	caller, err := s.users.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if caller == nil {
		return nil, ErrUserNotFound
	}

	return s.SendMessage(ctx, SendMessageInput{
		RoomID:   p.RoomID,
		Sender:   caller.Author(),
		PeerID:   p.ReverseID,
		Draft:    domain.Draft{Type: domain.MessageText, Text: text},
		ClientID: uuid.NewString(),
	})
}

// ReadFromNotification marks the room of a push as read for its recipient.
func (s *ChatService) ReadFromNotification(ctx context.Context, callerID string, p domain.NotificationPayload) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if callerID != p.ForwardID {
		return 0, domain.ErrNotParticipant
	}
	return s.MarkAsRead(ctx, p.RoomID, callerID)
}
