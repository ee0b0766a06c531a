package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/chatsync"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/repository"
	"github.com/vedran77/chatsync/internal/service"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 << 10
	sendBufSize    = 256
)

// Deps are what a connection needs to run sync engines for its user.
type Deps struct {
	Chat     *service.ChatService
	Rooms    repository.RoomRepository
	Messages repository.MessageRepository
	Users    repository.UserRepository
	Cache    cache.Store
	Log      *zap.Logger
}

// Client represents a single WebSocket connection. Every room or room-list
// subscription it opens is an engine owned by the connection and closed
// with it.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	deps   Deps
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]*chatsync.MessageEngine
	list   *chatsync.RoomListEngine
	unread *chatsync.UnreadTracker

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, deps Deps) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		deps:   deps,
		log:    deps.Log.Named("ws.client").With(zap.String("user", userID)),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*chatsync.MessageEngine),
		send:   make(chan []byte, sendBufSize),
		done:   make(chan struct{}),
	}
}

// enqueue queues data for the write pump. It reports false when the buffer
// is full; data for a stopped client is dropped.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// stop ends the write pump and tears down every engine the client opened.
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()

		c.mu.Lock()
		rooms := c.rooms
		c.rooms = make(map[string]*chatsync.MessageEngine)
		list, unread := c.list, c.unread
		c.list, c.unread = nil, nil
		c.mu.Unlock()

		for _, engine := range rooms {
			engine.Close()
		}
		if list != nil {
			list.Close()
		}
		if unread != nil {
			unread.Close()
		}
	})
}

// ReadPump reads messages from the WebSocket and handles them in order.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.done:
		}
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		var event Event
		err := wsjson.Read(c.ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug("client disconnected")
			} else {
				c.log.Warn("read error", zap.Error(err))
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Warn("write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.log.Warn("ping error", zap.Error(err))
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeRoomSubscribe:
		var p RoomSubscribePayload
		if !c.decode(event, &p) {
			return
		}
		c.subscribeRoom(p)

	case EventTypeRoomUnsubscribe:
		var p RoomPayload
		if !c.decode(event, &p) {
			return
		}
		c.unsubscribeRoom(p.RoomID)

	case EventTypeRoomsSubscribe:
		c.subscribeRooms()

	case EventTypeMessageSend:
		var p MessageSendPayload
		if !c.decode(event, &p) {
			return
		}
		c.sendMessage(p)

	case EventTypeMessageRetry:
		var p MessageRetryPayload
		if !c.decode(event, &p) {
			return
		}
		c.withRoom(p.RoomID, func(engine *chatsync.MessageEngine) error {
			if p.Discard {
				return engine.Discard(p.ClientID)
			}
			_, err := engine.Retry(c.ctx, p.ClientID)
			return err
		})

	case EventTypeMessageRead:
		var p RoomPayload
		if !c.decode(event, &p) {
			return
		}
		c.withRoom(p.RoomID, func(engine *chatsync.MessageEngine) error {
			_, err := engine.MarkAsRead(c.ctx)
			return err
		})

	case EventTypeMessageEdit:
		var p MessageEditPayload
		if !c.decode(event, &p) {
			return
		}
		c.withRoom(p.RoomID, func(engine *chatsync.MessageEngine) error {
			return engine.Edit(c.ctx, p.MessageID, p.Text)
		})

	case EventTypeMessageDelete:
		var p MessageDeletePayload
		if !c.decode(event, &p) {
			return
		}
		confirmed := chatsync.ConfirmFunc(func(context.Context, string) bool { return p.Confirmed })
		c.withRoom(p.RoomID, func(engine *chatsync.MessageEngine) error {
			return engine.Delete(c.ctx, p.MessageID, confirmed)
		})

	case EventTypePing:
		c.sendEvent(&Event{Type: EventTypePong})

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) decode(event *Event, v any) bool {
	if err := json.Unmarshal(event.Payload, v); err != nil {
		c.sendError("INVALID_PAYLOAD", "invalid "+event.Type+" payload")
		return false
	}
	return true
}

func (c *Client) subscribeRoom(p RoomSubscribePayload) {
	if p.RoomID != domain.RoomID(c.userID, p.PeerID) {
		c.sendError("FORBIDDEN", "not a participant of this room")
		return
	}

	c.mu.Lock()
	if _, ok := c.rooms[p.RoomID]; ok {
		c.mu.Unlock()
		return
	}
	engine := chatsync.NewMessageEngine(chatsync.MessageEngineConfig{
		Chat:     c.deps.Chat,
		Messages: c.deps.Messages,
		Users:    c.deps.Users,
		Cache:    c.deps.Cache,
		Log:      c.deps.Log,
		OnChange: func(view []domain.Message) {
			c.sendPayload(EventTypeRoomSnapshot, p.RoomID, RoomSnapshotPayload{RoomID: p.RoomID, Messages: view})
		},
	})
	c.rooms[p.RoomID] = engine
	c.mu.Unlock()

	if _, err := engine.Initialize(c.ctx, p.RoomID, c.userID, p.PeerID); err != nil {
		c.mu.Lock()
		if c.rooms[p.RoomID] == engine {
			delete(c.rooms, p.RoomID)
		}
		c.mu.Unlock()
		engine.Close()
		c.sendError("SUBSCRIBE_FAILED", err.Error())
		return
	}
	c.log.Debug("subscribed to room", zap.String("room", p.RoomID))
}

func (c *Client) unsubscribeRoom(roomID string) {
	c.mu.Lock()
	engine, ok := c.rooms[roomID]
	delete(c.rooms, roomID)
	c.mu.Unlock()

	if ok {
		engine.Close()
		c.log.Debug("unsubscribed from room", zap.String("room", roomID))
	}
}

func (c *Client) subscribeRooms() {
	c.mu.Lock()
	if c.list != nil {
		c.mu.Unlock()
		return
	}
	unread := chatsync.NewUnreadTracker(c.deps.Messages, c.deps.Log, func(badge int) {
		c.sendPayload(EventTypeUnreadBadge, "", UnreadBadgePayload{Count: badge})
	})
	list := chatsync.NewRoomListEngine(chatsync.RoomListEngineConfig{
		Rooms:  c.deps.Rooms,
		Users:  c.deps.Users,
		Cache:  c.deps.Cache,
		Log:    c.deps.Log,
		Unread: unread,
		OnChange: func(rooms []domain.RoomSummary) {
			c.sendPayload(EventTypeRoomsSnapshot, "", RoomsSnapshotPayload{Rooms: rooms})
		},
	})
	c.list, c.unread = list, unread
	c.mu.Unlock()

	if _, err := list.Initialize(c.ctx, c.userID); err != nil {
		c.mu.Lock()
		if c.list == list {
			c.list, c.unread = nil, nil
		}
		c.mu.Unlock()
		list.Close()
		unread.Close()
		c.sendError("SUBSCRIBE_FAILED", err.Error())
	}
}

func (c *Client) sendMessage(p MessageSendPayload) {
	c.withRoom(p.RoomID, func(engine *chatsync.MessageEngine) error {
		draft := domain.Draft{
			Type:     domain.MessageType(p.Type),
			Text:     p.Text,
			ImageURL: p.ImageURL,
			AudioURL: p.AudioURL,
			Duration: p.Duration,
			Location: p.Location,
		}
		if p.ReplyToID != "" {
			for _, m := range engine.Messages() {
				if m.ID == p.ReplyToID {
					reply := m
					draft.ReplyTo = &reply
					break
				}
			}
		}
		_, err := engine.Send(c.ctx, draft)
		return err
	})
}

// withRoom runs fn against the room's engine, reporting failures to the
// client. The room must have been subscribed first.
func (c *Client) withRoom(roomID string, fn func(*chatsync.MessageEngine) error) {
	c.mu.Lock()
	engine, ok := c.rooms[roomID]
	c.mu.Unlock()
	if !ok {
		c.sendError("NOT_SUBSCRIBED", "subscribe to the room first")
		return
	}

	if err := fn(engine); err != nil {
		code := "ACTION_FAILED"
		switch {
		case chatsync.IsValidation(err):
			code = "VALIDATION_ERROR"
		case errors.Is(err, service.ErrNotMessageOwner):
			code = "FORBIDDEN"
		case errors.Is(err, service.ErrMessageNotFound):
			code = "NOT_FOUND"
		case errors.Is(err, chatsync.ErrDeleteNotConfirmed):
			code = "NOT_CONFIRMED"
		}
		c.sendError(code, err.Error())
	}
}

func (c *Client) sendPayload(eventType, roomID string, payload any) {
	evt, err := NewEvent(eventType, roomID, payload)
	if err != nil {
		c.log.Error("marshal event", zap.String("type", eventType), zap.Error(err))
		return
	}
	c.sendEvent(evt)
}

func (c *Client) sendEvent(evt *Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.log.Warn("send buffer full, dropping event", zap.String("type", evt.Type))
	}
}

func (c *Client) sendError(code, message string) {
	c.sendPayload(EventTypeError, "", ErrorPayload{Code: code, Message: message})
}
