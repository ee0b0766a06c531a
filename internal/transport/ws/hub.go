package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Hub tracks connected clients by user id and routes direct events to them.
// A user may hold several connections at once.
type Hub struct {
	log     *zap.Logger
	clients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	direct     chan *directMsg
	count      chan chan int
	done       chan struct{}
}

type directMsg struct {
	userID string
	data   []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log.Named("ws.hub"),
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan *directMsg, 256),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main event loop and returns when ctx is done. A hub
// is run once; after Run returns, sends to it are dropped.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for client := range set {
					client.stop()
				}
			}
			return nil

		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
			h.log.Debug("client connected", zap.String("user", client.userID), zap.Int("connections", len(set)))

		case client := <-h.unregister:
			if set, ok := h.clients[client.userID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					client.stop()
					if len(set) == 0 {
						delete(h.clients, client.userID)
					}
					h.log.Debug("client disconnected", zap.String("user", client.userID))
				}
			}

		case msg := <-h.direct:
			for client := range h.clients[msg.userID] {
				if !client.enqueue(msg.data) {
					h.log.Warn("client send buffer full, dropping connection", zap.String("user", client.userID))
					delete(h.clients[msg.userID], client)
					client.stop()
				}
			}
			if len(h.clients[msg.userID]) == 0 {
				delete(h.clients, msg.userID)
			}

		case reply := <-h.count:
			n := 0
			for _, set := range h.clients {
				n += len(set)
			}
			reply <- n
		}
	}
}

// SendToUser delivers an event to every connection of userID. It reports
// false when the hub has stopped.
func (h *Hub) SendToUser(userID string, event *Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", event.Type), zap.Error(err))
		return false
	}
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.direct <- &directMsg{userID: userID, data: data}:
		return true
	case <-h.done:
		return false
	}
}

// Connections returns the number of open connections. It needs Run to be
// running.
func (h *Hub) Connections(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-h.done:
		return 0
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-ctx.Done():
		return 0
	}
}
