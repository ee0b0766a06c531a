package ws

import (
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// TokenParser resolves an access token to the user id it was issued for.
type TokenParser interface {
	ParseToken(token string) (string, error)
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, tokens TokenParser, deps Deps) http.HandlerFunc {
	log := deps.Log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := tokens.ParseToken(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			log.Warn("accept error", zap.Error(err))
			return
		}

		client := NewClient(hub, conn, userID, deps)
		select {
		case hub.register <- client:
		case <-hub.done:
			client.stop()
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case <-r.Context().Done():
			client.stop()
			conn.Close(websocket.StatusGoingAway, "")
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
