package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveMessage is sent to leaderboard websocket clients
type LiveMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// handleLiveLeaderboard sends the current leaderboard, then a message per
// recorded submission until the client disconnects
func (s *Server) handleLiveLeaderboard(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	entries, err := s.arena.Leaderboard(r.Context())
	if err != nil {
		respondDomainError(w, r, err, "load leaderboard")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.arena.Subscribe(ctx)
	if err != nil {
		slog.Error("failed to subscribe to score events", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "live updates unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("leaderboard websocket connected", "username", user.Username)

	// Read pump: detect client disconnect
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	if err := s.sendLiveMessage(conn, LiveMessage{Type: "leaderboard", Data: entries}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("leaderboard websocket disconnected", "username", user.Username)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.sendLiveMessage(conn, LiveMessage{Type: "score", Data: ev}); err != nil {
				return
			}
		}
	}
}

func (s *Server) sendLiveMessage(conn *websocket.Conn, msg LiveMessage) error {
	conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		slog.Debug("failed to send live message", "error", err)
		return err
	}
	return nil
}
