package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/tanda"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Live message types
const (
	LiveSnapshot = "snapshot"
	LiveTick     = "tick"
	LiveError    = "error"
	LiveRefresh  = "refresh"
)

// LiveMessage is a frame of the live tanda feed
type LiveMessage struct {
	Type           string            `json:"type"`
	View           *models.TandaView `json:"view,omitempty"`
	ElapsedSeconds float64           `json:"elapsed_seconds,omitempty"`
	Error          string            `json:"error,omitempty"`
}

type liveConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *liveConn) send(msg LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("failed to marshal live message", "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("failed to send live message", "error", err)
		return err
	}
	return nil
}

// handleTandaLive streams snapshots on every change of the tanda and clock
// ticks while it plays. Viewers never write to the tanda.
func (s *Server) handleTandaLive(w http.ResponseWriter, r *http.Request) {
	key := tandaKey(r)

	t, err := s.repo.GetTanda(r.Context(), key)
	if err != nil {
		respondDomainError(w, err, "get tanda")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "not_found", "tanda not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	slog.Info("live websocket connected", "tanda_id", key.TandaID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := &liveConn{conn: conn}

	observer := tanda.NewObserver(s.tickInterval, func(elapsed time.Duration) {
		_ = lc.send(LiveMessage{Type: LiveTick, ElapsedSeconds: elapsed.Seconds()})
	})
	defer observer.Close()

	push := func() {
		t, err := s.repo.GetTanda(ctx, key)
		if err != nil || t == nil {
			if ctx.Err() == nil {
				slog.Warn("failed to read tanda for live feed", "tanda_id", key.TandaID, "error", err)
				_ = lc.send(LiveMessage{Type: LiveError, Error: "failed to read tanda"})
			}
			return
		}
		observer.Update(t)
		view := tandaView(t, s.now())
		_ = lc.send(LiveMessage{Type: LiveSnapshot, View: &view})
	}

	unsubscribe, err := s.subscriber.Subscribe(ctx, key, push)
	if err != nil {
		slog.Error("failed to subscribe live feed", "tanda_id", key.TandaID, "error", err)
		_ = lc.send(LiveMessage{Type: LiveError, Error: "failed to subscribe to tanda changes"})
		return
	}
	defer unsubscribe()

	push()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			break
		}

		var msg LiveMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Debug("invalid live message format", "error", err)
			continue
		}
		if msg.Type == LiveRefresh {
			push()
		}
	}

	slog.Info("live websocket disconnected", "tanda_id", key.TandaID)
}
