package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/protocol"
)

// Hub maps connected players to their outbound channels. Pushes to
// players without a connection are dropped; durable delivery goes
// through mail instead.
type Hub struct {
	mu    sync.RWMutex
	conns map[snowflake.ID]chan []byte
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[snowflake.ID]chan []byte),
	}
}

// Register binds a player to an outbound channel, replacing any earlier
// connection. The previous channel stays open: its connection may still
// be mid-request and about to send an ack, so closing it here could
// panic that send. The old writer goroutine winds down on its own when
// its connection drops.
func (h *Hub) Register(playerID snowflake.ID, out chan []byte) {
	h.mu.Lock()
	_, replaced := h.conns[playerID]
	h.conns[playerID] = out
	h.mu.Unlock()

	if replaced {
		slog.Info("Replaced existing connection",
			slog.String("type", "sys"),
			slog.String("player_id", playerID.String()))
	}
}

// Unregister removes the binding only if it still points at the given
// channel, so a reconnect does not unregister its replacement.
func (h *Hub) Unregister(playerID snowflake.ID, out chan []byte) {
	h.mu.Lock()
	if current, ok := h.conns[playerID]; ok && current == out {
		delete(h.conns, playerID)
	}
	h.mu.Unlock()
}

// Push sends a notification to one player if connected. A full channel
// drops the message rather than blocking economy code on a slow socket.
func (h *Hub) Push(playerID snowflake.ID, msg protocol.Notification) {
	h.mu.RLock()
	out, ok := h.conns[playerID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal notification",
			slog.String("player_id", playerID.String()),
			slog.String("msg_type", msg.Type),
			slog.String("error", err.Error()))
		return
	}

	select {
	case out <- b:
	default:
		slog.Warn("Dropped notification for slow connection",
			slog.String("player_id", playerID.String()),
			slog.String("msg_type", msg.Type))
	}
}

// Connected reports whether the player currently has a connection.
func (h *Hub) Connected(playerID snowflake.ID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[playerID]
	return ok
}
